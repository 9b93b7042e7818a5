package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"council/internal/models"
	"council/internal/narrator"
)

func TestCreateRoomCodeShape(t *testing.T) {
	env := newTestEnv(t)
	creator := env.user(t, "creator")
	room := env.room(t, creator)

	if len(room.ID) < 4 || len(room.ID) > 64 {
		t.Fatalf("room code %q outside 4..64 chars", room.ID)
	}
	if room.Status != models.RoomStatusActive {
		t.Fatalf("new room status %q", room.Status)
	}
}

func TestPostMessageBroadcast(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creator := env.user(t, "creator")
	room := env.room(t, creator)

	result, err := env.rooms.PostMessage(ctx, room.ID, creator, "hello room", "")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if result.Assistant != nil {
		t.Fatal("broadcast should not produce an assistant message")
	}
	if result.UserMessage.SenderName != creator.DisplayName {
		t.Fatalf("sender snapshot = %q", result.UserMessage.SenderName)
	}
	if result.UserMessage.Provenance != models.ProvenanceLocal {
		t.Fatalf("provenance = %q", result.UserMessage.Provenance)
	}
}

func TestPostMessageNonMemberForbidden(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creator := env.user(t, "creator")
	room := env.room(t, creator)
	outsider := env.user(t, "outsider")

	_, err := env.rooms.PostMessage(ctx, room.ID, outsider, "let me in", "")
	if !errors.Is(err, ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
}

// Narration dead on both the primary and the retried call: the user's turn
// must survive, exactly one unavailable notice must follow it, and the
// thinking flag must be clear afterwards.
func TestNarrationFailureDegrades(t *testing.T) {
	gdb := openTestDB(t)
	// nothing listens here; every dial fails
	env := newEnvWithNarrator(gdb, narrator.New("http://127.0.0.1:1", "", 200*time.Millisecond))
	ctx := context.Background()
	creator := env.user(t, "creator")
	room := env.room(t, creator)

	result, err := env.rooms.PostMessage(ctx, room.ID, creator, "what happens next?", "Narrator")
	if err != nil {
		t.Fatalf("post must not fail on narration outage: %v", err)
	}
	if result.UserMessage == nil {
		t.Fatal("user message lost")
	}
	if result.Assistant == nil || result.Assistant.Role != models.MessageRoleSystem {
		t.Fatalf("expected system notice, got %+v", result.Assistant)
	}

	messages, err := env.rooms.RecentMessages(ctx, room.ID, 10)
	if err != nil {
		t.Fatalf("load messages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected user turn + notice, got %d messages", len(messages))
	}
	if messages[0].Role != models.MessageRoleUser || messages[1].Role != models.MessageRoleSystem {
		t.Fatalf("unexpected message order: %s then %s", messages[0].Role, messages[1].Role)
	}
	if messages[1].Provenance != models.ProvenanceSystem {
		t.Fatalf("notice provenance = %q", messages[1].Provenance)
	}

	var reloaded models.Room
	if err := env.store.DB(ctx).First(&reloaded, "id = ?", room.ID).Error; err != nil {
		t.Fatalf("reload room: %v", err)
	}
	if reloaded.AIThinking {
		t.Fatal("ai_thinking flag left set after failure")
	}
}

func TestNarrationSuccessAndSessionRotation(t *testing.T) {
	gdb := openTestDB(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/sessions":
			json.NewEncoder(w).Encode(map[string]string{"session_id": "sess-1"})
		default:
			json.NewEncoder(w).Encode(map[string]string{"answer": "The river rises.", "new_session_id": "sess-2"})
		}
	}))
	defer ts.Close()

	env := newEnvWithNarrator(gdb, narrator.New(ts.URL, "tok", 2*time.Second))
	ctx := context.Background()
	creator := env.user(t, "creator")
	room := env.room(t, creator)

	result, err := env.rooms.PostMessage(ctx, room.ID, creator, "scout the river", "Narrator")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if result.Assistant == nil || result.Assistant.Role != models.MessageRoleAssistant {
		t.Fatalf("expected assistant reply, got %+v", result.Assistant)
	}
	if result.Assistant.Content != "The river rises." {
		t.Fatalf("answer = %q", result.Assistant.Content)
	}
	if result.Assistant.Provenance != models.ProvenanceNarrator {
		t.Fatalf("provenance = %q", result.Assistant.Provenance)
	}

	var reloaded models.Room
	if err := env.store.DB(ctx).First(&reloaded, "id = ?", room.ID).Error; err != nil {
		t.Fatalf("reload room: %v", err)
	}
	if reloaded.NarrationSessionID == nil || *reloaded.NarrationSessionID != "sess-2" {
		t.Fatalf("rotated session not persisted: %v", reloaded.NarrationSessionID)
	}
	if reloaded.AIThinking {
		t.Fatal("ai_thinking flag left set after success")
	}
}

func TestRenameRoomGates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creator := env.user(t, "creator")
	room := env.room(t, creator)
	member := env.user(t, "member")
	if err := env.rooms.JoinRoom(ctx, room.ID, member.ID); err != nil {
		t.Fatalf("join: %v", err)
	}

	if _, err := env.rooms.RenameRoom(ctx, room.ID, member.ID, "Coup"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("member rename: expected ErrForbidden, got %v", err)
	}
	outsider := env.user(t, "outsider")
	if _, err := env.rooms.RenameRoom(ctx, room.ID, outsider.ID, "Coup"); !errors.Is(err, ErrNotMember) {
		t.Fatalf("outsider rename: expected ErrNotMember, got %v", err)
	}

	renamed, err := env.rooms.RenameRoom(ctx, room.ID, creator.ID, "The Longer Siege")
	if err != nil {
		t.Fatalf("admin rename: %v", err)
	}
	if renamed.Title != "The Longer Siege" {
		t.Fatalf("title = %q", renamed.Title)
	}
	// re-setting the same title is a no-op success
	if _, err := env.rooms.RenameRoom(ctx, room.ID, creator.ID, "The Longer Siege"); err != nil {
		t.Fatalf("idempotent rename: %v", err)
	}
}

func TestResolveRoomID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creator := env.user(t, "creator")
	room := env.room(t, creator)

	if got, err := env.rooms.ResolveRoomID(ctx, room.ID); err != nil || got != room.ID {
		t.Fatalf("resolve by id: %v %v", got, err)
	}

	alias := "narr-" + room.ID
	if err := env.store.DB(ctx).Model(&models.Room{}).Where("id = ?", room.ID).
		Update("narration_session_id", alias).Error; err != nil {
		t.Fatalf("set alias: %v", err)
	}
	if got, err := env.rooms.ResolveRoomID(ctx, alias); err != nil || got != room.ID {
		t.Fatalf("resolve by alias: %v %v", got, err)
	}

	if _, err := env.rooms.ResolveRoomID(ctx, "no-such-room"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestCloseProposalAttachesCommentary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.user(t, "admin")
	room := env.room(t, admin)
	p := env.proposal(t, room, admin, []string{"Hold", "Retreat"}, 24)

	if err := env.voting.CastVote(ctx, room.ID, p.ID, admin.ID, p.Options[0].ID); err != nil {
		t.Fatalf("vote: %v", err)
	}

	closed, results, err := env.rooms.CloseProposal(ctx, room.ID, admin.ID, p.ID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != models.ProposalStatusClosed {
		t.Fatalf("status = %q", closed.Status)
	}
	if results.Winner == nil || results.Winner.Label != "Hold" {
		t.Fatalf("winner = %+v", results.Winner)
	}
	if closed.ResultMessageID == nil {
		t.Fatal("commentary message not linked")
	}

	var commentary models.Message
	if err := env.store.DB(ctx).First(&commentary, "id = ?", *closed.ResultMessageID).Error; err != nil {
		t.Fatalf("load commentary: %v", err)
	}
	if commentary.ProposalID == nil || *commentary.ProposalID != p.ID {
		t.Fatal("commentary not tagged with the proposal")
	}

	// closing again must keep the original commentary link and must not
	// append a second commentary message
	again, _, err := env.rooms.CloseProposal(ctx, room.ID, admin.ID, p.ID)
	if err != nil {
		t.Fatalf("re-close: %v", err)
	}
	if *again.ResultMessageID != *closed.ResultMessageID {
		t.Fatal("re-close replaced the commentary link")
	}
	if n := env.count(t, &models.Message{}, "proposal_id = ?", p.ID); n != 1 {
		t.Fatalf("re-close appended more commentary: %d messages", n)
	}
}

func TestDeleteRoomCascades(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.user(t, "admin")
	room := env.room(t, admin)
	p := env.proposal(t, room, admin, []string{"A", "B"}, 24)
	if err := env.voting.CastVote(ctx, room.ID, p.ID, admin.ID, p.Options[0].ID); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if _, err := env.rooms.PostMessage(ctx, room.ID, admin, "soon to vanish", ""); err != nil {
		t.Fatalf("post: %v", err)
	}

	if err := env.rooms.DeleteRoom(ctx, room.ID, admin.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	for name, count := range map[string]int64{
		"votes":       env.count(t, &models.Vote{}, "proposal_id = ?", p.ID),
		"options":     env.count(t, &models.ProposalOption{}, "proposal_id = ?", p.ID),
		"proposals":   env.count(t, &models.Proposal{}, "room_id = ?", room.ID),
		"messages":    env.count(t, &models.Message{}, "room_id = ?", room.ID),
		"memberships": env.count(t, &models.RoomMembership{}, "room_id = ?", room.ID),
	} {
		if count != 0 {
			t.Fatalf("%s not cascaded: %d rows remain", name, count)
		}
	}

	if _, _, err := env.rooms.requireMember(ctx, room.ID, admin.ID); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound after delete, got %v", err)
	}
}

func TestTypingTrackedPerRoom(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creator := env.user(t, "creator")
	room := env.room(t, creator)

	if err := env.rooms.TouchTyping(ctx, room.ID, creator); err != nil {
		t.Fatalf("touch typing: %v", err)
	}
	state, err := env.rooms.RoomState(ctx, room.ID, creator.ID)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if len(state.Typing) != 1 || state.Typing[0] != creator.DisplayName {
		t.Fatalf("typing = %v", state.Typing)
	}
}
