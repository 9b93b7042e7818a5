package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"council/internal/database"
	"council/internal/models"
	"council/internal/narrator"
	"council/internal/presence"
)

// Unambiguous alphabet for room share codes (no 0/O, 1/I/l).
const codeAlphabet = "abcdefghjkmnpqrstuvwxyz23456789"

const (
	codeLength      = 8
	codeRetries     = 5
	recentMessages  = 50
	unavailableText = "The narrator is unavailable right now. Your message has been recorded."
)

// Rooms is the session orchestrator. It is the only component that talks to
// the narration service; everything it persists goes through the gateway.
type Rooms struct {
	store    *database.Store
	ledger   *Ledger
	voting   *Voting
	narrator *narrator.Client
	typing   *presence.Tracker
}

func NewRooms(store *database.Store, ledger *Ledger, voting *Voting, nc *narrator.Client, typing *presence.Tracker) *Rooms {
	return &Rooms{store: store, ledger: ledger, voting: voting, narrator: nc, typing: typing}
}

func newRoomCode() (string, error) {
	b := make([]byte, codeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}

// CreateRoom allocates a share code and atomically creates the room, the
// creator's admin membership and the audit entry. Code collisions are
// retried a handful of times; the last attempt appends a uuid fragment,
// which cannot collide.
func (r *Rooms) CreateRoom(ctx context.Context, creator *models.User, title, persona string) (*models.Room, error) {
	if strings.TrimSpace(title) == "" {
		return nil, validationf("title is required")
	}

	for attempt := 0; ; attempt++ {
		code, err := newRoomCode()
		if err != nil {
			return nil, fmt.Errorf("generate room code: %w", err)
		}
		if attempt >= codeRetries {
			code = code + "-" + uuid.NewString()[:8]
		}

		creatorID := creator.ID
		room := models.Room{
			ID:             code,
			Title:          title,
			Status:         models.RoomStatusActive,
			CurrentPersona: persona,
			CreatedBy:      &creatorID,
			CreatedAt:      time.Now(),
		}
		err = r.store.Atomic(ctx, func(tx *gorm.DB) error {
			if err := tx.Create(&room).Error; err != nil {
				return err
			}
			if err := upsertMembershipTx(tx, room.ID, creatorID, models.RoleAdmin); err != nil {
				return err
			}
			return tx.Create(&models.AuditEntry{
				RoomID:    room.ID,
				UserID:    &creatorID,
				Action:    "room.create",
				Detail:    title,
				CreatedAt: time.Now(),
			}).Error
		})
		if err == nil {
			return &room, nil
		}
		if database.IsUniqueViolation(err) && attempt <= codeRetries {
			continue
		}
		return nil, fmt.Errorf("create room: %w", err)
	}
}

func (r *Rooms) getRoom(ctx context.Context, roomID string) (*models.Room, error) {
	var room models.Room
	err := r.store.DB(ctx).First(&room, "id = ?", roomID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load room: %w", err)
	}
	if room.Status == models.RoomStatusDeleted {
		return nil, ErrRoomNotFound
	}
	return &room, nil
}

func (r *Rooms) requireMember(ctx context.Context, roomID string, userID uuid.UUID) (*models.Room, string, error) {
	room, err := r.getRoom(ctx, roomID)
	if err != nil {
		return nil, "", err
	}
	role, err := r.ledger.GetRole(ctx, roomID, userID)
	if err != nil {
		return nil, "", err
	}
	if role == "" {
		return nil, "", ErrNotMember
	}
	return room, role, nil
}

func (r *Rooms) requireAdmin(ctx context.Context, roomID string, userID uuid.UUID) (*models.Room, error) {
	room, role, err := r.requireMember(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if role != models.RoleAdmin {
		return nil, ErrForbidden
	}
	return room, nil
}

// RequireMember confirms the room exists and the caller holds an active
// membership, so a request against a missing room reads as not-found, not
// forbidden. RequireAdmin additionally demands the admin role.
func (r *Rooms) RequireMember(ctx context.Context, roomID string, userID uuid.UUID) error {
	_, _, err := r.requireMember(ctx, roomID, userID)
	return err
}

func (r *Rooms) RequireAdmin(ctx context.Context, roomID string, userID uuid.UUID) error {
	_, err := r.requireAdmin(ctx, roomID, userID)
	return err
}

// ResolveRoomID maps a room id or a narration-session alias to the
// canonical room id. The facts tool uses this to attach annotations without
// knowing which identifier it holds.
func (r *Rooms) ResolveRoomID(ctx context.Context, idOrAlias string) (string, error) {
	if room, err := r.getRoom(ctx, idOrAlias); err == nil {
		return room.ID, nil
	} else if !errors.Is(err, ErrRoomNotFound) {
		return "", err
	}
	var room models.Room
	err := r.store.DB(ctx).
		Where("narration_session_id = ? AND status <> ?", idOrAlias, models.RoomStatusDeleted).
		First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrRoomNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve room: %w", err)
	}
	return room.ID, nil
}

// RoomState is everything the polling client needs in one fetch.
type RoomState struct {
	Room      *models.Room            `json:"room"`
	Members   []models.RoomMembership `json:"members"`
	Messages  []models.Message        `json:"messages"`
	Proposals []models.Proposal       `json:"proposals"`
	Typing    []string                `json:"typing"`
}

// RoomState loads the room, participants, recent messages and proposals
// (after the lazy expiry sweep), plus the ephemeral typing list. Reading
// the room also refreshes the caller's durable presence and read marker.
func (r *Rooms) RoomState(ctx context.Context, roomID string, userID uuid.UUID) (*RoomState, error) {
	room, _, err := r.requireMember(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if err := r.ledger.TouchPresence(ctx, roomID, userID); err != nil {
		return nil, fmt.Errorf("touch presence: %w", err)
	}
	if err := r.ledger.MarkRead(ctx, roomID, userID); err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}

	messages, err := r.RecentMessages(ctx, roomID, recentMessages)
	if err != nil {
		return nil, err
	}
	proposals, err := r.voting.ListProposals(ctx, roomID, false)
	if err != nil {
		return nil, err
	}
	members, err := r.ledger.ListMembers(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}

	return &RoomState{
		Room:      room,
		Members:   members,
		Messages:  messages,
		Proposals: proposals,
		Typing:    r.typing.Active(roomID),
	}, nil
}

// RecentMessages returns the last limit messages in chronological order.
// Seq breaks ties between equal timestamps.
func (r *Rooms) RecentMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = recentMessages
	}
	var messages []models.Message
	err := r.store.DB(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC, seq DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// PostResult carries the outcome of one chat turn. Assistant is nil for a
// plain broadcast; on narration failure it holds the synthesized system
// notice instead of an answer.
type PostResult struct {
	UserMessage *models.Message `json:"user_message"`
	Assistant   *models.Message `json:"assistant,omitempty"`
}

// PostMessage records the user's chat turn and, when the turn addresses a
// persona, relays it to the narration service. The user's own message is
// durably written before any narration work, so upstream failure can never
// lose it. The room's AI-thinking flag is cleared on every exit path.
func (r *Rooms) PostMessage(ctx context.Context, roomID string, user *models.User, content, persona string) (*PostResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, validationf("message content is required")
	}
	room, _, err := r.requireMember(ctx, roomID, user.ID)
	if err != nil {
		return nil, err
	}
	if room.Status != models.RoomStatusActive {
		return nil, validationf("room is not active")
	}

	uid := user.ID
	userMsg := models.Message{
		RoomID:     roomID,
		UserID:     &uid,
		SenderName: user.DisplayName,
		Role:       models.MessageRoleUser,
		Persona:    persona,
		Content:    content,
		Provenance: models.ProvenanceLocal,
		CreatedAt:  time.Now(),
	}
	if err := r.store.DB(ctx).Create(&userMsg).Error; err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	_ = r.ledger.TouchPresence(ctx, roomID, user.ID)
	r.typing.Forget(roomID, user.DisplayName)

	result := &PostResult{UserMessage: &userMsg}
	if persona == "" {
		// Broadcast to the room, no narration.
		return result, nil
	}

	assistant := r.narrate(ctx, room, persona, content)
	if assistant != nil {
		if err := r.store.DB(ctx).Create(assistant).Error; err != nil {
			return nil, fmt.Errorf("save narration message: %w", err)
		}
		result.Assistant = assistant
	}
	return result, nil
}

// narrate runs the resilience-wrapped narration call and returns the
// message to append: the narrator's answer, or the local unavailable
// notice. It never returns an error; the user's turn is already saved.
func (r *Rooms) narrate(ctx context.Context, room *models.Room, target, content string) *models.Message {
	if !r.narrator.Configured() {
		return systemNotice(room.ID, target, unavailableText)
	}

	r.setThinking(ctx, room.ID, true)
	defer r.setThinking(ctx, room.ID, false)

	sessionID, err := r.ensureSession(ctx, room, target)
	if err != nil {
		log.Warn().Err(err).Str("room", room.ID).Msg("narration session unavailable")
		return systemNotice(room.ID, target, unavailableText)
	}

	reply, err := r.narrator.SendMessage(ctx, sessionID, content)
	if err != nil {
		log.Warn().Err(err).Str("room", room.ID).Msg("narration send failed")
		return systemNotice(room.ID, target, unavailableText)
	}
	if reply.NewSessionID != "" && reply.NewSessionID != sessionID {
		if err := r.store.DB(ctx).Model(&models.Room{}).
			Where("id = ?", room.ID).
			Update("narration_session_id", reply.NewSessionID).Error; err != nil {
			log.Error().Err(err).Str("room", room.ID).Msg("persisting rotated narration session failed")
		}
	}

	return &models.Message{
		RoomID:     room.ID,
		SenderName: target,
		Role:       models.MessageRoleAssistant,
		Persona:    target,
		Content:    reply.Answer,
		Provenance: models.ProvenanceNarrator,
		CreatedAt:  time.Now(),
	}
}

func (r *Rooms) ensureSession(ctx context.Context, room *models.Room, persona string) (string, error) {
	if room.NarrationSessionID != nil && *room.NarrationSessionID != "" {
		return *room.NarrationSessionID, nil
	}
	sessionID, err := r.narrator.CreateSession(ctx, persona, room.Title)
	if err != nil {
		return "", err
	}
	if err := r.store.DB(ctx).Model(&models.Room{}).
		Where("id = ?", room.ID).
		Update("narration_session_id", sessionID).Error; err != nil {
		return "", fmt.Errorf("persist narration session: %w", err)
	}
	room.NarrationSessionID = &sessionID
	return sessionID, nil
}

func (r *Rooms) setThinking(ctx context.Context, roomID string, thinking bool) {
	// Deliberately not the request context: the flag must clear even when
	// the narration call was cancelled or timed out.
	if err := r.store.DB(context.WithoutCancel(ctx)).Model(&models.Room{}).
		Where("id = ?", roomID).
		Update("ai_thinking", thinking).Error; err != nil {
		log.Error().Err(err).Str("room", roomID).Bool("thinking", thinking).Msg("updating ai_thinking failed")
	}
}

func systemNotice(roomID, persona, text string) *models.Message {
	return &models.Message{
		RoomID:     roomID,
		SenderName: "system",
		Role:       models.MessageRoleSystem,
		Persona:    persona,
		Content:    text,
		Provenance: models.ProvenanceSystem,
		CreatedAt:  time.Now(),
	}
}

// JoinRoom adds (or reactivates) a member with the default member role.
func (r *Rooms) JoinRoom(ctx context.Context, roomID string, userID uuid.UUID) error {
	room, err := r.getRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Status != models.RoomStatusActive {
		return validationf("room is not active")
	}
	return r.ledger.UpsertMembership(ctx, roomID, userID, models.RoleMember)
}

// LeaveRoom deactivates the membership and clears any typing state.
func (r *Rooms) LeaveRoom(ctx context.Context, roomID string, user *models.User) error {
	if _, _, err := r.requireMember(ctx, roomID, user.ID); err != nil {
		return err
	}
	if err := r.ledger.SetMemberInactive(ctx, roomID, user.ID); err != nil {
		return fmt.Errorf("leave room: %w", err)
	}
	r.typing.Forget(roomID, user.DisplayName)
	return nil
}

// TouchTyping records ephemeral typing state for an active member.
func (r *Rooms) TouchTyping(ctx context.Context, roomID string, user *models.User) error {
	if _, _, err := r.requireMember(ctx, roomID, user.ID); err != nil {
		return err
	}
	r.typing.Touch(roomID, user.DisplayName)
	return nil
}

// RenameRoom sets a new title. Admin only; re-setting the same title is a
// no-op success.
func (r *Rooms) RenameRoom(ctx context.Context, roomID string, userID uuid.UUID, title string) (*models.Room, error) {
	if strings.TrimSpace(title) == "" {
		return nil, validationf("title is required")
	}
	room, err := r.requireAdmin(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if room.Title == title {
		return room, nil
	}
	err = r.store.Atomic(ctx, func(tx *gorm.DB) error {
		if err := tx.Model(&models.Room{}).Where("id = ?", roomID).Update("title", title).Error; err != nil {
			return err
		}
		return tx.Create(&models.AuditEntry{
			RoomID:    roomID,
			UserID:    &userID,
			Action:    "room.rename",
			Detail:    title,
			CreatedAt: time.Now(),
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("rename room: %w", err)
	}
	room.Title = title
	return room, nil
}

// SwitchPersona changes which persona the room currently addresses. Any
// active member may switch; re-setting the same persona is a no-op.
func (r *Rooms) SwitchPersona(ctx context.Context, roomID string, userID uuid.UUID, persona string) (*models.Room, error) {
	room, _, err := r.requireMember(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if room.CurrentPersona == persona {
		return room, nil
	}
	if err := r.store.DB(ctx).Model(&models.Room{}).
		Where("id = ?", roomID).
		Update("current_persona", persona).Error; err != nil {
		return nil, fmt.Errorf("switch persona: %w", err)
	}
	room.CurrentPersona = persona
	return room, nil
}

// ArchiveRoom moves an active room to archived. Admin only.
func (r *Rooms) ArchiveRoom(ctx context.Context, roomID string, userID uuid.UUID) error {
	if _, err := r.requireAdmin(ctx, roomID, userID); err != nil {
		return err
	}
	return r.store.DB(ctx).Model(&models.Room{}).
		Where("id = ?", roomID).
		Update("status", models.RoomStatusArchived).Error
}

// CloseProposal is the admin-facing close path: flip the proposal to
// closed, tally results, append the closure commentary to the message log
// and link it back to the proposal. The link uses first-writer-wins
// semantics, so racing closes cannot overwrite each other's commentary,
// and a proposal that already carries commentary is never announced twice.
func (r *Rooms) CloseProposal(ctx context.Context, roomID string, userID uuid.UUID, proposalID uuid.UUID) (*models.Proposal, *Results, error) {
	room, err := r.requireAdmin(ctx, roomID, userID)
	if err != nil {
		return nil, nil, err
	}

	proposal, err := r.voting.CloseProposal(ctx, roomID, proposalID, nil)
	if err != nil {
		return nil, nil, err
	}
	results, err := r.voting.ComputeResults(ctx, roomID, proposalID)
	if err != nil {
		return nil, nil, err
	}

	// An earlier close already announced the outcome; return the tally
	// without appending another commentary or dialing the narrator again.
	if proposal.ResultMessageID != nil {
		return proposal, results, nil
	}

	commentary := r.closureCommentary(ctx, room, proposal, results)
	commentary.ProposalID = &proposal.ID
	if err := r.store.DB(ctx).Create(commentary).Error; err != nil {
		return nil, nil, fmt.Errorf("save closure message: %w", err)
	}
	proposal, err = r.voting.CloseProposal(ctx, roomID, proposalID, &commentary.ID)
	if err != nil {
		return nil, nil, err
	}
	return proposal, results, nil
}

// closureCommentary asks the narrator to comment on the outcome when a
// session exists, and falls back to a plain local summary otherwise.
func (r *Rooms) closureCommentary(ctx context.Context, room *models.Room, proposal *models.Proposal, results *Results) *models.Message {
	summary := summarizeResults(proposal, results)
	if !r.narrator.Configured() || room.NarrationSessionID == nil || room.CurrentPersona == "" {
		return systemNotice(room.ID, room.CurrentPersona, summary)
	}

	r.setThinking(ctx, room.ID, true)
	defer r.setThinking(ctx, room.ID, false)

	reply, err := r.narrator.SendMessage(ctx, *room.NarrationSessionID, summary)
	if err != nil {
		log.Warn().Err(err).Str("room", room.ID).Msg("closure commentary failed")
		return systemNotice(room.ID, room.CurrentPersona, summary)
	}
	return &models.Message{
		RoomID:     room.ID,
		SenderName: room.CurrentPersona,
		Role:       models.MessageRoleAssistant,
		Persona:    room.CurrentPersona,
		Content:    reply.Answer,
		Provenance: models.ProvenanceNarrator,
		CreatedAt:  time.Now(),
	}
}

func summarizeResults(proposal *models.Proposal, results *Results) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Voting on %q has closed with %d vote(s).", proposal.Title, results.TotalVotes)
	for _, opt := range results.Options {
		fmt.Fprintf(&b, " %s: %d.", opt.Label, opt.Count)
	}
	if results.Winner != nil {
		fmt.Fprintf(&b, " Result: %s.", results.Winner.Label)
	} else {
		b.WriteString(" No option carried a majority.")
	}
	return b.String()
}

// DeleteRoom removes the room and everything under it in one transaction:
// votes, options, proposals, messages, memberships, then the room row.
// The narration session is torn down best-effort afterwards.
func (r *Rooms) DeleteRoom(ctx context.Context, roomID string, userID uuid.UUID) error {
	room, err := r.requireAdmin(ctx, roomID, userID)
	if err != nil {
		return err
	}

	err = r.store.Atomic(ctx, func(tx *gorm.DB) error {
		proposalIDs := tx.Model(&models.Proposal{}).Select("id").Where("room_id = ?", roomID)
		if err := tx.Where("proposal_id IN (?)", proposalIDs).Delete(&models.Vote{}).Error; err != nil {
			return err
		}
		if err := tx.Where("proposal_id IN (?)", proposalIDs).Delete(&models.ProposalOption{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", roomID).Delete(&models.Proposal{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", roomID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", roomID).Delete(&models.RoomMembership{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.Room{}, "id = ?", roomID).Error; err != nil {
			return err
		}
		return tx.Create(&models.AuditEntry{
			RoomID:    roomID,
			UserID:    &userID,
			Action:    "room.delete",
			Detail:    room.Title,
			CreatedAt: time.Now(),
		}).Error
	})
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}

	if r.narrator.Configured() && room.NarrationSessionID != nil {
		if err := r.narrator.DeleteSession(ctx, *room.NarrationSessionID); err != nil {
			log.Warn().Err(err).Str("room", roomID).Msg("narration session cleanup failed")
		}
	}
	return nil
}
