package service

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"council/internal/database"
	"council/internal/models"
	"council/internal/narrator"
	"council/internal/presence"
)

// testEnv wires the full service graph against a real postgres. Tests that
// need the store skip when the database is unreachable, the same way the
// router tests do.
type testEnv struct {
	store  *database.Store
	ledger *Ledger
	voting *Voting
	rooms  *Rooms
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		dsn = "host=localhost user=postgres password=postgres dbname=council_test port=5432 sslmode=disable TimeZone=UTC"
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Skipf("skip: postgres not available: %v", err)
	}
	if err := database.Migrate(gdb); err != nil {
		t.Skipf("skip: migrate failed: %v", err)
	}
	return gdb
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newEnvWithNarrator(openTestDB(t), narrator.New("", "", time.Second))
}

func newEnvWithNarrator(gdb *gorm.DB, nc *narrator.Client) *testEnv {
	store := database.NewStore(gdb)
	ledger := NewLedger(store)
	voting := NewVoting(store)
	rooms := NewRooms(store, ledger, voting, nc, presence.NewTracker(5*time.Second))
	return &testEnv{store: store, ledger: ledger, voting: voting, rooms: rooms}
}

func (e *testEnv) user(t *testing.T, name string) *models.User {
	t.Helper()
	handle := name + "-" + uuid.NewString()[:8]
	u, err := e.ledger.GetOrCreateUserByHandle(context.Background(), handle, name)
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u
}

func (e *testEnv) room(t *testing.T, creator *models.User) *models.Room {
	t.Helper()
	room, err := e.rooms.CreateRoom(context.Background(), creator, "Siege of Aldenmoor", "Narrator")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	return room
}

func (e *testEnv) proposal(t *testing.T, room *models.Room, creator *models.User, options []string, duration int) *models.Proposal {
	t.Helper()
	p, err := e.voting.CreateProposal(context.Background(), room.ID, "Test proposal", "", options, creator.ID, duration)
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}
	return p
}

func (e *testEnv) count(t *testing.T, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	if err := e.store.DB(context.Background()).Model(model).Where(query, args...).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func (e *testEnv) systemMessage(t *testing.T, roomID string) *models.Message {
	t.Helper()
	msg := systemNotice(roomID, "", "commentary")
	if err := e.store.DB(context.Background()).Create(msg).Error; err != nil {
		t.Fatalf("insert message: %v", err)
	}
	return msg
}

// expiredProposal inserts a nominally-active proposal whose window has
// already passed, which the API cannot produce.
func (e *testEnv) expiredProposal(t *testing.T, room *models.Room, creator *models.User) *models.Proposal {
	t.Helper()
	creatorID := creator.ID
	p := models.Proposal{
		RoomID:        room.ID,
		Title:         "Already over",
		CreatedBy:     &creatorID,
		Status:        models.ProposalStatusActive,
		DurationHours: 1,
		EndsAt:        time.Now().Add(-time.Minute),
		CreatedAt:     time.Now().Add(-2 * time.Hour),
	}
	if err := e.store.DB(context.Background()).Create(&p).Error; err != nil {
		t.Fatalf("insert expired proposal: %v", err)
	}
	for i, label := range []string{"Yes", "No"} {
		opt := models.ProposalOption{ProposalID: p.ID, Label: label, Position: i}
		if err := e.store.DB(context.Background()).Create(&opt).Error; err != nil {
			t.Fatalf("insert option: %v", err)
		}
		p.Options = append(p.Options, opt)
	}
	return &p
}
