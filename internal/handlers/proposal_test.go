package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"council/internal/database"
	"council/internal/middleware"
	"council/internal/models"
	"council/internal/narrator"
	"council/internal/presence"
	"council/internal/service"
)

type routerEnv struct {
	ledger *service.Ledger
	voting *service.Voting
	rooms  *service.Rooms
}

func newRouterEnv(t *testing.T) *routerEnv {
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
	store := database.NewStore(gdb)
	ledger := service.NewLedger(store)
	voting := service.NewVoting(store)
	rooms := service.NewRooms(store, ledger, voting, narrator.New("", "", time.Second), presence.NewTracker(5*time.Second))
	return &routerEnv{ledger: ledger, voting: voting, rooms: rooms}
}

func (e *routerEnv) user(t *testing.T, name string) *models.User {
	t.Helper()
	u, err := e.ledger.GetOrCreateUserByHandle(context.Background(), name+"-"+uuid.NewString()[:8], name)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

// proposalRouter mounts the proposal and action endpoints behind a stub
// identity, the way the auth middleware would present it.
func (e *routerEnv) proposalRouter(user *models.User) *gin.Engine {
	gin.SetMode(gin.TestMode)
	proposalH := NewProposalHandler(e.rooms, e.voting)
	actionH := NewActionHandler(e.rooms, e.voting, e.ledger)

	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set(middleware.IdentityKey, user) })
	r.GET("/rooms/:id/proposals", proposalH.List)
	r.POST("/rooms/:id/proposals", proposalH.Create)
	r.POST("/rooms/:id/actions", actionH.Dispatch)
	return r
}

func TestProposalRoutesMissingRoomIsNotFound(t *testing.T) {
	env := newRouterEnv(t)
	user := env.user(t, "caller")
	r := env.proposalRouter(user)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rooms/no-such-room/proposals", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("list on missing room = %d, want 404", w.Code)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/rooms/no-such-room/actions",
		strings.NewReader(`{"action":"presence"}`))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("presence action on missing room = %d, want 404", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/rooms/no-such-room/actions",
		strings.NewReader(`{"action":"create","title":"x","options":["a","b"],"duration_hours":1}`))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("create action on missing room = %d, want 404", w.Code)
	}
}

func TestProposalRoutesOutsiderIsForbidden(t *testing.T) {
	env := newRouterEnv(t)
	admin := env.user(t, "admin")
	room, err := env.rooms.CreateRoom(context.Background(), admin, "Siege of Aldenmoor", "Narrator")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	outsider := env.user(t, "outsider")
	r := env.proposalRouter(outsider)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rooms/"+room.ID+"/proposals", nil))
	if w.Code != http.StatusForbidden {
		t.Fatalf("list as outsider = %d, want 403", w.Code)
	}
}
