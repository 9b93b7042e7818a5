package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"council/internal/database"
	"council/internal/models"
)

// Ledger owns users, memberships and durable presence. It performs no
// authorization itself; GetRole/IsMember are the gates the orchestrator
// consults before privileged actions.
type Ledger struct {
	store *database.Store
}

func NewLedger(store *database.Store) *Ledger {
	return &Ledger{store: store}
}

// GetOrCreateUserByHandle looks a user up by lowercase-normalized handle and
// creates the row when absent. When two callers race on the same new handle,
// the loser's insert hits the unique index and falls back to reading the
// winner's row, so both callers get the same user id.
func (l *Ledger) GetOrCreateUserByHandle(ctx context.Context, handle, displayName string) (*models.User, error) {
	normalized := strings.ToLower(strings.TrimSpace(handle))
	if normalized == "" {
		return nil, validationf("handle is required")
	}
	if displayName == "" {
		displayName = normalized
	}

	var user models.User
	err := l.store.DB(ctx).Where("handle = ?", normalized).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	user = models.User{
		Handle:      normalized,
		DisplayName: displayName,
		IsActive:    true,
		CreatedAt:   time.Now(),
	}
	err = l.store.DB(ctx).Create(&user).Error
	if err == nil {
		return &user, nil
	}
	if database.IsUniqueViolation(err) {
		var winner models.User
		if err := l.store.DB(ctx).Where("handle = ?", normalized).First(&winner).Error; err != nil {
			return nil, fmt.Errorf("re-read user after race: %w", err)
		}
		return &winner, nil
	}
	return nil, fmt.Errorf("create user: %w", err)
}

// TouchLogin stamps the user's last login time.
func (l *Ledger) TouchLogin(ctx context.Context, userID uuid.UUID) error {
	return l.store.DB(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("last_login_at", time.Now()).Error
}

// UpsertMembership inserts the (room, user) membership row or, when it
// already exists, reactivates it and refreshes last_seen_at. The role is
// applied only on first insert; rejoining never changes an existing role,
// so an admin who leaves and comes back stays admin. upsertMembershipTx is
// the transactional form used inside room creation.
func (l *Ledger) UpsertMembership(ctx context.Context, roomID string, userID uuid.UUID, role string) error {
	return l.store.Atomic(ctx, func(tx *gorm.DB) error {
		return upsertMembershipTx(tx, roomID, userID, role)
	})
}

func upsertMembershipTx(tx *gorm.DB, roomID string, userID uuid.UUID, role string) error {
	now := time.Now()
	m := models.RoomMembership{
		RoomID:     roomID,
		UserID:     userID,
		Role:       role,
		IsActive:   true,
		JoinedAt:   now,
		LastSeenAt: now,
		LastReadAt: now,
	}
	return database.Upsert(tx, &m,
		[]string{"room_id", "user_id"},
		[]string{"is_active", "last_seen_at"},
	)
}

// TouchPresence refreshes last_seen_at for an existing membership. The
// GREATEST guard keeps the timestamp from ever moving backwards.
func (l *Ledger) TouchPresence(ctx context.Context, roomID string, userID uuid.UUID) error {
	return l.store.DB(ctx).Model(&models.RoomMembership{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Update("last_seen_at", gorm.Expr("GREATEST(last_seen_at, ?)", time.Now())).Error
}

// MarkRead moves last_read_at forward, used by the polling client to track
// unread counts.
func (l *Ledger) MarkRead(ctx context.Context, roomID string, userID uuid.UUID) error {
	return l.store.DB(ctx).Model(&models.RoomMembership{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Update("last_read_at", gorm.Expr("GREATEST(last_read_at, ?)", time.Now())).Error
}

// SetMemberInactive marks the membership inactive on an explicit leave.
// History stays in place.
func (l *Ledger) SetMemberInactive(ctx context.Context, roomID string, userID uuid.UUID) error {
	return l.store.DB(ctx).Model(&models.RoomMembership{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Update("is_active", false).Error
}

// GetRole returns the caller's role in the room, or "" when there is no
// active membership.
func (l *Ledger) GetRole(ctx context.Context, roomID string, userID uuid.UUID) (string, error) {
	var m models.RoomMembership
	err := l.store.DB(ctx).
		Where("room_id = ? AND user_id = ? AND is_active = true", roomID, userID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get role: %w", err)
	}
	return m.Role, nil
}

func (l *Ledger) IsMember(ctx context.Context, roomID string, userID uuid.UUID) (bool, error) {
	role, err := l.GetRole(ctx, roomID, userID)
	return role != "", err
}

// ListMembers returns the active memberships of a room with users preloaded.
func (l *Ledger) ListMembers(ctx context.Context, roomID string) ([]models.RoomMembership, error) {
	var members []models.RoomMembership
	err := l.store.DB(ctx).
		Where("room_id = ? AND is_active = true", roomID).
		Preload("User").
		Order("joined_at ASC").
		Find(&members).Error
	return members, err
}

// RoomSummary is one row of a user's room list.
type RoomSummary struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Status         string    `json:"status"`
	CurrentPersona string    `json:"current_persona"`
	Role           string    `json:"role"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// ListRoomsForUser returns the rooms where the user holds an active
// membership, most recently active first. Activity is the latest message
// timestamp, falling back to the room's own update time for silent rooms.
func (l *Ledger) ListRoomsForUser(ctx context.Context, userID uuid.UUID, limit int) ([]RoomSummary, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []RoomSummary
	err := l.store.DB(ctx).
		Table("rooms").
		Select(`rooms.id, rooms.title, rooms.status, rooms.current_persona, rooms.created_at,
			room_memberships.role,
			COALESCE(MAX(messages.created_at), rooms.updated_at) AS last_activity_at`).
		Joins("JOIN room_memberships ON room_memberships.room_id = rooms.id").
		Joins("LEFT JOIN messages ON messages.room_id = rooms.id").
		Where("room_memberships.user_id = ? AND room_memberships.is_active = true", userID).
		Where("rooms.status <> ?", models.RoomStatusDeleted).
		Group("rooms.id, room_memberships.role").
		Order("last_activity_at DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rows, nil
}
