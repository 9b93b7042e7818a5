package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoomStatusActive   = "active"
	RoomStatusArchived = "archived"
	RoomStatusDeleted  = "deleted"
)

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Room is a collaborative session. The primary key is the human-shareable
// short code handed out to participants, not a uuid.
type Room struct {
	ID                 string  `gorm:"primaryKey;size:64"`
	Title              string  `gorm:"not null"`
	Status             string  `gorm:"not null;default:'active';check:status IN ('active','archived','deleted')"`
	NarrationSessionID *string `gorm:"index"`
	CurrentPersona     string
	AIThinking         bool       `gorm:"not null;default:false"`
	CreatedBy          *uuid.UUID `gorm:"type:uuid"`
	CreatedAt          time.Time
	UpdatedAt          time.Time

	Creator *User `gorm:"foreignKey:CreatedBy;constraint:OnDelete:SET NULL"`
}

// RoomMembership joins a user to a room. One row per (room, user) pair,
// upserted on rejoin; leaving flips IsActive instead of deleting.
type RoomMembership struct {
	RoomID     string    `gorm:"primaryKey;size:64"`
	UserID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	Role       string    `gorm:"not null;default:'member';check:role IN ('admin','member')"`
	IsActive   bool      `gorm:"not null;default:true"`
	JoinedAt   time.Time
	LastSeenAt time.Time
	LastReadAt time.Time

	User User `gorm:"foreignKey:UserID"`
	Room Room `gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE"`
}
