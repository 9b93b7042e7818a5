package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ProposalStatusActive    = "active"
	ProposalStatusClosed    = "closed"
	ProposalStatusCancelled = "cancelled"
)

const (
	MinDurationHours = 1
	MaxDurationHours = 168
)

// Proposal is a time-boxed decision item scoped to a room. Status moves
// active -> closed (explicit close or lazy expiry) and never back.
// The cancelled status is reserved; nothing transitions into it yet.
type Proposal struct {
	ID              uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	RoomID          string    `gorm:"size:64;not null;index"`
	Title           string    `gorm:"not null"`
	Description     string
	CreatedBy       *uuid.UUID `gorm:"type:uuid"`
	Status          string     `gorm:"not null;default:'active';check:status IN ('active','closed','cancelled')"`
	DurationHours   int        `gorm:"not null;check:duration_hours BETWEEN 1 AND 168"`
	EndsAt          time.Time  `gorm:"not null"`
	ClosedAt        *time.Time
	ResultMessageID *uuid.UUID `gorm:"type:uuid"`
	CreatedAt       time.Time

	Room    Room             `gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE"`
	Creator *User            `gorm:"foreignKey:CreatedBy;constraint:OnDelete:SET NULL"`
	Options []ProposalOption `gorm:"foreignKey:ProposalID"`
}

// ProposalOption is one selectable choice. Created with the proposal,
// immutable thereafter. Position is the caller-supplied ordering.
type ProposalOption struct {
	ID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ProposalID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_option_position,priority:1"`
	Label      string    `gorm:"not null"`
	Position   int       `gorm:"not null;uniqueIndex:idx_option_position,priority:2"`

	Proposal Proposal `gorm:"foreignKey:ProposalID;constraint:OnDelete:CASCADE"`
}

// Vote holds a user's current choice on a proposal. The composite primary
// key enforces at most one live vote per (proposal, user); re-voting
// overwrites the row.
type Vote struct {
	ProposalID uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	OptionID   uuid.UUID `gorm:"type:uuid;not null"`
	CastAt     time.Time `gorm:"not null"`

	Proposal Proposal       `gorm:"foreignKey:ProposalID;constraint:OnDelete:CASCADE"`
	User     User           `gorm:"foreignKey:UserID"`
	Option   ProposalOption `gorm:"foreignKey:OptionID"`
}
