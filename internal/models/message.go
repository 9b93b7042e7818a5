package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
	MessageRoleSystem    = "system"
)

const (
	ProvenanceLocal    = "local"
	ProvenanceNarrator = "narrator"
	ProvenanceSystem   = "system"
)

// Message is an append-only chat turn. Rows are never updated or deleted
// outside of a room cascade delete. Seq breaks ordering ties between rows
// that share a creation timestamp.
type Message struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Seq        int64      `gorm:"autoIncrement;uniqueIndex"`
	RoomID     string     `gorm:"size:64;not null;index"`
	UserID     *uuid.UUID `gorm:"type:uuid"`
	SenderName string     // display name snapshot at send time
	Role       string     `gorm:"not null;check:role IN ('user','assistant','system')"`
	Persona    string
	Content    string     `gorm:"not null"`
	Provenance string     `gorm:"not null;default:'local';check:provenance IN ('local','narrator','system')"`
	ProposalID *uuid.UUID `gorm:"type:uuid"`
	Metadata   string     `gorm:"type:jsonb;default:'{}'"`
	CreatedAt  time.Time

	User *User `gorm:"foreignKey:UserID;constraint:OnDelete:SET NULL"`
	Room Room  `gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE"`
}
