package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditEntry is an append-only record of privileged actions, written in the
// same transaction as the mutation it describes.
type AuditEntry struct {
	ID        int64      `gorm:"primaryKey;autoIncrement"`
	RoomID    string     `gorm:"size:64;index"`
	UserID    *uuid.UUID `gorm:"type:uuid"`
	Action    string     `gorm:"not null"`
	Detail    string
	CreatedAt time.Time
}
