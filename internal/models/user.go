package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Handle       string    `gorm:"uniqueIndex;not null"` // lowercase-normalized
	DisplayName  string    `gorm:"not null"`
	PasswordHash string
	IsActive     bool `gorm:"not null;default:true"`
	LastLoginAt  *time.Time
	CreatedAt    time.Time
}
