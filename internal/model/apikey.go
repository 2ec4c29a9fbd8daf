package model

import (
	"time"

	"github.com/google/uuid"
)

// APIKey is a stored credential that a user exchanges for a session
// token. Only the argon2id hash is persisted; the plaintext key is
// shown once at creation.
type APIKey struct {
	ID         uuid.UUID  `json:"id"`
	UserID     string     `json:"userId"`
	KeyHash    string     `json:"-"`
	Label      string     `json:"label,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
}
