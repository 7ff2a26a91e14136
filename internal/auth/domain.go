// Package auth handles principal authentication: local credentials,
// API keys, and trusted-proxy identity headers.
package auth

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// User represents an authenticated user account.
type User struct {
	ID           int64
	Username     string
	FullName     string
	Email        string
	PasswordHash string
	IsActive     bool
	IsSuperuser  bool
	Preferences  json.RawMessage
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLoginAt  *time.Time
}

// APIKey is a long-lived machine credential. Only the bcrypt hash of
// the secret is stored; the plaintext is shown once at creation.
// RoleIDs narrows the key to a subset of the owner's roles.
type APIKey struct {
	ID         uuid.UUID  `json:"id"`
	Owner      string     `json:"owner"`
	SecretHash string     `json:"-"`
	Active     bool       `json:"active"`
	RoleIDs    []int64    `json:"role_ids"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}
