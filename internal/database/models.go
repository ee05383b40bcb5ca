package database

import (
	"time"

	"github.com/uptrace/bun"
)

// User is the persisted account row.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID            int64     `bun:"id,pk,autoincrement"`
	Email         string    `bun:"email,notnull"`
	PasswordHash  string    `bun:"password_hash,notnull"`
	EmailVerified bool      `bun:"email_verified,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
	UpdatedAt     time.Time `bun:"updated_at,notnull"`
}

// Session is a server-side login session referenced by the session cookie.
type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:s"`

	ID        string    `bun:"id,pk"`
	UserID    int64     `bun:"user_id,notnull"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

// AuthToken stores only the sha256 hash of a single-use emailed token.
type AuthToken struct {
	bun.BaseModel `bun:"table:auth_tokens,alias:t"`

	TokenHash string    `bun:"token_hash,pk"`
	UserID    int64     `bun:"user_id,notnull"`
	Type      string    `bun:"type,notnull"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

// RateLimit is one fixed-window counter keyed by (identifier, action).
type RateLimit struct {
	bun.BaseModel `bun:"table:rate_limits,alias:rl"`

	Identifier string    `bun:"identifier,pk"`
	Action     string    `bun:"action,pk"`
	Count      int       `bun:"count,notnull"`
	ResetAt    time.Time `bun:"reset_at,notnull"`
}
