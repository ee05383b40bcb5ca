// Package admin holds the operations behind the authctl commands.
package admin

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/uptrace/bun"

	"github.com/smsinbox/site-api/internal/auth"
	"github.com/smsinbox/site-api/internal/ratelimit"
	"github.com/smsinbox/site-api/internal/user"
)

// SecretBytes is the length of a generated session secret.
const SecretBytes = 32

var validate = validator.New()

// NewUser describes an account seeded from the command line.
type NewUser struct {
	Email    string `validate:"required,email,max=254"`
	Password string
	Verified bool
}

// Validate applies the same email and password rules as signup.
func (u NewUser) Validate() error {
	if err := validate.Struct(u); err != nil {
		return auth.ErrInvalidEmail
	}
	return auth.ValidatePasswordStrength(u.Password)
}

// CreateUser inserts the account, marking it verified when asked.
func CreateUser(ctx context.Context, db bun.IDB, hasher *auth.PasswordHasher, u NewUser) (*user.User, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}

	hash, err := hasher.Hash(u.Password)
	if err != nil {
		return nil, err
	}

	users := user.NewRepository(db)
	created, err := users.Create(ctx, u.Email, hash)
	if err != nil {
		if errors.Is(err, user.ErrDuplicateEmail) {
			return nil, fmt.Errorf("%s is already registered", user.NormalizeEmail(u.Email))
		}
		return nil, err
	}

	if u.Verified {
		if err := users.MarkEmailVerified(ctx, created.ID); err != nil {
			return nil, err
		}
		created.EmailVerified = true
	}

	return created, nil
}

// PurgeReport counts the rows removed by Purge.
type PurgeReport struct {
	Sessions   int64
	Tokens     int64
	RateLimits int64
}

// Purge deletes expired sessions, auth tokens and rate-limit rows.
func Purge(ctx context.Context, db *bun.DB, now time.Time) (PurgeReport, error) {
	var report PurgeReport
	var err error

	if report.Sessions, err = auth.NewSessionRepository(db).DeleteExpired(ctx, now); err != nil {
		return report, fmt.Errorf("purge sessions: %w", err)
	}
	if report.Tokens, err = auth.NewTokenRepository(db).DeleteExpired(ctx, now); err != nil {
		return report, fmt.Errorf("purge tokens: %w", err)
	}
	limiter := ratelimit.NewLimiter(ratelimit.NewSQLStore(db), ratelimit.WithClock(func() time.Time { return now }))
	if report.RateLimits, err = limiter.DeleteExpired(ctx); err != nil {
		return report, fmt.Errorf("purge rate limits: %w", err)
	}

	return report, nil
}

// GenerateSecret returns a random hex-encoded session secret.
func GenerateSecret() (string, error) {
	b := make([]byte, SecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
