package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// TokenType distinguishes the purposes a single-use emailed token can serve.
type TokenType string

const (
	TokenTypeVerifyEmail   TokenType = "verify_email"
	TokenTypeResetPassword TokenType = "reset_password"
)

const (
	tokenBytes = 32

	VerifyEmailTokenTTL   = 24 * time.Hour
	ResetPasswordTokenTTL = 30 * time.Minute
)

// Valid reports whether t is a known token type.
func (t TokenType) Valid() bool {
	return t == TokenTypeVerifyEmail || t == TokenTypeResetPassword
}

// GenerateSecureToken returns a random 64-char hex token and its sha256 hex
// hash. Only the hash is persisted; the raw token goes out by email.
func GenerateSecureToken() (raw, hash string, err error) {
	raw, err = randomHex(tokenBytes)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate token: %w", err)
	}
	return raw, HashToken(raw), nil
}

// HashToken returns the sha256 hex digest of raw.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ExpirationFor returns the expiry of a token of the given type issued at now.
func ExpirationFor(t TokenType, now time.Time) time.Time {
	if t == TokenTypeResetPassword {
		return now.Add(ResetPasswordTokenTTL)
	}
	return now.Add(VerifyEmailTokenTTL)
}

// GenerateSessionID returns a random 64-char hex session id.
func GenerateSessionID() (string, error) {
	id, err := randomHex(tokenBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return id, nil
}

// IsWellFormedToken reports whether raw looks like a token we issued.
func IsWellFormedToken(raw string) bool {
	if len(raw) != tokenBytes*2 {
		return false
	}
	_, err := hex.DecodeString(raw)
	return err == nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
