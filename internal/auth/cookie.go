package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	SessionCookieName = "session"
	SessionDuration   = 7 * 24 * time.Hour
)

// SessionPayload is the signed content of the session cookie.
// ExpiresAt is Unix milliseconds.
type SessionPayload struct {
	SessionID string `json:"sessionId"`
	UserID    int64  `json:"userId"`
	ExpiresAt int64  `json:"expiresAt"`
}

// Sign returns the hex HMAC-SHA256 of data under secret.
func Sign(data string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// EncodeSession produces "base64(json).hexHmac(json)".
func EncodeSession(payload SessionPayload, secret []byte) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode session payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data) + "." + Sign(string(data), secret), nil
}

// DecodeSession verifies and decodes a cookie value. It reports false on a
// malformed value, a signature mismatch or an expired payload. A valid
// cookie still has to be matched against a live session row.
func DecodeSession(value string, secret []byte, now time.Time) (*SessionPayload, bool) {
	encoded, sig, ok := strings.Cut(value, ".")
	if !ok || encoded == "" || sig == "" {
		return nil, false
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false
	}

	if !hmac.Equal([]byte(Sign(string(data), secret)), []byte(sig)) {
		return nil, false
	}

	var payload SessionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, false
	}
	if payload.SessionID == "" || payload.UserID <= 0 {
		return nil, false
	}
	if payload.ExpiresAt <= now.UnixMilli() {
		return nil, false
	}

	return &payload, true
}

// IsSecureRequest reports whether cookies for r must carry the Secure flag.
func IsSecureRequest(r *http.Request, isProduction bool) bool {
	if isProduction || r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// SetSessionCookie writes the session cookie, living for maxAge.
func SetSessionCookie(w http.ResponseWriter, value string, maxAge time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie with the same attributes.
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SessionCookieValue returns the raw session cookie, or "" when absent.
func SessionCookieValue(r *http.Request) string {
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
