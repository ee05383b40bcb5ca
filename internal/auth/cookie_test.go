package auth

import (
	"crypto/tls"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestSign_Deterministic(t *testing.T) {
	a := Sign("data", testSecret)
	assert.Len(t, a, 64)
	assert.Equal(t, a, Sign("data", testSecret))
	assert.NotEqual(t, a, Sign("data", []byte("another-secret-another-secret-xx")))
}

func TestSessionCodec_RoundTrip(t *testing.T) {
	now := time.Now()
	payload := SessionPayload{SessionID: strings.Repeat("a", 64), UserID: 42, ExpiresAt: now.Add(time.Hour).UnixMilli()}

	value, err := EncodeSession(payload, testSecret)
	require.NoError(t, err)

	got, ok := DecodeSession(value, testSecret, now)
	require.True(t, ok)
	assert.Equal(t, payload, *got)
}

func TestSessionCodec_Rejects(t *testing.T) {
	now := time.Now()
	payload := SessionPayload{SessionID: "sid", UserID: 1, ExpiresAt: now.Add(time.Hour).UnixMilli()}
	value, err := EncodeSession(payload, testSecret)
	require.NoError(t, err)

	encoded, sig, _ := strings.Cut(value, ".")

	forged := base64.StdEncoding.EncodeToString([]byte(`{"sessionId":"sid","userId":2,"expiresAt":` +
		"99999999999999" + `}`))

	expired, err := EncodeSession(SessionPayload{SessionID: "sid", UserID: 1, ExpiresAt: now.UnixMilli()}, testSecret)
	require.NoError(t, err)

	tests := []struct {
		name  string
		value string
	}{
		{"empty", ""},
		{"no separator", encoded},
		{"empty signature", encoded + "."},
		{"tampered payload", forged + "." + sig},
		{"tampered signature", encoded + "." + strings.Repeat("0", 64)},
		{"bad base64", "!!!." + sig},
		{"expired at boundary", expired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := DecodeSession(tt.value, testSecret, now)
			assert.False(t, ok)
		})
	}

	t.Run("wrong secret", func(t *testing.T) {
		_, ok := DecodeSession(value, []byte("wrong-secret-wrong-secret-wrong!"), now)
		assert.False(t, ok)
	})
}

func TestIsSecureRequest(t *testing.T) {
	plain := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.False(t, IsSecureRequest(plain, false))
	assert.True(t, IsSecureRequest(plain, true))

	proxied := httptest.NewRequest(http.MethodGet, "/", nil)
	proxied.Header.Set("X-Forwarded-Proto", "https")
	assert.True(t, IsSecureRequest(proxied, false))

	direct := httptest.NewRequest(http.MethodGet, "/", nil)
	direct.TLS = &tls.ConnectionState{}
	assert.True(t, IsSecureRequest(direct, false))
}

func TestSetAndClearSessionCookie(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSessionCookie(rec, "v.sig", SessionDuration, true)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, SessionCookieName, c.Name)
	assert.Equal(t, "v.sig", c.Value)
	assert.Equal(t, "/", c.Path)
	assert.Equal(t, 604800, c.MaxAge)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)

	rec = httptest.NewRecorder()
	ClearSessionCookie(rec, false)
	cookies = rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
	assert.True(t, cookies[0].HttpOnly)
	assert.False(t, cookies[0].Secure)
}
