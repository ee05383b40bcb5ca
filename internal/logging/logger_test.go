package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var m map[string]any
		require.NoError(t, dec.Decode(&m))
		out = append(out, m)
	}
	return out
}

func TestLogError_OopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, false)

	err := oops.Code("SESSION_CREATE_FAILED").With("user_id", 7).Wrap(errors.New("disk full"))
	logger.LogError("login failed", err)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "login failed", lines[0]["msg"])
	assert.Equal(t, "SESSION_CREATE_FAILED", lines[0]["code"])
	assert.Contains(t, lines[0]["error"], "disk full")
	assert.Contains(t, lines[0], "context")
}

func TestLogError_PlainError(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, false)

	logger.LogError("boom", errors.New("plain"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "plain", lines[0]["error"])
	assert.NotContains(t, lines[0], "code")
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, false).WithFields(map[string]any{"flow": "signup"})

	logger.Info("hello")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "signup", lines[0]["flow"])
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, false)

	var fromCtx *Logger
	h := middleware.RequestID(RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = GetLoggerFromContext(r.Context())
		w.WriteHeader(http.StatusTooManyRequests)
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", nil))

	require.NotNil(t, fromCtx)
	lines := decodeLines(t, &buf)
	// "request started" is debug-only and filtered by the JSON logger.
	require.Len(t, lines, 1)
	assert.Equal(t, "request completed", lines[0]["msg"])
	assert.Equal(t, "/api/auth/login", lines[0]["path"])
	assert.NotEmpty(t, lines[0]["request_id"])
	assert.Equal(t, "WARN", lines[0]["level"])
	assert.EqualValues(t, http.StatusTooManyRequests, lines[0]["status"])
}

func TestRequestLogger_RecoveredPanicCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, false)

	h := middleware.RequestID(RequestLogger(logger)(middleware.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)

	assert.Equal(t, "panic recovered", lines[0]["msg"])
	assert.Equal(t, "boom", lines[0]["panic"])
	assert.NotEmpty(t, lines[0]["request_id"])

	assert.Equal(t, "request completed", lines[1]["msg"])
	assert.EqualValues(t, http.StatusInternalServerError, lines[1]["status"])
	assert.Equal(t, lines[0]["request_id"], lines[1]["request_id"])
}

func TestGetLoggerFromContext_Fallback(t *testing.T) {
	assert.NotNil(t, GetLoggerFromContext(context.Background()))
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "b***@example.com", MaskEmail("bob@example.com"))
	assert.Equal(t, "***", MaskEmail("not-an-email"))
	assert.Equal(t, "***", MaskEmail("@example.com"))
}
