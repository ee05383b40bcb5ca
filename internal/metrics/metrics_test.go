package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.Request("login", "ok_2xx")
	m.Request("login", "ok_2xx")
	m.RateLimited("login")
	m.EmailSent("verify_email", true)
	m.EmailSent("verify_email", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("login", "ok_2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitedTotal.WithLabelValues("login")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmailsTotal.WithLabelValues("verify_email", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmailsTotal.WithLabelValues("verify_email", "failed")))
}

func TestHandler_ExposesCounters(t *testing.T) {
	reg := NewRegistry()
	m := NewMetrics(reg)
	m.RateLimited("signup")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `auth_rate_limited_total{action="signup"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestStatusOutcome(t *testing.T) {
	assert.Equal(t, "ok_2xx", StatusOutcome(http.StatusOK))
	assert.Equal(t, "rate_limited", StatusOutcome(http.StatusTooManyRequests))
	assert.Equal(t, "rejected", StatusOutcome(http.StatusUnauthorized))
	assert.Equal(t, "error", StatusOutcome(http.StatusInternalServerError))
}
