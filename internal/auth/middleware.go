package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/smsinbox/site-api/internal/httputil"
	"github.com/smsinbox/site-api/internal/logging"
	"github.com/smsinbox/site-api/internal/user"
)

type contextKey string

const userContextKey contextKey = "user"

// Middleware handles authentication for protected routes
type Middleware struct {
	service *Service
}

func NewMiddleware(service *Service) *Middleware {
	return &Middleware{service: service}
}

// RequireSession rejects requests without a live session with 401 and
// stores the session's user in the request context.
func (m *Middleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := m.service.CurrentUser(r.Context(), SessionCookieValue(r))
		if err != nil {
			if !errors.Is(err, ErrUnauthenticated) {
				logging.GetLoggerFromContext(r.Context()).LogError("session check failed", err)
			}
			httputil.RespondErrorWithCode(w, ErrUnauthenticated.Error(), httputil.CodeUnauthenticated, http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, u)))
	})
}

// GetUserFromContext returns the user set by RequireSession.
func GetUserFromContext(ctx context.Context) (*user.User, bool) {
	u, ok := ctx.Value(userContextKey).(*user.User)
	return u, ok
}
