package auth

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/smsinbox/site-api/internal/httputil"
	"github.com/smsinbox/site-api/internal/logging"
	"github.com/smsinbox/site-api/internal/metrics"
	"github.com/smsinbox/site-api/internal/ratelimit"
	"github.com/smsinbox/site-api/internal/user"
)

const (
	redirectAfterLogin  = "/dashboard"
	redirectAfterLogout = "/"
	redirectAfterVerify = "/login?verified=true"
	redirectAfterReset  = "/login?reset=success"

	signupMessage         = "Check your email for a link to verify your account."
	forgotPasswordMessage = "If an account exists for that email, a password reset link has been sent."
)

// Handler contains HTTP handlers for authentication endpoints
type Handler struct {
	service      *Service
	rateLimiter  *ratelimit.Limiter
	metrics      *metrics.Metrics
	isProduction bool
	now          func() time.Time
}

type HandlerOption func(*Handler)

// WithHandlerClock overrides the clock used for Retry-After.
func WithHandlerClock(now func() time.Time) HandlerOption {
	return func(h *Handler) { h.now = now }
}

func NewHandler(service *Service, rateLimiter *ratelimit.Limiter, m *metrics.Metrics, isProduction bool, opts ...HandlerOption) *Handler {
	h := &Handler{
		service:      service,
		rateLimiter:  rateLimiter,
		metrics:      m,
		isProduction: isProduction,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// CredentialsRequest is the signup and login request body
type CredentialsRequest struct {
	Email    string `json:"email" example:"bob@example.com"`
	Password string `json:"password" example:"Passw0rd1"`
}

// ForgotPasswordRequest is the password reset request body
type ForgotPasswordRequest struct {
	Email string `json:"email" example:"bob@example.com"`
}

// ResetPasswordRequest is the password reset confirmation body
type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// VerifyEmailRequest is the email verification body
type VerifyEmailRequest struct {
	Token string `json:"token"`
}

// SuccessResponse is returned by every successful mutating endpoint
type SuccessResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	RedirectTo string `json:"redirectTo,omitempty"`
}

// UserResponse is the non-sensitive projection of a user
type UserResponse struct {
	ID            int64     `json:"id"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
}

// MeResponse reports the session state
type MeResponse struct {
	Authenticated bool          `json:"authenticated"`
	User          *UserResponse `json:"user,omitempty"`
}

// Signup handles account creation
// @Summary      Sign up
// @Description  Create an account and send a verification email. The response is identical whether or not the email is already registered.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body CredentialsRequest true "Signup credentials"
// @Success      200 {object} SuccessResponse
// @Failure      400 {object} httputil.ErrorResponse "Invalid email or weak password"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /api/auth/signup [post]
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, ratelimit.ActionSignup) {
		return
	}

	var req CredentialsRequest
	if !h.decode(w, r, "signup", &req) {
		return
	}

	if err := h.service.Signup(r.Context(), req.Email, req.Password); err != nil {
		h.respondServiceError(w, r, "signup", err)
		return
	}

	logging.GetLoggerFromContext(r.Context()).Info("signup accepted", "email", logging.MaskEmail(req.Email))
	h.respond(w, "signup", SuccessResponse{Success: true, Message: signupMessage}, http.StatusOK)
}

// Login handles credential login
// @Summary      Log in
// @Description  Verify credentials, open a session and set the session cookie
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body CredentialsRequest true "Login credentials"
// @Success      200 {object} SuccessResponse
// @Failure      400 {object} httputil.ErrorResponse "Invalid request body"
// @Failure      401 {object} httputil.ErrorResponse "Invalid credentials"
// @Failure      403 {object} httputil.ErrorResponse "Email not verified"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /api/auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !h.allow(w, r, ratelimit.ActionLogin) {
		return
	}

	var req CredentialsRequest
	if !h.decode(w, r, "login", &req) {
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.respondServiceError(w, r, "login", err)
		return
	}

	logger := logging.GetLoggerFromContext(r.Context()).WithFields(map[string]any{"user_id": result.User.ID})

	// A successful login clears the attempt counter.
	if err := h.rateLimiter.Reset(r.Context(), ratelimit.ActionLogin, ip); err != nil {
		logger.LogError("failed to reset login rate limit", err)
	}

	SetSessionCookie(w, result.CookieValue, h.service.SessionDuration(), IsSecureRequest(r, h.isProduction))
	logger.Info("user logged in")
	h.respond(w, "login", SuccessResponse{Success: true, RedirectTo: redirectAfterLogin}, http.StatusOK)
}

// Logout handles session termination
// @Summary      Log out
// @Description  Delete the current session (best effort) and clear the session cookie
// @Tags         auth
// @Produce      json
// @Success      200 {object} SuccessResponse
// @Router       /api/auth/logout [post]
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), SessionCookieValue(r)); err != nil {
		logging.GetLoggerFromContext(r.Context()).LogError("failed to delete session on logout", err)
	}

	ClearSessionCookie(w, IsSecureRequest(r, h.isProduction))
	h.respond(w, "logout", SuccessResponse{Success: true, RedirectTo: redirectAfterLogout}, http.StatusOK)
}

// Me reports the authenticated user
// @Summary      Current session
// @Description  Return the user behind the session cookie
// @Tags         auth
// @Produce      json
// @Success      200 {object} MeResponse
// @Failure      401 {object} MeResponse
// @Router       /api/auth/me [get]
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.service.CurrentUser(r.Context(), SessionCookieValue(r))
	if err != nil {
		if !errors.Is(err, ErrUnauthenticated) {
			logging.GetLoggerFromContext(r.Context()).LogError("session check failed", err)
		}
		h.respond(w, "me", MeResponse{Authenticated: false}, http.StatusUnauthorized)
		return
	}

	h.respond(w, "me", MeResponse{Authenticated: true, User: toUserResponse(u)}, http.StatusOK)
}

// ForgotPassword handles password reset requests
// @Summary      Request password reset
// @Description  Send a password reset link. Always returns the same response to prevent email enumeration.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body ForgotPasswordRequest true "Email address"
// @Success      200 {object} SuccessResponse
// @Failure      400 {object} httputil.ErrorResponse "Invalid request body"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests"
// @Router       /api/auth/forgot-password [post]
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, ratelimit.ActionForgotPassword) {
		return
	}

	var req ForgotPasswordRequest
	if !h.decode(w, r, "forgot_password", &req) {
		return
	}

	if err := h.service.ForgotPassword(r.Context(), req.Email); err != nil {
		h.respondServiceError(w, r, "forgot_password", err)
		return
	}

	h.respond(w, "forgot_password", SuccessResponse{Success: true, Message: forgotPasswordMessage}, http.StatusOK)
}

// ResetPassword handles password reset with token
// @Summary      Reset password
// @Description  Set a new password with a reset token. Signs the user out everywhere.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body ResetPasswordRequest true "Reset token and new password"
// @Success      200 {object} SuccessResponse
// @Failure      400 {object} httputil.ErrorResponse "Weak password, malformed token, or invalid/expired token"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /api/auth/reset-password [post]
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !h.decode(w, r, "reset_password", &req) {
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		h.respondServiceError(w, r, "reset_password", err)
		return
	}

	logging.GetLoggerFromContext(r.Context()).Info("password reset")
	h.respond(w, "reset_password", SuccessResponse{Success: true, RedirectTo: redirectAfterReset}, http.StatusOK)
}

// VerifyEmail handles email verification
// @Summary      Verify email address
// @Description  Consume a verification token and mark the account verified
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body VerifyEmailRequest true "Verification token"
// @Success      200 {object} SuccessResponse
// @Failure      400 {object} httputil.ErrorResponse "Malformed, invalid or expired token"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /api/auth/verify-email [post]
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, ratelimit.ActionVerifyEmail) {
		return
	}

	var req VerifyEmailRequest
	if !h.decode(w, r, "verify_email", &req) {
		return
	}

	if err := h.service.VerifyEmail(r.Context(), req.Token); err != nil {
		h.respondServiceError(w, r, "verify_email", err)
		return
	}

	logging.GetLoggerFromContext(r.Context()).Info("email verified")
	h.respond(w, "verify_email", SuccessResponse{Success: true, RedirectTo: redirectAfterVerify}, http.StatusOK)
}

// ResendVerification handles resending the verification email
// @Summary      Resend verification email
// @Description  Issue a new verification link for the signed-in user
// @Tags         auth
// @Produce      json
// @Success      200 {object} SuccessResponse
// @Failure      401 {object} httputil.ErrorResponse "Not authenticated"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /api/auth/resend-verification [post]
func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	u, ok := GetUserFromContext(r.Context())
	if !ok {
		h.respondError(w, "resend_verification", ErrUnauthenticated.Error(), httputil.CodeUnauthenticated, http.StatusUnauthorized)
		return
	}

	alreadyVerified, err := h.service.ResendVerification(r.Context(), u)
	if err != nil {
		h.respondServiceError(w, r, "resend_verification", err)
		return
	}

	message := "A new verification email has been sent."
	if alreadyVerified {
		message = "Your email is already verified."
	}
	h.respond(w, "resend_verification", SuccessResponse{Success: true, Message: message}, http.StatusOK)
}

// allow consults the rate limiter. It writes the 429 or 500 response
// itself and returns false when the request must stop.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request, action ratelimit.Action) bool {
	logger := logging.GetLoggerFromContext(r.Context())

	result, err := h.rateLimiter.Check(r.Context(), action, clientIP(r))
	if err != nil {
		logger.LogError("rate limit check failed", err)
		h.respondError(w, string(action), "internal server error", httputil.CodeInternalError, http.StatusInternalServerError)
		return false
	}

	if !result.Allowed {
		logger.Warn("rate limit exceeded", "action", action)
		h.metrics.RateLimited(string(action))
		h.metrics.Request(string(action), metrics.StatusOutcome(http.StatusTooManyRequests))
		httputil.RespondTooManyRequests(w, result.ResetAt, h.now())
		return false
	}

	return true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, flow string, dst any) bool {
	if err := httputil.DecodeJSON(w, r, dst); err != nil {
		logging.GetLoggerFromContext(r.Context()).Warn("invalid request body", "flow", flow, "error", err.Error())
		h.respondError(w, flow, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return false
	}
	return true
}

// respondServiceError maps service errors onto status codes. Anything
// unrecognised is an infrastructure failure and is only logged.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, flow string, err error) {
	logger := logging.GetLoggerFromContext(r.Context())

	switch {
	case errors.Is(err, ErrInvalidEmail):
		h.respondError(w, flow, err.Error(), httputil.CodeInvalidEmail, http.StatusBadRequest)
	case IsWeakPassword(err):
		h.respondError(w, flow, err.Error(), httputil.CodeWeakPassword, http.StatusBadRequest)
	case errors.Is(err, ErrInvalidTokenFormat):
		h.respondError(w, flow, err.Error(), httputil.CodeInvalidTokenFormat, http.StatusBadRequest)
	case errors.Is(err, ErrInvalidOrExpiredToken):
		logger.Warn("token rejected", "flow", flow)
		h.respondError(w, flow, err.Error(), httputil.CodeInvalidOrExpiredToken, http.StatusBadRequest)
	case errors.Is(err, ErrInvalidCredentials):
		logger.Warn("login failed: invalid credentials")
		h.respondError(w, flow, err.Error(), httputil.CodeInvalidCredentials, http.StatusUnauthorized)
	case errors.Is(err, ErrEmailNotVerified):
		logger.Warn("login failed: email not verified")
		h.respondError(w, flow, err.Error(), httputil.CodeEmailNotVerified, http.StatusForbidden)
	case errors.Is(err, ErrUnauthenticated):
		h.respondError(w, flow, err.Error(), httputil.CodeUnauthenticated, http.StatusUnauthorized)
	default:
		logger.LogError(flow+" failed: internal error", err)
		h.respondError(w, flow, "internal server error", httputil.CodeInternalError, http.StatusInternalServerError)
	}
}

func (h *Handler) respond(w http.ResponseWriter, flow string, data any, statusCode int) {
	h.metrics.Request(flow, metrics.StatusOutcome(statusCode))
	httputil.RespondJSON(w, data, statusCode)
}

func (h *Handler) respondError(w http.ResponseWriter, flow, message, code string, statusCode int) {
	h.metrics.Request(flow, metrics.StatusOutcome(statusCode))
	httputil.RespondErrorWithCode(w, message, code, statusCode)
}

func toUserResponse(u *user.User) *UserResponse {
	return &UserResponse{
		ID:            u.ID,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
	}
}

// clientIP returns the caller's IP from RemoteAddr, which chi's RealIP
// rewrites only when the server is configured to trust its proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
