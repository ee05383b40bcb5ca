package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/smsinbox/site-api/internal/logging"
	"github.com/smsinbox/site-api/internal/user"
)

// UserRepository is the user store used by the auth flows.
type UserRepository interface {
	Create(ctx context.Context, email, passwordHash string) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	GetByID(ctx context.Context, id int64) (*user.User, error)
	UpdatePassword(ctx context.Context, userID int64, passwordHash string) error
}

// SessionStore persists login sessions.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	DeleteByUser(ctx context.Context, userID int64) error
}

// TokenStore persists hashed single-use tokens.
type TokenStore interface {
	Replace(ctx context.Context, t *AuthToken) error
	Consume(ctx context.Context, tokenHash string, tokenType TokenType, now time.Time) (*AuthToken, error)
	ConsumeVerifyEmail(ctx context.Context, tokenHash string, now time.Time) (*AuthToken, error)
	DeleteByUser(ctx context.Context, userID int64) error
}

// Hasher hashes and checks passwords. Satisfied by *PasswordHasher.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
	VerifyDummy(password string)
}

// EmailService sends the transactional auth emails. Each method reports
// delivery success and never fails the calling flow.
type EmailService interface {
	SendVerificationEmail(ctx context.Context, to, token string) bool
	SendPasswordResetEmail(ctx context.Context, to, token string) bool
	SendPasswordChangedEmail(ctx context.Context, to string) bool
}

// LoginResult carries what the handler needs to set the session cookie.
type LoginResult struct {
	User        *user.User
	CookieValue string
	ExpiresAt   time.Time
}

// Service handles authentication business logic
type Service struct {
	users           UserRepository
	sessions        SessionStore
	tokens          TokenStore
	emailService    EmailService
	hasher          Hasher
	logger          *logging.Logger
	sessionSecret   []byte
	sessionDuration time.Duration
	validate        *validator.Validate
	now             func() time.Time
}

type ServiceOption func(*Service)

// WithServiceClock overrides the time source.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithSessionDuration overrides the session lifetime.
func WithSessionDuration(d time.Duration) ServiceOption {
	return func(s *Service) { s.sessionDuration = d }
}

func NewService(
	users UserRepository,
	sessions SessionStore,
	tokens TokenStore,
	emailService EmailService,
	hasher Hasher,
	logger *logging.Logger,
	sessionSecret []byte,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		users:           users,
		sessions:        sessions,
		tokens:          tokens,
		emailService:    emailService,
		hasher:          hasher,
		logger:          logger,
		sessionSecret:   sessionSecret,
		sessionDuration: SessionDuration,
		validate:        validator.New(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SessionDuration is the lifetime of sessions opened by Login.
func (s *Service) SessionDuration() time.Duration {
	return s.sessionDuration
}

// ValidateEmail checks the address shape.
func (s *Service) ValidateEmail(email string) error {
	if err := s.validate.Var(user.NormalizeEmail(email), "required,email,max=254"); err != nil {
		return ErrInvalidEmail
	}
	return nil
}

// Signup registers an account and sends a verification email. An already
// registered address yields the same nil result without side effects.
func (s *Service) Signup(ctx context.Context, email, password string) error {
	if err := s.ValidateEmail(email); err != nil {
		return err
	}
	if err := ValidatePasswordStrength(password); err != nil {
		return err
	}

	// Hashed before the lookup: duplicate and fresh signups take equal time.
	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, user.ErrNotFound) {
		return fmt.Errorf("failed to look up user: %w", err)
	}

	newUser, err := s.users.Create(ctx, email, passwordHash)
	if err != nil {
		// Lost a race with a concurrent signup for the same address.
		if errors.Is(err, user.ErrDuplicateEmail) {
			return nil
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return s.sendVerification(ctx, newUser)
}

// Login checks credentials and opens a session.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	existingUser, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			s.hasher.VerifyDummy(password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if !s.hasher.Verify(password, existingUser.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	if !existingUser.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	sessionID, err := GenerateSessionID()
	if err != nil {
		return nil, err
	}

	now := s.now()
	expiresAt := now.Add(s.sessionDuration)
	if err := s.sessions.Create(ctx, &Session{
		ID:        sessionID,
		UserID:    existingUser.ID,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	cookieValue, err := EncodeSession(SessionPayload{
		SessionID: sessionID,
		UserID:    existingUser.ID,
		ExpiresAt: expiresAt.UnixMilli(),
	}, s.sessionSecret)
	if err != nil {
		return nil, err
	}

	return &LoginResult{User: existingUser, CookieValue: cookieValue, ExpiresAt: expiresAt}, nil
}

// Logout deletes the session named by the cookie, if it decodes.
func (s *Service) Logout(ctx context.Context, cookieValue string) error {
	payload, ok := DecodeSession(cookieValue, s.sessionSecret, s.now())
	if !ok {
		return nil
	}

	if err := s.sessions.Delete(ctx, payload.SessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// CurrentUser resolves the cookie to a live session and its user.
// Every authentication failure is ErrUnauthenticated; store failures are
// returned wrapped.
func (s *Service) CurrentUser(ctx context.Context, cookieValue string) (*user.User, error) {
	now := s.now()

	payload, ok := DecodeSession(cookieValue, s.sessionSecret, now)
	if !ok {
		return nil, ErrUnauthenticated
	}

	session, err := s.sessions.GetByID(ctx, payload.SessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session.UserID != payload.UserID || !session.ExpiresAt.After(now) {
		return nil, ErrUnauthenticated
	}

	u, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return u, nil
}

// ForgotPassword emails a reset link when the account exists. The result
// does not reveal whether it does.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	if err := s.ValidateEmail(email); err != nil {
		return nil
	}

	existingUser, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to get user: %w", err)
	}

	raw, err := s.issueToken(ctx, existingUser.ID, TokenTypeResetPassword)
	if err != nil {
		return err
	}

	if !s.emailService.SendPasswordResetEmail(ctx, existingUser.Email, raw) {
		s.log(ctx).Warn("password reset email not delivered", "user_id", existingUser.ID)
	}

	return nil
}

// ResetPassword consumes a reset token, sets the new password and revokes
// every token and session the user had.
func (s *Service) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	if err := ValidatePasswordStrength(newPassword); err != nil {
		return err
	}
	if !IsWellFormedToken(rawToken) {
		return ErrInvalidTokenFormat
	}

	token, err := s.consume(ctx, rawToken, TokenTypeResetPassword)
	if err != nil {
		return err
	}

	existingUser, err := s.users.GetByID(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return fmt.Errorf("failed to get user: %w", err)
	}

	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	if err := s.users.UpdatePassword(ctx, existingUser.ID, passwordHash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if err := s.tokens.DeleteByUser(ctx, existingUser.ID); err != nil {
		return fmt.Errorf("failed to delete user tokens: %w", err)
	}
	if err := s.sessions.DeleteByUser(ctx, existingUser.ID); err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}

	if !s.emailService.SendPasswordChangedEmail(ctx, existingUser.Email) {
		s.log(ctx).Warn("password changed email not delivered", "user_id", existingUser.ID)
	}

	return nil
}

// VerifyEmail consumes a verification token and marks the user verified.
// Both happen atomically, so a failed attempt leaves the token usable.
func (s *Service) VerifyEmail(ctx context.Context, rawToken string) error {
	if !IsWellFormedToken(rawToken) {
		return ErrInvalidTokenFormat
	}

	if _, err := s.tokens.ConsumeVerifyEmail(ctx, HashToken(rawToken), s.now()); err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return fmt.Errorf("failed to verify email: %w", err)
	}

	return nil
}

// ResendVerification issues a fresh verification token for an unverified
// user. It reports whether the account was already verified.
func (s *Service) ResendVerification(ctx context.Context, u *user.User) (alreadyVerified bool, err error) {
	if u.EmailVerified {
		return true, nil
	}
	return false, s.sendVerification(ctx, u)
}

func (s *Service) sendVerification(ctx context.Context, u *user.User) error {
	raw, err := s.issueToken(ctx, u.ID, TokenTypeVerifyEmail)
	if err != nil {
		return err
	}

	if !s.emailService.SendVerificationEmail(ctx, u.Email, raw) {
		s.log(ctx).Warn("verification email not delivered", "user_id", u.ID)
	}

	return nil
}

func (s *Service) issueToken(ctx context.Context, userID int64, tokenType TokenType) (string, error) {
	raw, hash, err := GenerateSecureToken()
	if err != nil {
		return "", err
	}

	now := s.now()
	if err := s.tokens.Replace(ctx, &AuthToken{
		TokenHash: hash,
		UserID:    userID,
		Type:      tokenType,
		ExpiresAt: ExpirationFor(tokenType, now),
		CreatedAt: now,
	}); err != nil {
		return "", fmt.Errorf("failed to store %s token: %w", tokenType, err)
	}

	return raw, nil
}

func (s *Service) consume(ctx context.Context, rawToken string, tokenType TokenType) (*AuthToken, error) {
	token, err := s.tokens.Consume(ctx, HashToken(rawToken), tokenType, s.now())
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, fmt.Errorf("failed to consume %s token: %w", tokenType, err)
	}
	return token, nil
}

// log prefers the request-scoped logger.
func (s *Service) log(ctx context.Context) *logging.Logger {
	if l, ok := logging.LoggerFromContext(ctx); ok {
		return l
	}
	return s.logger
}
