package auth

import "errors"

// Validation errors (400). Their messages are returned to the client.
var (
	ErrInvalidEmail        = errors.New("please enter a valid email address")
	ErrPasswordTooShort    = errors.New("password must be at least 8 characters")
	ErrPasswordTooLong     = errors.New("password must be at most 128 characters")
	ErrPasswordNoUppercase = errors.New("password must contain an uppercase letter")
	ErrPasswordNoLowercase = errors.New("password must contain a lowercase letter")
	ErrPasswordNoDigit     = errors.New("password must contain a number")
	ErrInvalidTokenFormat  = errors.New("invalid token format")
)

// Authentication errors.
var (
	ErrInvalidCredentials    = errors.New("invalid email or password")
	ErrEmailNotVerified      = errors.New("please verify your email before logging in")
	ErrInvalidOrExpiredToken = errors.New("this link is invalid or has expired")
	ErrUnauthenticated       = errors.New("not authenticated")
)

// Store lookups.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTokenNotFound   = errors.New("token not found")
)

// IsWeakPassword reports whether err is one of the password strength errors.
func IsWeakPassword(err error) bool {
	return errors.Is(err, ErrPasswordTooShort) ||
		errors.Is(err, ErrPasswordTooLong) ||
		errors.Is(err, ErrPasswordNoUppercase) ||
		errors.Is(err, ErrPasswordNoLowercase) ||
		errors.Is(err, ErrPasswordNoDigit)
}
