// Package ratelimit implements a fixed-window request counter per
// (identifier, action). Counters live in a shared store, never in process memory.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Action names a guarded flow.
type Action string

const (
	ActionLogin          Action = "login"
	ActionSignup         Action = "signup"
	ActionForgotPassword Action = "forgot_password"
	ActionVerifyEmail    Action = "verify_email"
)

// Policy allows Max requests per Window.
type Policy struct {
	Max    int
	Window time.Duration
}

// DefaultPolicies are the limits applied to each auth flow.
var DefaultPolicies = map[Action]Policy{
	ActionLogin:          {Max: 5, Window: 15 * time.Minute},
	ActionSignup:         {Max: 3, Window: 60 * time.Minute},
	ActionForgotPassword: {Max: 3, Window: 60 * time.Minute},
	ActionVerifyEmail:    {Max: 5, Window: 15 * time.Minute},
}

// Result is the outcome of a Check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Store persists window counters. Hit runs one step of the fixed-window
// algorithm: start a window when none is live, deny at Max, else increment.
type Store interface {
	Hit(ctx context.Context, identifier string, action Action, policy Policy, now time.Time) (Result, error)
	Reset(ctx context.Context, identifier string, action Action) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Limiter applies per-action policies on top of a Store.
type Limiter struct {
	store    Store
	policies map[Action]Policy
	now      func() time.Time
}

type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithPolicy overrides the policy of one action.
func WithPolicy(action Action, p Policy) Option {
	return func(l *Limiter) { l.policies[action] = p }
}

func NewLimiter(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:    store,
		policies: make(map[Action]Policy, len(DefaultPolicies)),
		now:      time.Now,
	}
	for a, p := range DefaultPolicies {
		l.policies[a] = p
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check counts one request by identifier against action's policy.
func (l *Limiter) Check(ctx context.Context, action Action, identifier string) (Result, error) {
	policy, ok := l.policies[action]
	if !ok {
		return Result{}, fmt.Errorf("unknown rate limit action %q", action)
	}

	res, err := l.store.Hit(ctx, identifier, action, policy, l.now())
	if err != nil {
		return Result{}, fmt.Errorf("rate limit check %s: %w", action, err)
	}

	return res, nil
}

// Reset clears the counter, e.g. after a successful login.
func (l *Limiter) Reset(ctx context.Context, action Action, identifier string) error {
	if err := l.store.Reset(ctx, identifier, action); err != nil {
		return fmt.Errorf("rate limit reset %s: %w", action, err)
	}
	return nil
}

// DeleteExpired purges counters whose window has ended.
func (l *Limiter) DeleteExpired(ctx context.Context) (int64, error) {
	return l.store.DeleteExpired(ctx, l.now())
}
