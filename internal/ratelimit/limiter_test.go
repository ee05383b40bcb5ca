package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smsinbox/site-api/internal/database/databasetest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now().UTC().Truncate(time.Millisecond)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client)
}

func stores(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"sql":   func(t *testing.T) Store { return NewSQLStore(databasetest.New(t)) },
		"redis": func(t *testing.T) Store { return newRedisStore(t) },
	}
}

func TestLimiter_DeniesAfterMaxAndRestartsWindow(t *testing.T) {
	for name, newStore := range stores(t) {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			l := NewLimiter(newStore(t), WithClock(clock.Now))
			ctx := context.Background()
			start := clock.Now()

			for i := 1; i <= 5; i++ {
				res, err := l.Check(ctx, ActionLogin, "203.0.113.7")
				require.NoError(t, err)
				assert.True(t, res.Allowed, "attempt %d", i)
				assert.Equal(t, 5-i, res.Remaining)
				assert.WithinDuration(t, start.Add(15*time.Minute), res.ResetAt, time.Millisecond)
			}

			res, err := l.Check(ctx, ActionLogin, "203.0.113.7")
			require.NoError(t, err)
			assert.False(t, res.Allowed)
			assert.Zero(t, res.Remaining)
			assert.WithinDuration(t, start.Add(15*time.Minute), res.ResetAt, time.Millisecond)

			clock.Advance(15 * time.Minute)

			res, err = l.Check(ctx, ActionLogin, "203.0.113.7")
			require.NoError(t, err)
			assert.True(t, res.Allowed)
			assert.Equal(t, 4, res.Remaining)
			assert.WithinDuration(t, clock.Now().Add(15*time.Minute), res.ResetAt, time.Millisecond)
		})
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	for name, newStore := range stores(t) {
		t.Run(name, func(t *testing.T) {
			l := NewLimiter(newStore(t))
			ctx := context.Background()

			for range 3 {
				res, err := l.Check(ctx, ActionSignup, "a")
				require.NoError(t, err)
				require.True(t, res.Allowed)
			}
			res, err := l.Check(ctx, ActionSignup, "a")
			require.NoError(t, err)
			assert.False(t, res.Allowed)

			res, err = l.Check(ctx, ActionSignup, "b")
			require.NoError(t, err)
			assert.True(t, res.Allowed, "other identifier")

			res, err = l.Check(ctx, ActionForgotPassword, "a")
			require.NoError(t, err)
			assert.True(t, res.Allowed, "other action")
		})
	}
}

func TestLimiter_Reset(t *testing.T) {
	for name, newStore := range stores(t) {
		t.Run(name, func(t *testing.T) {
			l := NewLimiter(newStore(t), WithPolicy(ActionLogin, Policy{Max: 1, Window: time.Hour}))
			ctx := context.Background()

			res, err := l.Check(ctx, ActionLogin, "ip")
			require.NoError(t, err)
			require.True(t, res.Allowed)

			res, err = l.Check(ctx, ActionLogin, "ip")
			require.NoError(t, err)
			require.False(t, res.Allowed)

			require.NoError(t, l.Reset(ctx, ActionLogin, "ip"))
			require.NoError(t, l.Reset(ctx, ActionLogin, "never-seen"))

			res, err = l.Check(ctx, ActionLogin, "ip")
			require.NoError(t, err)
			assert.True(t, res.Allowed)
		})
	}
}

func TestLimiter_UnknownAction(t *testing.T) {
	l := NewLimiter(newRedisStore(t))
	_, err := l.Check(context.Background(), Action("upload"), "ip")
	assert.Error(t, err)
}

func TestSQLStore_DeleteExpired(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(NewSQLStore(databasetest.New(t)), WithClock(clock.Now))
	ctx := context.Background()

	_, err := l.Check(ctx, ActionLogin, "old")
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)
	_, err = l.Check(ctx, ActionSignup, "fresh")
	require.NoError(t, err)
	clock.Advance(6 * time.Minute)

	n, err := l.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisStore_KeyExpiresWithWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStore(client)

	_, err := store.Hit(context.Background(), "ip", ActionVerifyEmail, DefaultPolicies[ActionVerifyEmail], time.Now())
	require.NoError(t, err)

	key := "ratelimit:verify_email:ip"
	require.True(t, mr.Exists(key))
	assert.Equal(t, "1", mr.HGet(key, "count"))

	mr.FastForward(16 * time.Minute)
	assert.False(t, mr.Exists(key))
}
