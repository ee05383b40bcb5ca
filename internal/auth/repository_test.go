package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/smsinbox/site-api/internal/database/databasetest"
	"github.com/smsinbox/site-api/internal/user"
)

func createUser(t *testing.T, db bun.IDB, email string) *user.User {
	t.Helper()
	u, err := user.NewRepository(db).Create(context.Background(), email, "hash")
	require.NoError(t, err)
	return u
}

func TestSessionRepository_Lifecycle(t *testing.T) {
	db := databasetest.New(t)
	repo := NewSessionRepository(db)
	ctx := context.Background()
	u := createUser(t, db, "s@example.com")
	now := time.Now().UTC()

	sid, err := GenerateSessionID()
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, &Session{ID: sid, UserID: u.ID, ExpiresAt: now.Add(time.Hour), CreatedAt: now}))

	got, err := repo.GetByID(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.UserID)
	assert.WithinDuration(t, now.Add(time.Hour), got.ExpiresAt, time.Second)

	require.NoError(t, repo.Delete(ctx, sid))
	_, err = repo.GetByID(ctx, sid)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// Deleting again is fine.
	assert.NoError(t, repo.Delete(ctx, sid))
}

func TestSessionRepository_DeleteByUser(t *testing.T) {
	db := databasetest.New(t)
	repo := NewSessionRepository(db)
	ctx := context.Background()
	alice := createUser(t, db, "alice@example.com")
	bob := createUser(t, db, "bob@example.com")
	now := time.Now().UTC()

	for _, s := range []*Session{
		{ID: "a1", UserID: alice.ID, ExpiresAt: now.Add(time.Hour), CreatedAt: now},
		{ID: "a2", UserID: alice.ID, ExpiresAt: now.Add(time.Hour), CreatedAt: now},
		{ID: "b1", UserID: bob.ID, ExpiresAt: now.Add(time.Hour), CreatedAt: now},
	} {
		require.NoError(t, repo.Create(ctx, s))
	}

	require.NoError(t, repo.DeleteByUser(ctx, alice.ID))

	_, err := repo.GetByID(ctx, "a1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = repo.GetByID(ctx, "a2")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = repo.GetByID(ctx, "b1")
	assert.NoError(t, err)
}

func TestSessionRepository_DeleteExpired(t *testing.T) {
	db := databasetest.New(t)
	repo := NewSessionRepository(db)
	ctx := context.Background()
	u := createUser(t, db, "e@example.com")
	now := time.Now().UTC()

	require.NoError(t, repo.Create(ctx, &Session{ID: "old", UserID: u.ID, ExpiresAt: now.Add(-time.Hour), CreatedAt: now}))
	require.NoError(t, repo.Create(ctx, &Session{ID: "live", UserID: u.ID, ExpiresAt: now.Add(time.Hour), CreatedAt: now}))

	n, err := repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.GetByID(ctx, "live")
	assert.NoError(t, err)
}

func TestTokenRepository_ReplaceKeepsOneLiveTokenPerType(t *testing.T) {
	db := databasetest.New(t)
	repo := NewTokenRepository(db)
	ctx := context.Background()
	u := createUser(t, db, "t@example.com")
	now := time.Now().UTC()

	_, first, err := GenerateSecureToken()
	require.NoError(t, err)
	_, second, err := GenerateSecureToken()
	require.NoError(t, err)
	_, reset, err := GenerateSecureToken()
	require.NoError(t, err)

	require.NoError(t, repo.Replace(ctx, &AuthToken{TokenHash: first, UserID: u.ID, Type: TokenTypeVerifyEmail, ExpiresAt: ExpirationFor(TokenTypeVerifyEmail, now), CreatedAt: now}))
	require.NoError(t, repo.Replace(ctx, &AuthToken{TokenHash: reset, UserID: u.ID, Type: TokenTypeResetPassword, ExpiresAt: ExpirationFor(TokenTypeResetPassword, now), CreatedAt: now}))
	require.NoError(t, repo.Replace(ctx, &AuthToken{TokenHash: second, UserID: u.ID, Type: TokenTypeVerifyEmail, ExpiresAt: ExpirationFor(TokenTypeVerifyEmail, now), CreatedAt: now}))

	_, err = repo.Consume(ctx, first, TokenTypeVerifyEmail, now)
	assert.ErrorIs(t, err, ErrTokenNotFound, "replaced token must be gone")

	got, err := repo.Consume(ctx, second, TokenTypeVerifyEmail, now)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.UserID)
	assert.Equal(t, TokenTypeVerifyEmail, got.Type)

	// A different type is untouched by the verify replacement.
	_, err = repo.Consume(ctx, reset, TokenTypeResetPassword, now)
	assert.NoError(t, err)
}

func TestTokenRepository_ConsumeIsSingleUse(t *testing.T) {
	db := databasetest.New(t)
	repo := NewTokenRepository(db)
	ctx := context.Background()
	u := createUser(t, db, "once@example.com")
	now := time.Now().UTC()

	_, hash, err := GenerateSecureToken()
	require.NoError(t, err)
	require.NoError(t, repo.Replace(ctx, &AuthToken{TokenHash: hash, UserID: u.ID, Type: TokenTypeResetPassword, ExpiresAt: now.Add(time.Minute), CreatedAt: now}))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Consume(ctx, hash, TokenTypeResetPassword, now); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
}

func TestTokenRepository_ConsumeChecksTypeAndExpiry(t *testing.T) {
	db := databasetest.New(t)
	repo := NewTokenRepository(db)
	ctx := context.Background()
	u := createUser(t, db, "x@example.com")
	now := time.Now().UTC()

	_, hash, err := GenerateSecureToken()
	require.NoError(t, err)
	require.NoError(t, repo.Replace(ctx, &AuthToken{TokenHash: hash, UserID: u.ID, Type: TokenTypeVerifyEmail, ExpiresAt: now.Add(time.Minute), CreatedAt: now}))

	_, err = repo.Consume(ctx, hash, TokenTypeResetPassword, now)
	assert.ErrorIs(t, err, ErrTokenNotFound, "wrong type")

	_, err = repo.Consume(ctx, hash, TokenTypeVerifyEmail, now.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrTokenNotFound, "expired")

	_, err = repo.Consume(ctx, hash, TokenTypeVerifyEmail, now)
	assert.ErrorIs(t, err, ErrTokenNotFound, "expired token was removed on the first attempt")
}

func TestTokenRepository_DeleteByUserAndExpired(t *testing.T) {
	db := databasetest.New(t)
	repo := NewTokenRepository(db)
	ctx := context.Background()
	u := createUser(t, db, "d@example.com")
	now := time.Now().UTC()

	_, live, err := GenerateSecureToken()
	require.NoError(t, err)
	_, stale, err := GenerateSecureToken()
	require.NoError(t, err)
	require.NoError(t, repo.Replace(ctx, &AuthToken{TokenHash: live, UserID: u.ID, Type: TokenTypeVerifyEmail, ExpiresAt: now.Add(time.Hour), CreatedAt: now}))
	require.NoError(t, repo.Replace(ctx, &AuthToken{TokenHash: stale, UserID: u.ID, Type: TokenTypeResetPassword, ExpiresAt: now.Add(-time.Hour), CreatedAt: now}))

	n, err := repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, repo.DeleteByUser(ctx, u.ID))
	_, err = repo.Consume(ctx, live, TokenTypeVerifyEmail, now)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

// failEmailVerification makes every update of users.email_verified abort
// until the returned func is called.
func failEmailVerification(t *testing.T, db *bun.DB) func() {
	t.Helper()
	ctx := context.Background()
	_, err := db.ExecContext(ctx, `CREATE TRIGGER fail_email_verified BEFORE UPDATE OF email_verified ON users
BEGIN SELECT RAISE(ABORT, 'connection reset'); END`)
	require.NoError(t, err)
	return func() {
		_, err := db.ExecContext(ctx, `DROP TRIGGER fail_email_verified`)
		require.NoError(t, err)
	}
}

func TestTokenRepository_ConsumeVerifyEmail(t *testing.T) {
	db := databasetest.New(t)
	repo := NewTokenRepository(db)
	users := user.NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()
	u := createUser(t, db, "v@example.com")

	_, hash, err := GenerateSecureToken()
	require.NoError(t, err)
	require.NoError(t, repo.Replace(ctx, &AuthToken{
		TokenHash: hash, UserID: u.ID, Type: TokenTypeVerifyEmail,
		ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	}))

	restore := failEmailVerification(t, db)
	_, err = repo.ConsumeVerifyEmail(ctx, hash, now)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTokenNotFound)
	restore()

	got, err := users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, got.EmailVerified)

	token, err := repo.ConsumeVerifyEmail(ctx, hash, now)
	require.NoError(t, err)
	assert.Equal(t, u.ID, token.UserID)

	got, err = users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.EmailVerified)

	_, err = repo.ConsumeVerifyEmail(ctx, hash, now)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestTokenRepository_ConsumeVerifyEmail_WrongTypeOrExpired(t *testing.T) {
	db := databasetest.New(t)
	repo := NewTokenRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()
	u := createUser(t, db, "w@example.com")

	_, resetHash, err := GenerateSecureToken()
	require.NoError(t, err)
	require.NoError(t, repo.Replace(ctx, &AuthToken{
		TokenHash: resetHash, UserID: u.ID, Type: TokenTypeResetPassword,
		ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	}))
	_, err = repo.ConsumeVerifyEmail(ctx, resetHash, now)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	_, verifyHash, err := GenerateSecureToken()
	require.NoError(t, err)
	require.NoError(t, repo.Replace(ctx, &AuthToken{
		TokenHash: verifyHash, UserID: u.ID, Type: TokenTypeVerifyEmail,
		ExpiresAt: now.Add(-time.Second), CreatedAt: now.Add(-time.Hour),
	}))
	_, err = repo.ConsumeVerifyEmail(ctx, verifyHash, now)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	got, err := user.NewRepository(db).GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, got.EmailVerified)
}

func TestTokenRepository_ReplaceRejectsUnknownType(t *testing.T) {
	db := databasetest.New(t)
	u := createUser(t, db, "x@example.com")
	now := time.Now().UTC()

	err := NewTokenRepository(db).Replace(context.Background(), &AuthToken{
		TokenHash: HashToken("raw"), UserID: u.ID, Type: TokenType("magic_link"),
		ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "magic_link")
}
