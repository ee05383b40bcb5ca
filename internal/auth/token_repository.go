package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/samber/oops"
	"github.com/uptrace/bun"

	"github.com/smsinbox/site-api/internal/database"
	"github.com/smsinbox/site-api/internal/user"
)

// AuthToken is a stored single-use token. Only the hash is kept.
type AuthToken struct {
	TokenHash string
	UserID    int64
	Type      TokenType
	ExpiresAt time.Time
	CreatedAt time.Time
}

// TokenRepository handles verify-email and reset-password token persistence
type TokenRepository struct {
	db *bun.DB
}

func NewTokenRepository(db *bun.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Replace deletes the user's existing tokens of the same type and stores
// the new one, in a single transaction.
func (r *TokenRepository) Replace(ctx context.Context, t *AuthToken) error {
	if !t.Type.Valid() {
		return oops.Code("TOKEN_TYPE_INVALID").With("type", string(t.Type)).Errorf("unknown token type %q", t.Type)
	}

	dbToken := &database.AuthToken{
		TokenHash: t.TokenHash,
		UserID:    t.UserID,
		Type:      string(t.Type),
		ExpiresAt: t.ExpiresAt.UTC(),
		CreatedAt: t.CreatedAt.UTC(),
	}

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewDelete().
			Model((*database.AuthToken)(nil)).
			Where("user_id = ?", t.UserID).
			Where("type = ?", string(t.Type)).
			Exec(ctx)
		if err != nil {
			return err
		}

		_, err = tx.NewInsert().Model(dbToken).Exec(ctx)
		return err
	})
	if err != nil {
		return oops.Code("TOKEN_REPLACE_FAILED").
			With("user_id", t.UserID).
			With("type", string(t.Type)).
			Wrap(err)
	}

	return nil
}

// Consume atomically deletes the token with the given hash and type and
// returns it. Of several concurrent callers only one gets the row. A token
// found past its expiry is still deleted but reported as ErrTokenNotFound.
func (r *TokenRepository) Consume(ctx context.Context, tokenHash string, tokenType TokenType, now time.Time) (*AuthToken, error) {
	return consumeToken(ctx, r.db, tokenHash, tokenType, now)
}

// ConsumeVerifyEmail consumes a verify_email token and marks its user
// verified in one transaction. If marking fails the token is kept.
func (r *TokenRepository) ConsumeVerifyEmail(ctx context.Context, tokenHash string, now time.Time) (*AuthToken, error) {
	var token *AuthToken

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		token, err = consumeToken(ctx, tx, tokenHash, TokenTypeVerifyEmail, now)
		if err != nil {
			return err
		}

		if err := user.NewRepository(tx).MarkEmailVerified(ctx, token.UserID); err != nil {
			if errors.Is(err, user.ErrNotFound) {
				return ErrTokenNotFound
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return token, nil
}

func consumeToken(ctx context.Context, db bun.IDB, tokenHash string, tokenType TokenType, now time.Time) (*AuthToken, error) {
	dbToken := new(database.AuthToken)
	result, err := db.NewDelete().
		Model(dbToken).
		Where("token_hash = ?", tokenHash).
		Where("type = ?", string(tokenType)).
		Returning("*").
		Exec(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, oops.Code("TOKEN_CONSUME_FAILED").With("type", string(tokenType)).Wrap(err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return nil, ErrTokenNotFound
	}
	if dbToken.UserID == 0 || !dbToken.ExpiresAt.After(now) {
		return nil, ErrTokenNotFound
	}

	return mapDBTokenToModel(dbToken), nil
}

// DeleteByUser removes all tokens of a user, of every type.
func (r *TokenRepository) DeleteByUser(ctx context.Context, userID int64) error {
	_, err := r.db.NewDelete().
		Model((*database.AuthToken)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return oops.Code("TOKEN_DELETE_BY_USER_FAILED").With("user_id", userID).Wrap(err)
	}

	return nil
}

// DeleteExpired removes tokens that expired before now.
func (r *TokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.NewDelete().
		Model((*database.AuthToken)(nil)).
		Where("expires_at < ?", now.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, oops.Code("TOKEN_PURGE_FAILED").Wrap(err)
	}

	n, _ := result.RowsAffected()
	return n, nil
}

func mapDBTokenToModel(dbt *database.AuthToken) *AuthToken {
	return &AuthToken{
		TokenHash: dbt.TokenHash,
		UserID:    dbt.UserID,
		Type:      TokenType(dbt.Type),
		ExpiresAt: dbt.ExpiresAt,
		CreatedAt: dbt.CreatedAt,
	}
}
