package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/samber/oops"
	"github.com/uptrace/bun"

	"github.com/smsinbox/site-api/internal/database"
)

// Session is a server-side login session.
type Session struct {
	ID        string
	UserID    int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

// SessionRepository handles session persistence
type SessionRepository struct {
	db bun.IDB
}

func NewSessionRepository(db bun.IDB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a session row.
func (r *SessionRepository) Create(ctx context.Context, s *Session) error {
	dbSession := &database.Session{
		ID:        s.ID,
		UserID:    s.UserID,
		ExpiresAt: s.ExpiresAt.UTC(),
		CreatedAt: s.CreatedAt.UTC(),
	}

	if _, err := r.db.NewInsert().Model(dbSession).Exec(ctx); err != nil {
		return oops.Code("SESSION_CREATE_FAILED").With("user_id", s.UserID).Wrap(err)
	}

	return nil
}

// GetByID returns the session regardless of expiry; callers check ExpiresAt.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*Session, error) {
	dbSession := new(database.Session)
	err := r.db.NewSelect().
		Model(dbSession).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, oops.Code("SESSION_GET_FAILED").Wrap(err)
	}

	return mapDBSessionToModel(dbSession), nil
}

// Delete removes one session. Deleting a missing session is not an error.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.NewDelete().
		Model((*database.Session)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return oops.Code("SESSION_DELETE_FAILED").Wrap(err)
	}

	return nil
}

// DeleteByUser removes every session of a user.
func (r *SessionRepository) DeleteByUser(ctx context.Context, userID int64) error {
	_, err := r.db.NewDelete().
		Model((*database.Session)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return oops.Code("SESSION_DELETE_BY_USER_FAILED").With("user_id", userID).Wrap(err)
	}

	return nil
}

// DeleteExpired removes sessions that expired before now.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.NewDelete().
		Model((*database.Session)(nil)).
		Where("expires_at < ?", now.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, oops.Code("SESSION_PURGE_FAILED").Wrap(err)
	}

	n, _ := result.RowsAffected()
	return n, nil
}

func mapDBSessionToModel(dbs *database.Session) *Session {
	return &Session{
		ID:        dbs.ID,
		UserID:    dbs.UserID,
		ExpiresAt: dbs.ExpiresAt,
		CreatedAt: dbs.CreatedAt,
	}
}
