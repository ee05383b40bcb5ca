package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/samber/oops"
	"github.com/uptrace/bun"

	"github.com/smsinbox/site-api/internal/database"
)

// SQLStore keeps counters in the rate_limits table.
type SQLStore struct {
	db bun.IDB
}

func NewSQLStore(db bun.IDB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Hit(ctx context.Context, identifier string, action Action, policy Policy, now time.Time) (Result, error) {
	rec := new(database.RateLimit)
	err := s.db.NewSelect().
		Model(rec).
		Where("identifier = ?", identifier).
		Where("action = ?", string(action)).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s.startWindow(ctx, identifier, action, policy, now)
		}
		return Result{}, oops.Code("RATE_LIMIT_READ_FAILED").With("action", string(action)).Wrap(err)
	}

	if !now.Before(rec.ResetAt) {
		return s.startWindow(ctx, identifier, action, policy, now)
	}

	if rec.Count >= policy.Max {
		return Result{Allowed: false, Remaining: 0, ResetAt: rec.ResetAt}, nil
	}

	_, err = s.db.NewUpdate().
		Model((*database.RateLimit)(nil)).
		Set(`"count" = "count" + 1`).
		Where("identifier = ?", identifier).
		Where("action = ?", string(action)).
		Exec(ctx)
	if err != nil {
		return Result{}, oops.Code("RATE_LIMIT_INCREMENT_FAILED").With("action", string(action)).Wrap(err)
	}

	return Result{Allowed: true, Remaining: policy.Max - rec.Count - 1, ResetAt: rec.ResetAt}, nil
}

// startWindow writes count=1 with a fresh window, replacing any stale row.
func (s *SQLStore) startWindow(ctx context.Context, identifier string, action Action, policy Policy, now time.Time) (Result, error) {
	rec := &database.RateLimit{
		Identifier: identifier,
		Action:     string(action),
		Count:      1,
		ResetAt:    now.Add(policy.Window).UTC(),
	}

	_, err := s.db.NewInsert().
		Model(rec).
		On("CONFLICT (identifier, action) DO UPDATE").
		Set(`"count" = EXCLUDED."count"`).
		Set("reset_at = EXCLUDED.reset_at").
		Exec(ctx)
	if err != nil {
		return Result{}, oops.Code("RATE_LIMIT_WRITE_FAILED").With("action", string(action)).Wrap(err)
	}

	return Result{Allowed: true, Remaining: policy.Max - 1, ResetAt: rec.ResetAt}, nil
}

func (s *SQLStore) Reset(ctx context.Context, identifier string, action Action) error {
	_, err := s.db.NewDelete().
		Model((*database.RateLimit)(nil)).
		Where("identifier = ?", identifier).
		Where("action = ?", string(action)).
		Exec(ctx)
	if err != nil {
		return oops.Code("RATE_LIMIT_RESET_FAILED").With("action", string(action)).Wrap(err)
	}
	return nil
}

func (s *SQLStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.NewDelete().
		Model((*database.RateLimit)(nil)).
		Where("reset_at <= ?", now.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, oops.Code("RATE_LIMIT_PURGE_FAILED").Wrap(err)
	}

	n, _ := result.RowsAffected()
	return n, nil
}
