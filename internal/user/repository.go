package user

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/samber/oops"
	"github.com/uptrace/bun"

	"github.com/smsinbox/site-api/internal/database"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already exists")
)

// Repository handles user data persistence
type Repository struct {
	db  bun.IDB
	now func() time.Time
}

func NewRepository(db bun.IDB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Create inserts a new unverified user. A conflicting email (in any case)
// yields ErrDuplicateEmail and leaves the existing row untouched.
func (r *Repository) Create(ctx context.Context, email, passwordHash string) (*User, error) {
	now := r.now().UTC()
	dbUser := &database.User{
		Email:         NormalizeEmail(email),
		PasswordHash:  passwordHash,
		EmailVerified: false,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	result, err := r.db.NewInsert().
		Model(dbUser).
		On("CONFLICT DO NOTHING").
		Returning("*").
		Exec(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDuplicateEmail
		}
		return nil, oops.Code("USER_CREATE_FAILED").Wrap(err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return nil, ErrDuplicateEmail
	}

	return mapDBUserToModel(dbUser), nil
}

// GetByEmail retrieves a user by email, ignoring case and surrounding spaces.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	dbUser := new(database.User)
	err := r.db.NewSelect().
		Model(dbUser).
		Where("LOWER(email) = ?", NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, oops.Code("USER_GET_FAILED").Wrap(err)
	}

	return mapDBUserToModel(dbUser), nil
}

// GetByID retrieves a user by ID
func (r *Repository) GetByID(ctx context.Context, id int64) (*User, error) {
	dbUser := new(database.User)
	err := r.db.NewSelect().
		Model(dbUser).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, oops.Code("USER_GET_FAILED").With("user_id", id).Wrap(err)
	}

	return mapDBUserToModel(dbUser), nil
}

// MarkEmailVerified sets email_verified. Verifying twice is harmless.
func (r *Repository) MarkEmailVerified(ctx context.Context, userID int64) error {
	result, err := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set("email_verified = ?", true).
		Set("updated_at = ?", r.now().UTC()).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return oops.Code("USER_VERIFY_FAILED").With("user_id", userID).Wrap(err)
	}

	return requireRow(result, userID)
}

// UpdatePassword replaces a user's password hash.
func (r *Repository) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	result, err := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("updated_at = ?", r.now().UTC()).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return oops.Code("USER_UPDATE_PASSWORD_FAILED").With("user_id", userID).Wrap(err)
	}

	return requireRow(result, userID)
}

func requireRow(result sql.Result, userID int64) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return oops.Code("USER_ROWS_AFFECTED_FAILED").With("user_id", userID).Wrap(err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// mapDBUserToModel converts database model to domain model
func mapDBUserToModel(dbu *database.User) *User {
	return &User{
		ID:            dbu.ID,
		Email:         dbu.Email,
		PasswordHash:  dbu.PasswordHash,
		EmailVerified: dbu.EmailVerified,
		CreatedAt:     dbu.CreatedAt,
		UpdatedAt:     dbu.UpdatedAt,
	}
}
