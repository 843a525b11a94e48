package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alittlebroken/recipefinder-auth/internal/domain"
)

// DBTX is the subset of pgxpool.Pool the repositories use. pgxmock satisfies
// it in tests.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UserRepository defines the interface for user persistence operations.
type UserRepository interface {
	// Create inserts a new user into the store.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by their unique identifier.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByUsername retrieves a user by their username.
	GetByUsername(ctx context.Context, username string) (*domain.User, error)

	// GetByEmail retrieves a user by their email address.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

// RefreshTokenRepository defines the interface for the single active
// refresh-token row each user may hold.
type RefreshTokenRepository interface {
	// Upsert stores the refresh token hash for the user, replacing any
	// existing row atomically. It reports whether a previous session was
	// superseded.
	Upsert(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (replaced bool, err error)

	// GetByUserID retrieves the user's active refresh token record, or
	// ErrNotFound when no session exists.
	GetByUserID(ctx context.Context, userID string) (*domain.RefreshToken, error)

	// DeleteByUserID removes the user's refresh token row. It reports
	// whether a row was actually deleted.
	DeleteByUserID(ctx context.Context, userID string) (deleted bool, err error)
}
