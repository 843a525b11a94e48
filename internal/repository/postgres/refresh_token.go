package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	apperrors "github.com/alittlebroken/recipefinder-auth/pkg/errors"

	"github.com/alittlebroken/recipefinder-auth/internal/domain"
	"github.com/alittlebroken/recipefinder-auth/internal/repository"
)

// RefreshTokenRepository implements repository.RefreshTokenRepository using
// PostgreSQL. The refresh_tokens table has a UNIQUE constraint on user_id, so
// the at-most-one-active-session invariant is enforced by the database rather
// than by application sequencing.
type RefreshTokenRepository struct {
	db repository.DBTX
}

// NewRefreshTokenRepository creates a new PostgreSQL-backed refresh token repository.
func NewRefreshTokenRepository(db repository.DBTX) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Upsert stores the refresh token hash for the user, atomically replacing any
// existing row. A find-then-delete-then-insert sequence would leave a race
// window between concurrent logins; ON CONFLICT makes the replacement a single
// statement. The returned flag reports whether a previous session row was
// overwritten.
func (r *RefreshTokenRepository) Upsert(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (bool, error) {
	query := `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET token_hash = EXCLUDED.token_hash,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = EXCLUDED.updated_at
		RETURNING (xmax <> 0)`

	var replaced bool
	err := r.db.QueryRow(ctx, query,
		uuid.New().String(),
		userID,
		tokenHash,
		expiresAt,
		time.Now().UTC(),
	).Scan(&replaced)
	if err != nil {
		return false, fmt.Errorf("upsert refresh token: %w", err)
	}

	return replaced, nil
}

// GetByUserID retrieves the user's active refresh token record.
func (r *RefreshTokenRepository) GetByUserID(ctx context.Context, userID string) (*domain.RefreshToken, error) {
	query := `
		SELECT id, user_id, token_hash, expires_at, created_at, updated_at
		FROM refresh_tokens
		WHERE user_id = $1`

	var rt domain.RefreshToken
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&rt.ID,
		&rt.UserID,
		&rt.TokenHash,
		&rt.ExpiresAt,
		&rt.CreatedAt,
		&rt.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}

	return &rt, nil
}

// DeleteByUserID removes the user's refresh token row. Reports false when no
// row existed, which callers surface as "no active session".
func (r *RefreshTokenRepository) DeleteByUserID(ctx context.Context, userID string) (bool, error) {
	query := `DELETE FROM refresh_tokens WHERE user_id = $1`

	ct, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return false, fmt.Errorf("delete refresh token: %w", err)
	}

	return ct.RowsAffected() > 0, nil
}
