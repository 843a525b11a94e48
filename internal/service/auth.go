package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/alittlebroken/recipefinder-auth/pkg/errors"

	"github.com/alittlebroken/recipefinder-auth/internal/auth"
	"github.com/alittlebroken/recipefinder-auth/internal/domain"
	"github.com/alittlebroken/recipefinder-auth/internal/event"
	"github.com/alittlebroken/recipefinder-auth/internal/ratelimit"
	"github.com/alittlebroken/recipefinder-auth/internal/repository"
)

// bcryptCost is the cost factor for bcrypt password hashing.
const bcryptCost = 12

// minPasswordLength is the minimum password length required at registration.
const minPasswordLength = 8

// The two sanctioned login failure messages. Everything else that can go
// wrong during login collapses into a generic 500.
const (
	msgUserNotFound  = "user not found"
	msgWrongPassword = "specified password is incorrect"
)

// msgSessionInvalid is the single client-facing message for every rejected
// token, whether it was expired, tampered with, or already revoked.
const msgSessionInvalid = "invalid or expired session, please login again"

// msgNoSession is returned when logout or revoke finds nothing to revoke.
const msgNoSession = "no active session"

// LoginAttemptLimiter throttles failed login attempts per username.
type LoginAttemptLimiter interface {
	Check(ctx context.Context, username string) error
	RecordFailure(ctx context.Context, username string) error
	Reset(ctx context.Context, username string) error
}

// AuthService implements the authentication business logic: registration,
// login, token rotation, and session revocation. It owns the
// one-active-refresh-token-per-user invariant together with the refresh
// token repository's upsert.
type AuthService struct {
	userRepo         repository.UserRepository
	refreshTokenRepo repository.RefreshTokenRepository
	tokens           *auth.TokenManager
	limiter          LoginAttemptLimiter
	producer         *event.Producer
	logger           *slog.Logger
}

// NewAuthService creates a new auth service. The limiter and producer may be
// nil, in which case rate limiting and event publishing are skipped.
func NewAuthService(
	userRepo repository.UserRepository,
	refreshTokenRepo repository.RefreshTokenRepository,
	tokens *auth.TokenManager,
	limiter LoginAttemptLimiter,
	producer *event.Producer,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		userRepo:         userRepo,
		refreshTokenRepo: refreshTokenRepo,
		tokens:           tokens,
		limiter:          limiter,
		producer:         producer,
		logger:           logger,
	}
}

// RegisterInput holds the parameters for registering a new user.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Forename string
	Surname  string
}

// LoginInput holds the parameters for user login.
type LoginInput struct {
	Username string
	Password string
}

// Register creates a new user account, hashes the password, and returns the
// user with a freshly rotated token pair.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*domain.User, *domain.TokenPair, error) {
	if input.Username == "" {
		return nil, nil, apperrors.InvalidInput("username is required")
	}
	if input.Email == "" {
		return nil, nil, apperrors.InvalidInput("email is required")
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, nil, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcryptCost)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.New().String(),
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: string(hashedPassword),
		Forename:     input.Forename,
		Surname:      input.Surname,
		Role:         domain.RoleCustomer,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, nil, fmt.Errorf("create user: %w", err)
	}

	tokens, _, err := s.rotate(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	// Publish registration event (non-blocking on failure).
	if s.producer != nil {
		if err := s.producer.PublishUserRegistered(ctx, user); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish auth.user.registered event",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "user registered",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)

	return user, tokens, nil
}

// Login authenticates a user by username and password and rotates their
// session. A user that cannot be found and a wrong password are reported
// with distinct errors; those are the only two login failure modes a client
// may distinguish.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*domain.User, *domain.TokenPair, error) {
	if input.Username == "" {
		return nil, nil, apperrors.InvalidInput("username is required")
	}
	if input.Password == "" {
		return nil, nil, apperrors.InvalidInput("password is required")
	}

	if err := s.checkLimiter(ctx, input.Username); err != nil {
		return nil, nil, err
	}

	user, err := s.userRepo.GetByUsername(ctx, input.Username)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.recordLoginFailure(ctx, input.Username)
			return nil, nil, apperrors.NotFoundMsg(msgUserNotFound)
		}
		return nil, nil, fmt.Errorf("get user by username: %w", err)
	}

	if !user.IsActive {
		s.recordLoginFailure(ctx, input.Username)
		return nil, nil, apperrors.Conflict(msgWrongPassword)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		s.recordLoginFailure(ctx, input.Username)
		return nil, nil, apperrors.Conflict(msgWrongPassword)
	}

	tokens, superseded, err := s.rotate(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	if s.limiter != nil {
		if err := s.limiter.Reset(ctx, input.Username); err != nil {
			s.logger.WarnContext(ctx, "failed to reset login attempt counter",
				slog.String("username", input.Username),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.producer != nil {
		if err := s.producer.PublishUserLoggedIn(ctx, user, superseded); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish auth.user.logged_in event",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "user logged in",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)

	return user, tokens, nil
}

// Refresh validates a presented refresh token against both its signature and
// the stored session row, then rotates the session. A token that verifies
// cryptographically but has no matching row (already revoked or superseded by
// a later login) is rejected.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	if refreshToken == "" {
		return nil, apperrors.InvalidInput("refresh token is required")
	}

	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		// Expired and tampered are logged distinctly but the client sees
		// one message either way.
		s.logger.InfoContext(ctx, "refresh token rejected",
			slog.Bool("expired", errors.Is(err, auth.ErrTokenExpired)),
		)
		return nil, apperrors.Unauthorized(msgSessionInvalid)
	}

	stored, err := s.refreshTokenRepo.GetByUserID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Unauthorized(msgSessionInvalid)
		}
		return nil, fmt.Errorf("get stored refresh token: %w", err)
	}

	if stored.TokenHash != hashToken(refreshToken) {
		// A superseded token from a previous rotation.
		s.logger.WarnContext(ctx, "refresh token does not match active session",
			slog.String("user_id", claims.UserID),
		)
		return nil, apperrors.Unauthorized(msgSessionInvalid)
	}

	if time.Now().UTC().After(stored.ExpiresAt) {
		return nil, apperrors.Unauthorized(msgSessionInvalid)
	}

	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("get user for token refresh: %w", err)
	}

	tokens, _, err := s.rotate(ctx, user)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "tokens refreshed",
		slog.String("user_id", user.ID),
	)

	return tokens, nil
}

// Logout verifies the presented refresh token and revokes the session it
// belongs to.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return apperrors.InvalidInput("refresh token is required")
	}

	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return apperrors.Unauthorized(msgSessionInvalid)
	}

	return s.Revoke(ctx, claims.UserID)
}

// Revoke deletes the user's active session. It reports NotFound when there is
// nothing to revoke, so a second call after a successful revoke correctly
// fails.
func (s *AuthService) Revoke(ctx context.Context, userID string) error {
	if userID == "" {
		return apperrors.InvalidInput("user id is required")
	}

	deleted, err := s.refreshTokenRepo.DeleteByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	if !deleted {
		return apperrors.NotFoundMsg(msgNoSession)
	}

	if s.producer != nil {
		if err := s.producer.PublishSessionRevoked(ctx, userID); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish auth.session.revoked event",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "session revoked",
		slog.String("user_id", userID),
	)

	return nil
}

// Profile retrieves a user by their ID.
func (s *AuthService) Profile(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user profile: %w", err)
	}
	return user, nil
}

// VerifyAccess validates an access token and returns its claims. Used by the
// HTTP auth middleware.
func (s *AuthService) VerifyAccess(token string) (*auth.Claims, error) {
	return s.tokens.VerifyAccess(token)
}

// rotate mints a new token pair and persists the refresh token hash with an
// atomic upsert. When persistence fails the minted tokens are discarded: a
// refresh token that cannot later be revoked must never reach a client. The
// returned flag reports whether a previous session was superseded.
func (s *AuthService) rotate(ctx context.Context, user *domain.User) (*domain.TokenPair, bool, error) {
	accessToken, refreshToken, err := s.tokens.Issue(user.ID, user.Username, user.Role)
	if err != nil {
		s.logger.ErrorContext(ctx, "token signing failed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return nil, false, apperrors.Internal(err)
	}

	expiresAt := time.Now().UTC().Add(s.tokens.RefreshTTL())
	replaced, err := s.refreshTokenRepo.Upsert(ctx, user.ID, hashToken(refreshToken), expiresAt)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to persist refresh token",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return nil, false, apperrors.Internal(err)
	}

	if replaced {
		s.logger.InfoContext(ctx, "existing session superseded",
			slog.String("user_id", user.ID),
		)
	}

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, replaced, nil
}

func (s *AuthService) checkLimiter(ctx context.Context, username string) error {
	if s.limiter == nil {
		return nil
	}

	err := s.limiter.Check(ctx, username)
	if err == nil {
		return nil
	}
	if errors.Is(err, ratelimit.ErrRateLimited) {
		return apperrors.TooManyRequests("too many login attempts, try again later")
	}

	// Fail open when redis is unavailable; locking every user out of login
	// because the limiter store is down is the worse failure mode.
	s.logger.WarnContext(ctx, "login rate limiter unavailable",
		slog.String("error", err.Error()),
	)
	return nil
}

func (s *AuthService) recordLoginFailure(ctx context.Context, username string) {
	if s.limiter == nil {
		return
	}
	if err := s.limiter.RecordFailure(ctx, username); err != nil && !errors.Is(err, ratelimit.ErrRateLimited) {
		s.logger.WarnContext(ctx, "failed to record login attempt",
			slog.String("username", username),
			slog.String("error", err.Error()),
		)
	}
}

// hashToken returns the SHA256 hex digest of the given token string.
func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// validatePassword checks that the password meets minimum complexity requirements.
func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperrors.InvalidInput(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	var hasLetter, hasDigit bool
	for _, ch := range password {
		switch {
		case unicode.IsLetter(ch):
			hasLetter = true
		case unicode.IsDigit(ch):
			hasDigit = true
		}
	}

	if !hasLetter || !hasDigit {
		return apperrors.InvalidInput("password must contain at least one letter and one digit")
	}

	return nil
}
