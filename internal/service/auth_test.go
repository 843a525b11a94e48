package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/alittlebroken/recipefinder-auth/pkg/errors"

	"github.com/alittlebroken/recipefinder-auth/internal/auth"
	"github.com/alittlebroken/recipefinder-auth/internal/domain"
	"github.com/alittlebroken/recipefinder-auth/internal/ratelimit"
)

// --- Mock User Repository ---

type mockUserRepository struct {
	mock.Mock
}

func (m *mockUserRepository) Create(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

// --- Mock Refresh Token Repository ---

type mockRefreshTokenRepository struct {
	mock.Mock
}

func (m *mockRefreshTokenRepository) Upsert(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (bool, error) {
	args := m.Called(ctx, userID, tokenHash, expiresAt)
	return args.Bool(0), args.Error(1)
}

func (m *mockRefreshTokenRepository) GetByUserID(ctx context.Context, userID string) (*domain.RefreshToken, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RefreshToken), args.Error(1)
}

func (m *mockRefreshTokenRepository) DeleteByUserID(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

// --- Mock Login Attempt Limiter ---

type mockLimiter struct {
	mock.Mock
}

func (m *mockLimiter) Check(ctx context.Context, username string) error {
	args := m.Called(ctx, username)
	return args.Error(0)
}

func (m *mockLimiter) RecordFailure(ctx context.Context, username string) error {
	args := m.Called(ctx, username)
	return args.Error(0)
}

func (m *mockLimiter) Reset(ctx context.Context, username string) error {
	args := m.Called(ctx, username)
	return args.Error(0)
}

// --- Test Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestTokenManager() *auth.TokenManager {
	return auth.NewTokenManager(
		"access-secret-key-for-testing-only",
		"refresh-secret-key-for-testing-only",
		15*time.Minute,
		7*24*time.Hour,
	)
}

func newTestService(
	userRepo *mockUserRepository,
	refreshTokenRepo *mockRefreshTokenRepository,
) *AuthService {
	return NewAuthService(userRepo, refreshTokenRepo, newTestTokenManager(), nil, nil, newTestLogger())
}

// hashForTest creates a bcrypt hash with cost 4 for fast tests.
func hashForTest(password string) string {
	h, err := bcrypt.GenerateFromPassword([]byte(password), 4)
	if err != nil {
		panic(err)
	}
	return string(h)
}

func sampleUser() *domain.User {
	return &domain.User{
		ID:           "user-123",
		Username:     "bcollins",
		Email:        "bcollins@example.com",
		PasswordHash: hashForTest("b0st1nr365s"),
		Role:         domain.RoleCustomer,
		IsActive:     true,
	}
}

// --- Register Tests ---

func TestRegister_Success(t *testing.T) {
	userRepo := new(mockUserRepository)
	refreshTokenRepo := new(mockRefreshTokenRepository)
	svc := newTestService(userRepo, refreshTokenRepo)
	ctx := context.Background()

	userRepo.On("Create", ctx, mock.AnythingOfType("*domain.User")).Return(nil)
	refreshTokenRepo.On("Upsert", ctx, mock.AnythingOfType("string"), mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).
		Return(false, nil)

	user, tokens, err := svc.Register(ctx, RegisterInput{
		Username: "bcollins",
		Email:    "bcollins@example.com",
		Password: "b0st1nr365s",
	})

	require.NoError(t, err)
	require.NotNil(t, user)
	require.NotNil(t, tokens)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "bcollins", user.Username)
	assert.Equal(t, domain.RoleCustomer, user.Role)
	assert.True(t, user.IsActive)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)

	userRepo.AssertExpectations(t)
	refreshTokenRepo.AssertExpectations(t)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	userRepo := new(mockUserRepository)
	refreshTokenRepo := new(mockRefreshTokenRepository)
	svc := newTestService(userRepo, refreshTokenRepo)
	ctx := context.Background()

	userRepo.On("Create", ctx, mock.AnythingOfType("*domain.User")).
		Return(apperrors.AlreadyExists("user", "email", "bcollins@example.com"))

	user, tokens, err := svc.Register(ctx, RegisterInput{
		Username: "bcollins",
		Email:    "bcollins@example.com",
		Password: "b0st1nr365s",
	})

	assert.Nil(t, user)
	assert.Nil(t, tokens)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)

	userRepo.AssertExpectations(t)
}

func TestRegister_WeakPassword(t *testing.T) {
	userRepo := new(mockUserRepository)
	refreshTokenRepo := new(mockRefreshTokenRepository)
	svc := newTestService(userRepo, refreshTokenRepo)
	ctx := context.Background()

	for _, password := range []string{"short1", "onlyletters", "1234567890"} {
		user, tokens, err := svc.Register(ctx, RegisterInput{
			Username: "bcollins",
			Email:    "bcollins@example.com",
			Password: password,
		})

		assert.Nil(t, user, "password %q", password)
		assert.Nil(t, tokens, "password %q", password)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput, "password %q", password)
	}
}

func TestRegister_MissingUsername(t *testing.T) {
	userRepo := new(mockUserRepository)
	refreshTokenRepo := new(mockRefreshTokenRepository)
	svc := newTestService(userRepo, refreshTokenRepo)

	user, tokens, err := svc.Register(context.Background(), RegisterInput{
		Email:    "bcollins@example.com",
		Password: "b0st1nr365s",
	})

	assert.Nil(t, user)
	assert.Nil(t, tokens)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

// --- Login Tests ---

func TestLogin_Success(t *testing.T) {
	userRepo := new(mockUserRepository)
	refreshTokenRepo := new(mockRefreshTokenRepository)
	svc := newTestService(userRepo, refreshTokenRepo)
	ctx := context.Background()

	existing := sampleUser()
	userRepo.On("GetByUsername", ctx, "bcollins").Return(existing, nil)
	refreshTokenRepo.On("Upsert", ctx, existing.ID, mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).
		Return(false, nil)

	user, tokens, err := svc.Login(ctx, LoginInput{Username: "bcollins", Password: "b0st1nr365s"})

	require.NoError(t, err)
	assert.Equal(t, existing.ID, user.ID)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)

	userRepo.AssertExpectations(t)
	refreshTokenRepo.AssertExpectations(t)
}

func TestLogin_UserNotFound(t *testing.T) {
	userRepo := new(mockUserRepository)
	refreshTokenRepo := new(mockRefreshTokenRepository)
	svc := newTestService(userRepo, refreshTokenRepo)
	ctx := context.Background()

	userRepo.On("GetByUsername", ctx, "ghost").Return(nil, apperrors.ErrNotFound)

	user, tokens, err := svc.Login(ctx, LoginInput{Username: "ghost", Password: "whatever123"})

	assert.Nil(t, user)
	assert.Nil(t, tokens)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 404, appErr.Status)
}

func TestLogin_WrongPassword(t *testing.T) {
	userRepo := new(mockUserRepository)
	refreshTokenRepo := new(mockRefreshTokenRepository)
	svc := newTestService(userRepo, refreshTokenRepo)
	ctx := context.Background()

	userRepo.On("GetByUsername", ctx, "bcollins").Return(sampleUser(), nil)

	user, tokens, err := svc.Login(ctx, LoginInput{Username: "bcollins", Password: "not-the-password1"})

	assert.Nil(t, user)
	assert.Nil(t, tokens)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 409, appErr.Status)
}

func TestLogin_InactiveUser(t *testing.T) {
	userRepo := new(mockUserRepository)
	refreshTokenRepo := new(mockRefreshTokenRepository)
	svc := newTestService(userRepo, refreshTokenRepo)
	ctx := context.Background()

	existing := sampleUser()
	existing.IsActive = false
	userRepo.On("GetByUsername", ctx, "bcollins").Return(existing, nil)

	_, _, err := svc.Login(ctx, LoginInput{Username: "bcollins", Password: "b0st1nr365s"})

	// A deactivated account answers exactly like a wrong password.
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestLogin_MissingFields(t *testing.T) {
	svc := newTestService(new(mockUserRepository), new(mockRefreshTokenRepository))
	ctx := context.Background()

	_, _, err := svc.Login(ctx, LoginInput{Password: "b0st1nr365s"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, _, err = svc.Login(ctx, LoginInput{Username: "bcollins"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestLogin_PersistFailureWithholdsTokens(t *testing.T) {
	userRepo := new(mockUserRepository)
	refreshTokenRepo := new(mockRefreshTokenRepository)
	svc := newTestService(userRepo, refreshTokenRepo)
	ctx := context.Background()

	existing := sampleUser()
	userRepo.On("GetByUsername", ctx, "bcollins").Return(existing, nil)
	refreshTokenRepo.On("Upsert", ctx, existing.ID, mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).
		Return(false, errors.New("connection reset"))

	user, tokens, err := svc.Login(ctx, LoginInput{Username: "bcollins", Password: "b0st1nr365s"})

	// A refresh token that could not be stored can never be revoked, so the
	// minted pair must not escape.
	assert.Nil(t, user)
	assert.Nil(t, tokens)
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 500, appErr.Status)
}

func TestLogin_RateLimited(t *testing.T) {
	userRepo := new(mockUserRepository)
	refreshTokenRepo := new(mockRefreshTokenRepository)
	limiter := new(mockLimiter)
	svc := NewAuthService(userRepo, refreshTokenRepo, newTestTokenManager(), limiter, nil, newTestLogger())
	ctx := context.Background()

	limiter.On("Check", ctx, "bcollins").Return(ratelimit.ErrRateLimited)

	_, _, err := svc.Login(ctx, LoginInput{Username: "bcollins", Password: "b0st1nr365s"})

	assert.ErrorIs(t, err, apperrors.ErrTooManyRequests)
	userRepo.AssertNotCalled(t, "GetByUsername", mock.Anything, mock.Anything)
}

func TestLogin_LimiterUnavailableFailsOpen(t *testing.T) {
	userRepo := new(mockUserRepository)
	refreshTokenRepo := new(mockRefreshTokenRepository)
	limiter := new(mockLimiter)
	svc := NewAuthService(userRepo, refreshTokenRepo, newTestTokenManager(), limiter, nil, newTestLogger())
	ctx := context.Background()

	existing := sampleUser()
	limiter.On("Check", ctx, "bcollins").Return(errors.New("dial tcp: connection refused"))
	limiter.On("Reset", ctx, "bcollins").Return(nil)
	userRepo.On("GetByUsername", ctx, "bcollins").Return(existing, nil)
	refreshTokenRepo.On("Upsert", ctx, existing.ID, mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).
		Return(false, nil)

	_, tokens, err := svc.Login(ctx, LoginInput{Username: "bcollins", Password: "b0st1nr365s"})

	require.NoError(t, err)
	assert.NotEmpty(t, tokens.AccessToken)
}

func TestLogin_FailureRecordedWithLimiter(t *testing.T) {
	userRepo := new(mockUserRepository)
	refreshTokenRepo := new(mockRefreshTokenRepository)
	limiter := new(mockLimiter)
	svc := NewAuthService(userRepo, refreshTokenRepo, newTestTokenManager(), limiter, nil, newTestLogger())
	ctx := context.Background()

	limiter.On("Check", ctx, "bcollins").Return(nil)
	limiter.On("RecordFailure", ctx, "bcollins").Return(nil)
	userRepo.On("GetByUsername", ctx, "bcollins").Return(sampleUser(), nil)

	_, _, err := svc.Login(ctx, LoginInput{Username: "bcollins", Password: "wrong-password1"})

	assert.ErrorIs(t, err, apperrors.ErrConflict)
	limiter.AssertExpectations(t)
}

// --- Refresh Tests ---

// issueFor mints a pair through the service's own rotate path and returns the
// refresh token along with its stored hash.
func issueFor(t *testing.T, svc *AuthService, refreshTokenRepo *mockRefreshTokenRepository, user *domain.User) (string, string) {
	t.Helper()

	var storedHash string
	refreshTokenRepo.On("Upsert", mock.Anything, user.ID, mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).
		Run(func(args mock.Arguments) {
			storedHash = args.String(2)
		}).
		Return(false, nil).Once()

	tokens, _, err := svc.rotate(context.Background(), user)
	require.NoError(t, err)
	return tokens.RefreshToken, storedHash
}

func TestRefresh_Success(t *testing.T) {
	userRepo := new(mockUserRepository)
	refreshTokenRepo := new(mockRefreshTokenRepository)
	svc := newTestService(userRepo, refreshTokenRepo)
	ctx := context.Background()

	existing := sampleUser()
	refreshToken, storedHash := issueFor(t, svc, refreshTokenRepo, existing)

	refreshTokenRepo.On("GetByUserID", ctx, existing.ID).Return(&domain.RefreshToken{
		UserID:    existing.ID,
		TokenHash: storedHash,
		ExpiresAt: time.Now().UTC().Add(24 * time.Hour),
	}, nil)
	userRepo.On("GetByID", ctx, existing.ID).Return(existing, nil)
	refreshTokenRepo.On("Upsert", ctx, existing.ID, mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).
		Return(true, nil).Once()

	tokens, err := svc.Refresh(ctx, refreshToken)

	require.NoError(t, err)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)
	assert.NotEqual(t, refreshToken, tokens.RefreshToken)

	refreshTokenRepo.AssertExpectations(t)
}

func TestRefresh_TamperedToken(t *testing.T) {
	svc := newTestService(new(mockUserRepository), new(mockRefreshTokenRepository))

	_, err := svc.Refresh(context.Background(), "not-a-valid-token")

	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestRefresh_NoStoredSession(t *testing.T) {
	userRepo := new(mockUserRepository)
	refreshTokenRepo := new(mockRefreshTokenRepository)
	svc := newTestService(userRepo, refreshTokenRepo)
	ctx := context.Background()

	existing := sampleUser()
	refreshToken, _ := issueFor(t, svc, refreshTokenRepo, existing)

	refreshTokenRepo.On("GetByUserID", ctx, existing.ID).Return(nil, apperrors.ErrNotFound)

	_, err := svc.Refresh(ctx, refreshToken)

	// Cryptographically valid but already revoked: rejected all the same.
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestRefresh_SupersededToken(t *testing.T) {
	userRepo := new(mockUserRepository)
	refreshTokenRepo := new(mockRefreshTokenRepository)
	svc := newTestService(userRepo, refreshTokenRepo)
	ctx := context.Background()

	existing := sampleUser()
	oldToken, _ := issueFor(t, svc, refreshTokenRepo, existing)

	// The stored row now holds a different hash, as after a second login.
	refreshTokenRepo.On("GetByUserID", ctx, existing.ID).Return(&domain.RefreshToken{
		UserID:    existing.ID,
		TokenHash: "a-newer-session-hash",
		ExpiresAt: time.Now().UTC().Add(24 * time.Hour),
	}, nil)

	_, err := svc.Refresh(ctx, oldToken)

	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestRefresh_StoredRowExpired(t *testing.T) {
	userRepo := new(mockUserRepository)
	refreshTokenRepo := new(mockRefreshTokenRepository)
	svc := newTestService(userRepo, refreshTokenRepo)
	ctx := context.Background()

	existing := sampleUser()
	refreshToken, storedHash := issueFor(t, svc, refreshTokenRepo, existing)

	refreshTokenRepo.On("GetByUserID", ctx, existing.ID).Return(&domain.RefreshToken{
		UserID:    existing.ID,
		TokenHash: storedHash,
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}, nil)

	_, err := svc.Refresh(ctx, refreshToken)

	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestRefresh_EmptyToken(t *testing.T) {
	svc := newTestService(new(mockUserRepository), new(mockRefreshTokenRepository))

	_, err := svc.Refresh(context.Background(), "")

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

// --- Revoke Tests ---

func TestRevoke_Success(t *testing.T) {
	userRepo := new(mockUserRepository)
	refreshTokenRepo := new(mockRefreshTokenRepository)
	svc := newTestService(userRepo, refreshTokenRepo)
	ctx := context.Background()

	refreshTokenRepo.On("DeleteByUserID", ctx, "user-123").Return(true, nil)

	err := svc.Revoke(ctx, "user-123")
	assert.NoError(t, err)

	refreshTokenRepo.AssertExpectations(t)
}

func TestRevoke_NoActiveSession(t *testing.T) {
	userRepo := new(mockUserRepository)
	refreshTokenRepo := new(mockRefreshTokenRepository)
	svc := newTestService(userRepo, refreshTokenRepo)
	ctx := context.Background()

	refreshTokenRepo.On("DeleteByUserID", ctx, "user-123").Return(false, nil)

	err := svc.Revoke(ctx, "user-123")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRevoke_IdempotenceBoundary(t *testing.T) {
	userRepo := new(mockUserRepository)
	refreshTokenRepo := new(mockRefreshTokenRepository)
	svc := newTestService(userRepo, refreshTokenRepo)
	ctx := context.Background()

	refreshTokenRepo.On("DeleteByUserID", ctx, "user-123").Return(true, nil).Once()
	refreshTokenRepo.On("DeleteByUserID", ctx, "user-123").Return(false, nil).Once()

	require.NoError(t, svc.Revoke(ctx, "user-123"))
	assert.ErrorIs(t, svc.Revoke(ctx, "user-123"), apperrors.ErrNotFound)

	refreshTokenRepo.AssertExpectations(t)
}

// --- Logout Tests ---

func TestLogout_Success(t *testing.T) {
	userRepo := new(mockUserRepository)
	refreshTokenRepo := new(mockRefreshTokenRepository)
	svc := newTestService(userRepo, refreshTokenRepo)
	ctx := context.Background()

	existing := sampleUser()
	refreshToken, _ := issueFor(t, svc, refreshTokenRepo, existing)

	refreshTokenRepo.On("DeleteByUserID", ctx, existing.ID).Return(true, nil)

	assert.NoError(t, svc.Logout(ctx, refreshToken))
}

func TestLogout_InvalidToken(t *testing.T) {
	svc := newTestService(new(mockUserRepository), new(mockRefreshTokenRepository))

	err := svc.Logout(context.Background(), "garbage")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

// --- Rotation Invariant ---

func TestRotate_SecondLoginSupersedesFirst(t *testing.T) {
	userRepo := new(mockUserRepository)
	refreshTokenRepo := new(mockRefreshTokenRepository)
	svc := newTestService(userRepo, refreshTokenRepo)
	ctx := context.Background()

	existing := sampleUser()
	userRepo.On("GetByUsername", ctx, "bcollins").Return(existing, nil)

	// The first login inserts; the second reports a replaced row. Track the
	// hash each call stores: the store must end up holding the second.
	var hashes []string
	refreshTokenRepo.On("Upsert", ctx, existing.ID, mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).
		Run(func(args mock.Arguments) {
			hashes = append(hashes, args.String(2))
		}).
		Return(false, nil).Once()
	refreshTokenRepo.On("Upsert", ctx, existing.ID, mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).
		Run(func(args mock.Arguments) {
			hashes = append(hashes, args.String(2))
		}).
		Return(true, nil).Once()

	_, first, err := svc.Login(ctx, LoginInput{Username: "bcollins", Password: "b0st1nr365s"})
	require.NoError(t, err)
	_, second, err := svc.Login(ctx, LoginInput{Username: "bcollins", Password: "b0st1nr365s"})
	require.NoError(t, err)

	require.Len(t, hashes, 2)
	assert.Equal(t, hashToken(first.RefreshToken), hashes[0])
	assert.Equal(t, hashToken(second.RefreshToken), hashes[1])
	assert.NotEqual(t, hashes[0], hashes[1])

	refreshTokenRepo.AssertExpectations(t)
}
