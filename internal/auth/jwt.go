package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "recipefinder-auth"

// Verification failure kinds. Callers branch on these with errors.Is; the
// HTTP layer collapses them into a single client-facing message so a caller
// cannot probe why a token was rejected.
var (
	// ErrTokenExpired means the signature was valid but the token is past
	// its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid means the token was malformed, tampered with, or
	// signed with the wrong secret.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrEmptyToken means the caller presented no token at all.
	ErrEmptyToken = errors.New("empty token")
)

// Claims is the payload embedded in both token kinds.
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies access/refresh token pairs. The two kinds
// are signed with distinct secrets and distinct expiry windows, so a token of
// one kind can never pass verification as the other.
type TokenManager struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// NewTokenManager creates a token manager from the two signing secrets and
// their expiry durations.
func NewTokenManager(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenManager {
	return &TokenManager{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

// RefreshTTL reports the refresh token lifetime. The service layer uses it to
// set the stored row's expiry and the cookie max-age.
func (m *TokenManager) RefreshTTL() time.Duration {
	return m.refreshTTL
}

// Issue signs an access/refresh pair from the same claim set. It has no side
// effects; persisting the refresh token is the caller's responsibility.
func (m *TokenManager) Issue(userID, username, role string) (accessToken, refreshToken string, err error) {
	if userID == "" {
		return "", "", fmt.Errorf("%w: user id required", ErrEmptyToken)
	}

	accessToken, err = m.sign(userID, username, role, m.accessSecret, m.accessTTL)
	if err != nil {
		return "", "", fmt.Errorf("sign access token: %w", err)
	}

	refreshToken, err = m.sign(userID, username, role, m.refreshSecret, m.refreshTTL)
	if err != nil {
		return "", "", fmt.Errorf("sign refresh token: %w", err)
	}

	return accessToken, refreshToken, nil
}

// VerifyAccess checks an access token's signature and expiry and returns its
// claims.
func (m *TokenManager) VerifyAccess(token string) (*Claims, error) {
	return m.verify(token, m.accessSecret)
}

// VerifyRefresh checks a refresh token's signature and expiry and returns its
// claims.
func (m *TokenManager) VerifyRefresh(token string) (*Claims, error) {
	return m.verify(token, m.refreshSecret)
}

func (m *TokenManager) sign(userID, username, role string, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			// The jti keeps two tokens minted within the same second
			// distinct, so every rotation really replaces the stored hash.
			ID:        uuid.New().String(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (m *TokenManager) verify(tokenString string, secret []byte) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrEmptyToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		// Expired is distinguishable from tampered for logging and tests,
		// though both collapse at the HTTP boundary.
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}
