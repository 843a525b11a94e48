package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/alittlebroken/recipefinder-auth/pkg/httputil"
	"github.com/alittlebroken/recipefinder-auth/pkg/validator"

	"github.com/alittlebroken/recipefinder-auth/internal/service"
)

// refreshCookieName is the cookie carrying the refresh token.
const refreshCookieName = "jwt"

// AuthHandler handles HTTP requests for auth endpoints.
type AuthHandler struct {
	service      *service.AuthService
	logger       *slog.Logger
	cookieSecure bool
	refreshTTL   time.Duration
}

// NewAuthHandler creates a new auth HTTP handler. cookieSecure should be true
// everywhere except local development over plain HTTP.
func NewAuthHandler(svc *service.AuthService, logger *slog.Logger, cookieSecure bool, refreshTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		service:      svc,
		logger:       logger,
		cookieSecure: cookieSecure,
		refreshTTL:   refreshTTL,
	}
}

// --- Request DTOs ---

// RegisterRequest is the JSON request body for user registration.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,alphanum,min=3,max=30"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Forename string `json:"forename" validate:"omitempty,max=100"`
	Surname  string `json:"surname" validate:"omitempty,max=100"`
}

// LoginRequest is the JSON request body for user login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// --- Response types ---

// AuthResponse carries the access token and user data returned on
// register/login. The refresh token travels only in the HttpOnly cookie.
type AuthResponse struct {
	AccessToken string `json:"access_token"`
	User        any    `json:"user,omitempty"`
}

// --- Handlers ---

// Register handles POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Status:  http.StatusBadRequest,
			Success: false,
			Message: "invalid request body",
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	user, tokens, err := h.service.Register(r.Context(), service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Forename: req.Forename,
		Surname:  req.Surname,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.setRefreshCookie(w, tokens.RefreshToken)
	httputil.WriteData(w, http.StatusCreated, AuthResponse{
		AccessToken: tokens.AccessToken,
		User:        user,
	})
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Status:  http.StatusBadRequest,
			Success: false,
			Message: "invalid request body",
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	_, tokens, err := h.service.Login(r.Context(), service.LoginInput{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.setRefreshCookie(w, tokens.RefreshToken)
	httputil.WriteData(w, http.StatusOK, AuthResponse{
		AccessToken: tokens.AccessToken,
	})
}

// RefreshToken handles POST /api/v1/auth/refresh-token. The refresh token is
// read from the HttpOnly cookie, never from the body.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.Response{
			Status:  http.StatusNotFound,
			Success: false,
			Message: "no refresh token found",
		})
		return
	}

	tokens, err := h.service.Refresh(r.Context(), cookie.Value)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.setRefreshCookie(w, tokens.RefreshToken)
	httputil.WriteData(w, http.StatusOK, AuthResponse{
		AccessToken: tokens.AccessToken,
	})
}

// Logout handles POST /api/v1/auth/logout and DELETE
// /api/v1/auth/refresh-token: revoke the stored session and clear the cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.Response{
			Status:  http.StatusNotFound,
			Success: false,
			Message: "no refresh token found",
		})
		return
	}

	if err := h.service.Logout(r.Context(), cookie.Value); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.clearRefreshCookie(w)
	httputil.WriteMessage(w, http.StatusOK, "logged out")
}

// setRefreshCookie writes the refresh token as an HttpOnly cookie scoped to
// the whole API.
func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, refreshToken string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    refreshToken,
		Path:     "/",
		MaxAge:   int(h.refreshTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}
