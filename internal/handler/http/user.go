package http

import (
	"log/slog"
	"net/http"

	"github.com/alittlebroken/recipefinder-auth/pkg/httputil"
	"github.com/alittlebroken/recipefinder-auth/pkg/middleware"

	"github.com/alittlebroken/recipefinder-auth/internal/service"
)

// UserHandler handles HTTP requests for user profile endpoints.
type UserHandler struct {
	service *service.AuthService
	logger  *slog.Logger
}

// NewUserHandler creates a new user HTTP handler.
func NewUserHandler(svc *service.AuthService, logger *slog.Logger) *UserHandler {
	return &UserHandler{service: svc, logger: logger}
}

// GetProfile handles GET /api/v1/users/me
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Response{
			Status:  http.StatusUnauthorized,
			Success: false,
			Message: "invalid or expired session, please login again",
		})
		return
	}

	user, err := h.service.Profile(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, user)
}
