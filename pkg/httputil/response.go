package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/alittlebroken/recipefinder-auth/pkg/errors"
	"github.com/alittlebroken/recipefinder-auth/pkg/logger"
	"github.com/alittlebroken/recipefinder-auth/pkg/validator"
)

// Response is the JSON envelope every endpoint returns. Errors carry
// status/success/message only; successful responses additionally carry data.
type Response struct {
	Status  int               `json:"status"`
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
	Data    any               `json:"data,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
// If encoding fails the headers are already sent, so nothing can be done.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteData writes a success envelope with the given payload.
func WriteData(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, Response{
		Status:  status,
		Success: true,
		Data:    data,
	})
}

// WriteMessage writes a success envelope carrying only a message.
func WriteMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, Response{
		Status:  status,
		Success: true,
		Message: message,
	})
}

// WriteError writes a standardized error envelope based on the error type.
// AppError messages pass through to the client; anything else collapses to a
// generic message by kind. Internal errors are logged, never serialized. It
// prefers the request-scoped logger from context (set by the RequestLogger
// middleware) over the fallback logger.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	l := logger.FromContext(r.Context())
	if l == slog.Default() {
		l = fallback
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if appErr.Status == http.StatusInternalServerError {
			logInternal(l, r, err)
		}
		WriteJSON(w, appErr.Status, Response{
			Status:  appErr.Status,
			Success: false,
			Message: appErr.Message,
		})
		return
	}

	status := apperrors.HTTPStatus(err)
	message := "an internal error occurred"

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		message = "resource not found"
	case errors.Is(err, apperrors.ErrAlreadyExists):
		message = "resource already exists"
	case errors.Is(err, apperrors.ErrInvalidInput):
		message = err.Error()
	case errors.Is(err, apperrors.ErrUnauthorized):
		message = "unauthorized"
	}

	if status == http.StatusInternalServerError {
		logInternal(l, r, err)
	}

	WriteJSON(w, status, Response{
		Status:  status,
		Success: false,
		Message: message,
	})
}

// WriteValidationError writes a 400 envelope with field-level errors when the
// error is a validator.ValidationError.
func WriteValidationError(w http.ResponseWriter, err error) {
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		WriteJSON(w, http.StatusBadRequest, Response{
			Status:  http.StatusBadRequest,
			Success: false,
			Message: "request validation failed",
			Fields:  valErr.Fields(),
		})
		return
	}

	WriteJSON(w, http.StatusBadRequest, Response{
		Status:  http.StatusBadRequest,
		Success: false,
		Message: err.Error(),
	})
}

func logInternal(l *slog.Logger, r *http.Request, err error) {
	l.ErrorContext(r.Context(), "internal error",
		slog.String("error", err.Error()),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)
}
