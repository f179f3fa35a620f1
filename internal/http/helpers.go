package http

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"kharcha/internal/auth"
	"kharcha/internal/core"
	"kharcha/internal/parser"
)

type contextKey string

const (
	ctxKeyRequestID contextKey = "request_id"
	ctxKeyUserID    contextKey = "user_id"
)

// userID returns the authenticated user id placed in the request context by
// requireAuth.
func userID(r *http.Request) int64 {
	id, _ := r.Context().Value(ctxKeyUserID).(int64)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`

	// Populated only for insufficient-funds rejections.
	Method         string `json:"payment_method,omitempty"`
	AvailableCents *int64 `json:"available_cents,omitempty"`
	RequiredCents  *int64 `json:"required_cents,omitempty"`
}

// writeError translates domain errors into HTTP status codes. Anything not
// recognized is a storage fault and stays opaque to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var insufficient *core.InsufficientFundsError
	if errors.As(err, &insufficient) {
		avail := insufficient.Available.Cents
		req := insufficient.Required.Cents
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:          insufficient.Error(),
			Method:         string(insufficient.Method),
			AvailableCents: &avail,
			RequiredCents:  &req,
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrDuplicateUser):
		status = http.StatusConflict
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidMethod),
		errors.Is(err, core.ErrInvalidDate),
		errors.Is(err, core.ErrEmptyTitle),
		errors.Is(err, core.ErrEmptyCategory),
		errors.Is(err, core.ErrNegativeBalance),
		errors.Is(err, auth.ErrUsernameTooShort),
		errors.Is(err, auth.ErrPasswordTooShort),
		errors.Is(err, parser.ErrUnparseable):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, parser.ErrNoModel):
		status = http.StatusServiceUnavailable
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "Request failed",
			"error", err, "method", r.Method, "url", r.URL.Path)
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}
