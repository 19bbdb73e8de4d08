package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/yourorg/booklending/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse carries a human readable outcome
type MessageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// decodeJSON reads a single JSON object from the body.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

// errorMapping pairs a sentinel with the status and message returned to
// clients. Route-specific overrides are checked before the defaults.
type errorMapping struct {
	target  error
	status  int
	message string
}

var defaultMappings = []errorMapping{
	{domain.ErrBookNotFound, http.StatusNotFound, "Book not found"},
	{domain.ErrTransactionNotFound, http.StatusNotFound, "Transaction not found"},
	{domain.ErrUserNotFound, http.StatusNotFound, "User not found"},
	{domain.ErrNotFound, http.StatusNotFound, "Not found"},
	{domain.ErrInsufficientStock, http.StatusBadRequest, "Not enough stock available"},
	{domain.ErrAlreadyReturned, http.StatusBadRequest, "Book already returned"},
	{domain.ErrForbidden, http.StatusForbidden, "Access denied"},
	{domain.ErrInvalidCredentials, http.StatusBadRequest, "Invalid credentials"},
	{domain.ErrConflict, http.StatusConflict, "Conflict"},
}

// writeServiceError maps err to a response. Unknown errors are logged and
// reported as a server error without detail.
func writeServiceError(w http.ResponseWriter, log *slog.Logger, r *http.Request, err error, overrides ...errorMapping) {
	for _, m := range overrides {
		if errors.Is(err, m.target) {
			writeError(w, m.status, m.message)
			return
		}
	}
	if errors.Is(err, domain.ErrInvalidArgument) {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	for _, m := range defaultMappings {
		if errors.Is(err, m.target) {
			writeError(w, m.status, m.message)
			return
		}
	}

	log.Error("request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "Server error")
}

// validationMessage strips the sentinel suffix from an invalid-argument error.
func validationMessage(err error) string {
	return strings.TrimSuffix(err.Error(), ": "+domain.ErrInvalidArgument.Error())
}
