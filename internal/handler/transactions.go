package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/yourorg/booklending/internal/domain"
	"github.com/yourorg/booklending/internal/security/middleware"
	"github.com/yourorg/booklending/internal/service"
)

// BorrowRequest is the body of POST /transactions/borrow
type BorrowRequest struct {
	BookID   string `json:"bookId"`
	Quantity int    `json:"quantity"`
}

// ReturnRequest is the body of POST /transactions/return
type ReturnRequest struct {
	TransactionID string `json:"transactionId"`
}

// BorrowResponse is returned after a successful borrow
type BorrowResponse struct {
	Message     string              `json:"message"`
	Transaction *domain.Transaction `json:"transaction"`
}

// TransactionResponse wraps a single transaction
type TransactionResponse struct {
	Transaction *domain.Transaction `json:"transaction"`
}

// TransactionHandler serves the lending endpoints. Every route requires an
// identity set by the authentication middleware.
type TransactionHandler struct {
	lending *service.LendingService
	logger  *slog.Logger
}

// NewTransactionHandler creates a new transaction handler
func NewTransactionHandler(lending *service.LendingService, logger *slog.Logger) *TransactionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransactionHandler{lending: lending, logger: logger}
}

// Routes mounts the handler under /transactions
func (h *TransactionHandler) Routes(r chi.Router) {
	r.Post("/borrow", h.Borrow)
	r.Post("/return", h.Return)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
}

// Borrow handles POST /transactions/borrow
func (h *TransactionHandler) Borrow(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req BorrowRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.Warn("failed to decode borrow request", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.BookID) == "" {
		writeError(w, http.StatusBadRequest, "bookId is required")
		return
	}

	t, err := h.lending.Borrow(r.Context(), id, req.BookID, req.Quantity)
	if err != nil {
		writeServiceError(w, h.logger, r, err,
			errorMapping{domain.ErrNotFound, http.StatusNotFound, "Book not found"},
			errorMapping{domain.ErrInvalidArgument, http.StatusBadRequest, "Quantity must be a positive integer"},
		)
		return
	}

	writeJSON(w, http.StatusCreated, BorrowResponse{
		Message:     "Transaction created successfully",
		Transaction: t,
	})
}

// Return handles POST /transactions/return
func (h *TransactionHandler) Return(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req ReturnRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.Warn("failed to decode return request", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.TransactionID) == "" {
		writeError(w, http.StatusBadRequest, "transactionId is required")
		return
	}

	if _, err := h.lending.ReturnBook(r.Context(), id, req.TransactionID); err != nil {
		writeServiceError(w, h.logger, r, err,
			errorMapping{domain.ErrForbidden, http.StatusForbidden, "You are not authorized to return this book"},
		)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Transaction returned successfully"})
}

// List handles GET /transactions
func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	list, err := h.lending.ListMyTransactions(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Get handles GET /transactions/{id}
func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	t, err := h.lending.GetTransaction(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, r, err,
			errorMapping{domain.ErrNotFound, http.StatusNotFound, "Transaction not found"},
		)
		return
	}
	writeJSON(w, http.StatusOK, TransactionResponse{Transaction: t})
}
