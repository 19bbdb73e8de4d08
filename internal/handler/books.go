package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yourorg/booklending/internal/domain"
	"github.com/yourorg/booklending/internal/service"
)

// BookRequest is the body of POST /books and PUT /books/{id}
type BookRequest struct {
	Title    *string `json:"title"`
	Author   *string `json:"author"`
	Quantity *int    `json:"quantity"`
}

// BookHandler serves the catalog
type BookHandler struct {
	books  *service.BookService
	logger *slog.Logger
}

// NewBookHandler creates a new book handler
func NewBookHandler(books *service.BookService, logger *slog.Logger) *BookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BookHandler{books: books, logger: logger}
}

// List handles GET /books
func (h *BookHandler) List(w http.ResponseWriter, r *http.Request) {
	books, err := h.books.ListBooks(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

// Get handles GET /books/{id}
func (h *BookHandler) Get(w http.ResponseWriter, r *http.Request) {
	book, err := h.books.GetBook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// Create handles POST /books
func (h *BookHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	in := service.BookInput{Quantity: req.Quantity}
	if req.Title != nil {
		in.Title = *req.Title
	}
	if req.Author != nil {
		in.Author = *req.Author
	}

	book, err := h.books.CreateBook(r.Context(), in)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

// Update handles PUT /books/{id}
func (h *BookHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	book, err := h.books.UpdateBook(r.Context(), chi.URLParam(r, "id"), domain.BookPatch{
		Title:    req.Title,
		Author:   req.Author,
		Quantity: req.Quantity,
	})
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// Delete handles DELETE /books/{id}
func (h *BookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.books.DeleteBook(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, h.logger, r, err,
			errorMapping{domain.ErrConflict, http.StatusConflict, "Book has copies on loan"},
		)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Book deleted successfully"})
}
