package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/yourorg/booklending/internal/domain"
)

const defaultBookQuantity = 1

// BookService manages the catalog. Copy counts on loan are changed only by
// LendingService; edits here set the shelf count directly.
type BookService struct {
	books  domain.BookRepository
	logger *slog.Logger
}

// NewBookService creates a new catalog service
func NewBookService(books domain.BookRepository, logger *slog.Logger) *BookService {
	if logger == nil {
		logger = slog.Default()
	}
	return &BookService{books: books, logger: logger}
}

// BookInput is a new catalog entry. A nil quantity means one copy.
type BookInput struct {
	Title    string
	Author   string
	Quantity *int
}

func (s *BookService) CreateBook(ctx context.Context, in BookInput) (*domain.Book, error) {
	book := &domain.Book{
		Title:    strings.TrimSpace(in.Title),
		Author:   strings.TrimSpace(in.Author),
		Quantity: defaultBookQuantity,
	}
	if book.Title == "" || book.Author == "" {
		return nil, fmt.Errorf("title and author are required: %w", domain.ErrInvalidArgument)
	}
	if in.Quantity != nil {
		if *in.Quantity < 0 {
			return nil, fmt.Errorf("quantity must not be negative: %w", domain.ErrInvalidArgument)
		}
		book.Quantity = *in.Quantity
	}

	if err := s.books.CreateBook(ctx, book); err != nil {
		return nil, err
	}

	s.logger.Info("book added",
		slog.String("book_id", book.ID),
		slog.Int("quantity", book.Quantity),
	)
	return book, nil
}

func (s *BookService) GetBook(ctx context.Context, id string) (*domain.Book, error) {
	return s.books.GetBook(ctx, id)
}

func (s *BookService) ListBooks(ctx context.Context) ([]*domain.Book, error) {
	return s.books.ListBooks(ctx)
}

func (s *BookService) UpdateBook(ctx context.Context, id string, patch domain.BookPatch) (*domain.Book, error) {
	if patch.Title != nil {
		t := strings.TrimSpace(*patch.Title)
		if t == "" {
			return nil, fmt.Errorf("title must not be empty: %w", domain.ErrInvalidArgument)
		}
		patch.Title = &t
	}
	if patch.Author != nil {
		a := strings.TrimSpace(*patch.Author)
		if a == "" {
			return nil, fmt.Errorf("author must not be empty: %w", domain.ErrInvalidArgument)
		}
		patch.Author = &a
	}
	if patch.Quantity != nil && *patch.Quantity < 0 {
		return nil, fmt.Errorf("quantity must not be negative: %w", domain.ErrInvalidArgument)
	}

	book, err := s.books.UpdateBook(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.logger.Info("book updated", slog.String("book_id", id))
	return book, nil
}

func (s *BookService) DeleteBook(ctx context.Context, id string) error {
	if err := s.books.DeleteBook(ctx, id); err != nil {
		return err
	}
	s.logger.Info("book deleted", slog.String("book_id", id))
	return nil
}
