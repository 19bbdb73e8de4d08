package domain

import "context"

// Book is a catalog entry. Quantity is the number of copies currently on the shelf.
type Book struct {
	ID       string `json:"id" db:"id"`
	Title    string `json:"title" db:"title"`
	Author   string `json:"author" db:"author"`
	Quantity int    `json:"quantity" db:"quantity"`
}

// BookPatch carries a partial catalog edit. Nil fields are left unchanged.
type BookPatch struct {
	Title    *string
	Author   *string
	Quantity *int
}

// InventoryStore owns available-copy counts.
//
// Reserve must be a single conditional decrement: two callers racing for the
// last copy can never both succeed.
type InventoryStore interface {
	Reserve(ctx context.Context, bookID string, count int) (*Book, error)
	Release(ctx context.Context, bookID string, count int) (*Book, error)
}

// BookRepository is catalog CRUD that does not go through reservations.
type BookRepository interface {
	CreateBook(ctx context.Context, book *Book) error
	GetBook(ctx context.Context, id string) (*Book, error)
	ListBooks(ctx context.Context) ([]*Book, error)
	UpdateBook(ctx context.Context, id string, patch BookPatch) (*Book, error)
	// DeleteBook fails with ErrConflict while any active transaction references the book.
	DeleteBook(ctx context.Context, id string) error
}
