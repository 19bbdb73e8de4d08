package domain

import (
	"context"
	"time"
)

// TransactionType is borrow while a loan is open and return once it is closed.
type TransactionType string

const (
	TypeBorrow TransactionType = "borrow"
	TypeReturn TransactionType = "return"
)

// TransactionStatus is the lifecycle state of a loan: active -> returned, terminal.
type TransactionStatus string

const (
	StatusActive   TransactionStatus = "active"
	StatusReturned TransactionStatus = "returned"
)

// Transaction records copies moved from the shelf to a borrower.
type Transaction struct {
	ID        string            `json:"id" db:"id"`
	UserID    string            `json:"userId" db:"user_id"`
	BookID    string            `json:"bookId" db:"book_id"`
	Quantity  int               `json:"quantity" db:"quantity"`
	Type      TransactionType   `json:"type" db:"type"`
	Status    TransactionStatus `json:"status" db:"status"`
	CreatedAt time.Time         `json:"createdAt" db:"created_at"`
}

// IsActive reports whether the loan is still open.
func (t *Transaction) IsActive() bool {
	return t.Status == StatusActive
}

// TransactionLedger owns transaction records and their state machine.
type TransactionLedger interface {
	CreateBorrow(ctx context.Context, userID, bookID string, count int) (*Transaction, error)
	// MarkReturned moves an active transaction to returned. A second call fails
	// with ErrAlreadyReturned.
	MarkReturned(ctx context.Context, id string) (*Transaction, error)
	GetByID(ctx context.Context, id string) (*Transaction, error)
	ListByUser(ctx context.Context, userID string) ([]*Transaction, error)
}

// LoanStats summarises open loans across the catalog.
type LoanStats struct {
	ActiveTransactions int `db:"active_transactions"`
	CopiesOnLoan       int `db:"copies_on_loan"`
}

// LoanStatsReader is implemented by stores that can aggregate open loans.
type LoanStatsReader interface {
	LoanStats(ctx context.Context) (*LoanStats, error)
}

// Tx exposes the stores bound to one unit of work.
type Tx interface {
	Inventory() InventoryStore
	Ledger() TransactionLedger
}

// UnitOfWork runs fn so that every mutation made through tx is applied
// together or not at all. If fn returns an error, nothing it did is kept.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
