package repository

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/booklending/internal/domain"
)

// MemoryStore keeps books, users and transactions in process memory.
//
// Every exported method holds the store mutex only for its own read or
// conditional write, so Reserve is a compare-and-decrement and nothing more.
// Units of work are made atomic with an undo journal: each mutation applied
// through a Tx registers its compensation, and the journal is replayed in
// reverse when the work fails. Other requests may observe the intermediate
// state before a rollback; the SQL store does not have that property.
// Copies reserved by an open unit of work are counted in pending, and a
// book with pending reservations cannot be deleted.
type MemoryStore struct {
	mu           sync.Mutex
	books        map[string]*domain.Book
	transactions map[string]*domain.Transaction
	users        map[string]*domain.User
	emails       map[string]string // email -> user id
	pending      map[string]int    // book id -> open units of work holding a reservation
	logger       *slog.Logger
	now          func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		books:        make(map[string]*domain.Book),
		transactions: make(map[string]*domain.Transaction),
		users:        make(map[string]*domain.User),
		emails:       make(map[string]string),
		pending:      make(map[string]int),
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Reserve takes count copies off the shelf if that many are available.
func (s *MemoryStore) Reserve(_ context.Context, bookID string, count int) (*domain.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reserveLocked(bookID, count)
}

func (s *MemoryStore) reserveLocked(bookID string, count int) (*domain.Book, error) {
	book, ok := s.books[bookID]
	if !ok {
		return nil, fmt.Errorf("book %s: %w", bookID, domain.ErrBookNotFound)
	}
	if book.Quantity < count {
		return nil, fmt.Errorf("book %s has %d copies, %d requested: %w", bookID, book.Quantity, count, domain.ErrInsufficientStock)
	}
	book.Quantity -= count
	return copyBook(book), nil
}

// reserveHeld is Reserve for a unit of work: the book stays pinned until
// unpin is called when the work commits or rolls back.
func (s *MemoryStore) reserveHeld(bookID string, count int) (*domain.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, err := s.reserveLocked(bookID, count)
	if err != nil {
		return nil, err
	}
	s.pending[bookID]++
	return book, nil
}

func (s *MemoryStore) unpin(bookID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[bookID] <= 1 {
		delete(s.pending, bookID)
		return
	}
	s.pending[bookID]--
}

// Release puts count copies back on the shelf.
func (s *MemoryStore) Release(_ context.Context, bookID string, count int) (*domain.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.books[bookID]
	if !ok {
		return nil, fmt.Errorf("book %s: %w", bookID, domain.ErrBookNotFound)
	}
	book.Quantity += count
	return copyBook(book), nil
}

// CreateBorrow opens a new active borrow transaction.
func (s *MemoryStore) CreateBorrow(_ context.Context, userID, bookID string, count int) (*domain.Transaction, error) {
	t := &domain.Transaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		BookID:    bookID,
		Quantity:  count,
		Type:      domain.TypeBorrow,
		Status:    domain.StatusActive,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[t.ID] = t
	return copyTransaction(t), nil
}

// MarkReturned closes an active transaction.
func (s *MemoryStore) MarkReturned(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transactions[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, domain.ErrTransactionNotFound)
	}
	if !t.IsActive() {
		return nil, fmt.Errorf("transaction %s: %w", id, domain.ErrAlreadyReturned)
	}
	t.Status = domain.StatusReturned
	t.Type = domain.TypeReturn
	return copyTransaction(t), nil
}

// GetByID loads a transaction.
func (s *MemoryStore) GetByID(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transactions[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, domain.ErrTransactionNotFound)
	}
	return copyTransaction(t), nil
}

// ListByUser returns a user's transactions, oldest first.
func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]*domain.Transaction, error) {
	s.mu.Lock()
	out := []*domain.Transaction{}
	for _, t := range s.transactions {
		if t.UserID == userID {
			out = append(out, copyTransaction(t))
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// LoanStats aggregates open loans.
func (s *MemoryStore) LoanStats(_ context.Context) (*domain.LoanStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &domain.LoanStats{}
	for _, t := range s.transactions {
		if t.IsActive() {
			stats.ActiveTransactions++
			stats.CopiesOnLoan += t.Quantity
		}
	}
	return stats, nil
}

// CreateBook adds a catalog entry, assigning an ID when none is set.
func (s *MemoryStore) CreateBook(_ context.Context, book *domain.Book) error {
	if book.ID == "" {
		book.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.books[book.ID]; exists {
		return fmt.Errorf("book %s: %w", book.ID, domain.ErrConflict)
	}
	s.books[book.ID] = copyBook(book)
	return nil
}

// GetBook loads a catalog entry.
func (s *MemoryStore) GetBook(_ context.Context, id string) (*domain.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.books[id]
	if !ok {
		return nil, fmt.Errorf("book %s: %w", id, domain.ErrBookNotFound)
	}
	return copyBook(book), nil
}

// ListBooks returns the catalog ordered by title.
func (s *MemoryStore) ListBooks(_ context.Context) ([]*domain.Book, error) {
	s.mu.Lock()
	out := make([]*domain.Book, 0, len(s.books))
	for _, b := range s.books {
		out = append(out, copyBook(b))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Title == out[j].Title {
			return out[i].ID < out[j].ID
		}
		return out[i].Title < out[j].Title
	})
	return out, nil
}

// UpdateBook applies a catalog edit.
func (s *MemoryStore) UpdateBook(_ context.Context, id string, patch domain.BookPatch) (*domain.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.books[id]
	if !ok {
		return nil, fmt.Errorf("book %s: %w", id, domain.ErrBookNotFound)
	}
	if patch.Title != nil {
		book.Title = *patch.Title
	}
	if patch.Author != nil {
		book.Author = *patch.Author
	}
	if patch.Quantity != nil {
		book.Quantity = *patch.Quantity
	}
	return copyBook(book), nil
}

// DeleteBook removes a catalog entry that has no copies on loan.
func (s *MemoryStore) DeleteBook(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.books[id]; !ok {
		return fmt.Errorf("book %s: %w", id, domain.ErrBookNotFound)
	}
	if s.pending[id] > 0 {
		return fmt.Errorf("book %s has a borrow in progress: %w", id, domain.ErrConflict)
	}
	for _, t := range s.transactions {
		if t.BookID == id && t.IsActive() {
			return fmt.Errorf("book %s has copies on loan: %w", id, domain.ErrConflict)
		}
	}
	delete(s.books, id)
	return nil
}

// CreateUser registers a user; emails are unique case-insensitively.
func (s *MemoryStore) CreateUser(_ context.Context, user *domain.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	email := strings.ToLower(user.Email)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.emails[email]; taken {
		return fmt.Errorf("email %s: %w", email, domain.ErrConflict)
	}
	u := *user
	s.users[u.ID] = &u
	s.emails[email] = u.ID
	return nil
}

// GetUserByID loads a user.
func (s *MemoryStore) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, domain.ErrUserNotFound)
	}
	out := *u
	return &out, nil
}

// GetUserByEmail loads a user by email.
func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", email, domain.ErrUserNotFound)
	}
	out := *s.users[id]
	return &out, nil
}

// WithinTx runs fn against an undo journal and compensates on failure.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	tx := &memoryTx{store: s}
	defer tx.unpinAll()
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// forceAdjust moves quantity by delta without the availability check. Only
// compensations use it; a negative result is refused and reported.
func (s *MemoryStore) forceAdjust(bookID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.books[bookID]
	if !ok {
		return fmt.Errorf("book %s: %w", bookID, domain.ErrBookNotFound)
	}
	if book.Quantity+delta < 0 {
		return fmt.Errorf("book %s: %w", bookID, domain.ErrInsufficientStock)
	}
	book.Quantity += delta
	return nil
}

func (s *MemoryStore) removeTransaction(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transactions, id)
}

func (s *MemoryStore) reopenTransaction(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.transactions[id]; ok {
		t.Status = domain.StatusActive
		t.Type = domain.TypeBorrow
	}
}

type memoryTx struct {
	store  *MemoryStore
	undo   []func() error
	names  []string
	pinned []string
}

func (tx *memoryTx) unpinAll() {
	for _, id := range tx.pinned {
		tx.store.unpin(id)
	}
	tx.pinned = nil
}

func (tx *memoryTx) Inventory() domain.InventoryStore { return memoryTxInventory{tx} }
func (tx *memoryTx) Ledger() domain.TransactionLedger { return memoryTxLedger{tx} }

func (tx *memoryTx) record(name string, fn func() error) {
	tx.undo = append(tx.undo, fn)
	tx.names = append(tx.names, name)
}

func (tx *memoryTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		if err := tx.undo[i](); err != nil {
			tx.store.logger.Error("compensation failed",
				slog.String("step", tx.names[i]),
				slog.String("error", err.Error()),
			)
		}
	}
	tx.undo, tx.names = nil, nil
}

type memoryTxInventory struct{ tx *memoryTx }

func (i memoryTxInventory) Reserve(_ context.Context, bookID string, count int) (*domain.Book, error) {
	book, err := i.tx.store.reserveHeld(bookID, count)
	if err != nil {
		return nil, err
	}
	i.tx.pinned = append(i.tx.pinned, bookID)
	i.tx.record("reserve", func() error { return i.tx.store.forceAdjust(bookID, count) })
	return book, nil
}

func (i memoryTxInventory) Release(ctx context.Context, bookID string, count int) (*domain.Book, error) {
	book, err := i.tx.store.Release(ctx, bookID, count)
	if err != nil {
		return nil, err
	}
	i.tx.record("release", func() error { return i.tx.store.forceAdjust(bookID, -count) })
	return book, nil
}

type memoryTxLedger struct{ tx *memoryTx }

func (l memoryTxLedger) CreateBorrow(ctx context.Context, userID, bookID string, count int) (*domain.Transaction, error) {
	t, err := l.tx.store.CreateBorrow(ctx, userID, bookID, count)
	if err != nil {
		return nil, err
	}
	l.tx.record("create_borrow", func() error {
		l.tx.store.removeTransaction(t.ID)
		return nil
	})
	return t, nil
}

func (l memoryTxLedger) MarkReturned(ctx context.Context, id string) (*domain.Transaction, error) {
	t, err := l.tx.store.MarkReturned(ctx, id)
	if err != nil {
		return nil, err
	}
	l.tx.record("mark_returned", func() error {
		l.tx.store.reopenTransaction(id)
		return nil
	})
	return t, nil
}

func (l memoryTxLedger) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	return l.tx.store.GetByID(ctx, id)
}

func (l memoryTxLedger) ListByUser(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	return l.tx.store.ListByUser(ctx, userID)
}

func copyBook(b *domain.Book) *domain.Book {
	out := *b
	return &out
}

func copyTransaction(t *domain.Transaction) *domain.Transaction {
	out := *t
	return &out
}
