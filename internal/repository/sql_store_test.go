package repository

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/booklending/internal/domain"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "lending.db") + "?_busy_timeout=5000&_foreign_keys=1"
	db, err := sqlx.Open("sqlite3", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(context.Background(), db))
	// Second run must be a no-op.
	require.NoError(t, Migrate(context.Background(), db))
	return NewSQLStore(db, nil)
}

func TestSQLReserveAndRelease(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	b := seedBook(t, s, 2)

	got, err := s.Reserve(ctx, b.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Quantity)

	_, err = s.Reserve(ctx, b.ID, 1)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	_, err = s.Reserve(ctx, "missing", 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err = s.Release(ctx, b.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Quantity)

	_, err = s.Release(ctx, "missing", 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLReserveConcurrent(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	b := seedBook(t, s, 1)

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Reserve(ctx, b.ID, 1); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, ok.Load())
	got, err := s.GetBook(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Quantity)
}

func TestSQLLedger(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	tr, err := s.CreateBorrow(ctx, "u1", "b1", 2)
	require.NoError(t, err)

	got, err := s.GetByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, tr.UserID, got.UserID)
	assert.Equal(t, 2, got.Quantity)
	assert.Equal(t, domain.StatusActive, got.Status)

	done, err := s.MarkReturned(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReturned, done.Status)
	assert.Equal(t, domain.TypeReturn, done.Type)

	_, err = s.MarkReturned(ctx, tr.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyReturned)
	_, err = s.MarkReturned(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.GetByID(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err := s.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, tr.ID, list[0].ID)

	empty, err := s.ListByUser(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestSQLWithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	b := seedBook(t, s, 3)
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Inventory().Reserve(ctx, b.ID, 3); err != nil {
			return err
		}
		if _, err := tx.Ledger().CreateBorrow(ctx, "u1", b.ID, 3); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetBook(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Quantity)

	list, err := s.ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSQLBooksCatalog(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	b := seedBook(t, s, 1)
	require.NoError(t, s.CreateBook(ctx, &domain.Book{Title: "Akira", Author: "Otomo", Quantity: 4}))

	books, err := s.ListBooks(ctx)
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, "Akira", books[0].Title)

	title := "Dune Messiah"
	qty := 7
	updated, err := s.UpdateBook(ctx, b.ID, domain.BookPatch{Title: &title, Quantity: &qty})
	require.NoError(t, err)
	assert.Equal(t, "Dune Messiah", updated.Title)
	assert.Equal(t, "Frank Herbert", updated.Author)
	assert.Equal(t, 7, updated.Quantity)

	_, err = s.UpdateBook(ctx, "missing", domain.BookPatch{Title: &title})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, s.CreateBook(ctx, &domain.Book{ID: b.ID, Title: "x", Author: "y"}), domain.ErrConflict)
}

func TestSQLDeleteBookWithLoans(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	b := seedBook(t, s, 1)

	tr, err := s.CreateBorrow(ctx, "u1", b.ID, 1)
	require.NoError(t, err)
	assert.ErrorIs(t, s.DeleteBook(ctx, b.ID), domain.ErrConflict)

	_, err = s.MarkReturned(ctx, tr.ID)
	require.NoError(t, err)
	require.NoError(t, s.DeleteBook(ctx, b.ID))
	assert.ErrorIs(t, s.DeleteBook(ctx, b.ID), domain.ErrNotFound)
}

func TestSQLUsers(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	u := &domain.User{Name: "Ann", Email: "Ann@Example.com", PasswordHash: "hash", Role: domain.RoleManager}
	require.NoError(t, s.CreateUser(ctx, u))

	dup := &domain.User{Name: "Ann", Email: "ann@example.com", PasswordHash: "hash", Role: domain.RoleNormal}
	assert.ErrorIs(t, s.CreateUser(ctx, dup), domain.ErrConflict)

	got, err := s.GetUserByEmail(ctx, "ANN@EXAMPLE.COM")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, domain.RoleManager, got.Role)
	assert.Equal(t, "hash", got.PasswordHash)

	byID, err := s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", byID.Email)

	_, err = s.GetUserByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLLoanStats(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	stats, err := s.LoanStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.ActiveTransactions)
	assert.Equal(t, 0, stats.CopiesOnLoan)

	_, err = s.CreateBorrow(ctx, "u1", "b1", 2)
	require.NoError(t, err)
	tr, err := s.CreateBorrow(ctx, "u2", "b1", 3)
	require.NoError(t, err)
	_, err = s.MarkReturned(ctx, tr.ID)
	require.NoError(t, err)

	stats, err = s.LoanStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ActiveTransactions)
	assert.Equal(t, 2, stats.CopiesOnLoan)
}
