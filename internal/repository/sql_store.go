package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/yourorg/booklending/internal/domain"
)

const (
	tableBooks        = "books"
	tableTransactions = "transactions"
	tableUsers        = "users"

	colID           = "id"
	colTitle        = "title"
	colAuthor       = "author"
	colQuantity     = "quantity"
	colUserID       = "user_id"
	colBookID       = "book_id"
	colType         = "type"
	colStatus       = "status"
	colCreatedAt    = "created_at"
	colName         = "name"
	colEmail        = "email"
	colPasswordHash = "password_hash"
	colRole         = "role"
)

var (
	bookColumns        = []any{colID, colTitle, colAuthor, colQuantity}
	transactionColumns = []any{colID, colUserID, colBookID, colQuantity, colType, colStatus, colCreatedAt}
	userColumns        = []any{colID, colName, colEmail, colPasswordHash, colRole, colCreatedAt}
)

// SQLStore implements the domain stores on PostgreSQL (lib/pq or pgx) and SQLite.
// Units of work run in a database transaction.
type SQLStore struct {
	db     *sqlx.DB
	ops    sqlOps
	logger *slog.Logger
}

// NewSQLStore creates a store on an open connection. The goqu dialect is
// chosen from the connection's driver name.
func NewSQLStore(db *sqlx.DB, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}

	dialect := "postgres"
	if db.DriverName() == "sqlite3" {
		dialect = "sqlite3"
	}

	return &SQLStore{
		db: db,
		ops: sqlOps{
			dialect: goqu.Dialect(dialect),
			now:     func() time.Time { return time.Now().UTC() },
		},
		logger: logger,
	}
}

// WithinTx runs fn in a database transaction, committing only if fn succeeds.
func (s *SQLStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, sqlTx{ops: s.ops, q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed", slog.String("error", rbErr.Error()))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Reserve takes count copies off the shelf in its own transaction.
func (s *SQLStore) Reserve(ctx context.Context, bookID string, count int) (book *domain.Book, err error) {
	err = s.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		book, err = tx.Inventory().Reserve(ctx, bookID, count)
		return err
	})
	return book, err
}

// Release puts count copies back on the shelf in its own transaction.
func (s *SQLStore) Release(ctx context.Context, bookID string, count int) (book *domain.Book, err error) {
	err = s.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		book, err = tx.Inventory().Release(ctx, bookID, count)
		return err
	})
	return book, err
}

// CreateBorrow opens a borrow transaction outside any unit of work.
func (s *SQLStore) CreateBorrow(ctx context.Context, userID, bookID string, count int) (*domain.Transaction, error) {
	return s.ops.createBorrow(ctx, s.db, userID, bookID, count)
}

// MarkReturned closes a transaction outside any unit of work.
func (s *SQLStore) MarkReturned(ctx context.Context, id string) (t *domain.Transaction, err error) {
	err = s.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		t, err = tx.Ledger().MarkReturned(ctx, id)
		return err
	})
	return t, err
}

// GetByID loads a transaction.
func (s *SQLStore) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	return s.ops.getTransaction(ctx, s.db, id)
}

// ListByUser returns a user's transactions, oldest first.
func (s *SQLStore) ListByUser(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	return s.ops.listByUser(ctx, s.db, userID)
}

// LoanStats aggregates open loans.
func (s *SQLStore) LoanStats(ctx context.Context) (*domain.LoanStats, error) {
	query, args, err := s.ops.dialect.From(tableTransactions).Prepared(true).
		Select(
			goqu.COUNT(goqu.Star()).As("active_transactions"),
			goqu.COALESCE(goqu.SUM(colQuantity), 0).As("copies_on_loan"),
		).
		Where(goqu.C(colStatus).Eq(string(domain.StatusActive))).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build loan stats query: %w", err)
	}

	var stats domain.LoanStats
	if err := sqlx.GetContext(ctx, s.db, &stats, query, args...); err != nil {
		return nil, fmt.Errorf("query loan stats: %w", err)
	}
	return &stats, nil
}

// CreateBook inserts a catalog entry, assigning an ID when none is set.
func (s *SQLStore) CreateBook(ctx context.Context, book *domain.Book) error {
	if book.ID == "" {
		book.ID = uuid.NewString()
	}

	query, args, err := s.ops.dialect.Insert(tableBooks).Prepared(true).
		Rows(goqu.Record{
			colID:       book.ID,
			colTitle:    book.Title,
			colAuthor:   book.Author,
			colQuantity: book.Quantity,
		}).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build insert book: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("book %s: %w", book.ID, domain.ErrConflict)
		}
		s.logger.Error("failed to create book",
			slog.String("book_id", book.ID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("insert book: %w", err)
	}
	return nil
}

// GetBook loads a catalog entry.
func (s *SQLStore) GetBook(ctx context.Context, id string) (*domain.Book, error) {
	return s.ops.getBook(ctx, s.db, id)
}

// ListBooks returns the catalog ordered by title.
func (s *SQLStore) ListBooks(ctx context.Context) ([]*domain.Book, error) {
	query, args, err := s.ops.dialect.From(tableBooks).Prepared(true).
		Select(bookColumns...).
		Order(goqu.C(colTitle).Asc(), goqu.C(colID).Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list books: %w", err)
	}

	books := []*domain.Book{}
	if err := sqlx.SelectContext(ctx, s.db, &books, query, args...); err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

// UpdateBook applies a catalog edit.
func (s *SQLStore) UpdateBook(ctx context.Context, id string, patch domain.BookPatch) (book *domain.Book, err error) {
	record := goqu.Record{}
	if patch.Title != nil {
		record[colTitle] = *patch.Title
	}
	if patch.Author != nil {
		record[colAuthor] = *patch.Author
	}
	if patch.Quantity != nil {
		record[colQuantity] = *patch.Quantity
	}
	if len(record) == 0 {
		return s.GetBook(ctx, id)
	}

	err = s.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		q := tx.(sqlTx).q
		query, args, err := s.ops.dialect.Update(tableBooks).Prepared(true).
			Set(record).
			Where(goqu.C(colID).Eq(id)).
			ToSQL()
		if err != nil {
			return fmt.Errorf("build update book: %w", err)
		}
		if err := execOne(ctx, q, query, args); err != nil {
			if errors.Is(err, errNoRows) {
				return fmt.Errorf("book %s: %w", id, domain.ErrBookNotFound)
			}
			return fmt.Errorf("update book: %w", err)
		}
		book, err = s.ops.getBook(ctx, q, id)
		return err
	})
	return book, err
}

// DeleteBook removes a catalog entry that has no copies on loan.
func (s *SQLStore) DeleteBook(ctx context.Context, id string) error {
	return s.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		q := tx.(sqlTx).q

		// Touch the row first: it takes the row lock, so a concurrent
		// reservation either commits before the count below or finds the
		// book gone.
		lock, args, err := s.ops.dialect.Update(tableBooks).Prepared(true).
			Set(goqu.Record{colQuantity: goqu.C(colQuantity)}).
			Where(goqu.C(colID).Eq(id)).
			ToSQL()
		if err != nil {
			return fmt.Errorf("build lock book: %w", err)
		}
		if err := execOne(ctx, q, lock, args); err != nil {
			if errors.Is(err, errNoRows) {
				return fmt.Errorf("book %s: %w", id, domain.ErrBookNotFound)
			}
			return fmt.Errorf("lock book: %w", err)
		}

		count, args, err := s.ops.dialect.From(tableTransactions).Prepared(true).
			Select(goqu.COUNT(goqu.Star())).
			Where(goqu.C(colBookID).Eq(id), goqu.C(colStatus).Eq(string(domain.StatusActive))).
			ToSQL()
		if err != nil {
			return fmt.Errorf("build count loans: %w", err)
		}
		var active int
		if err := sqlx.GetContext(ctx, q, &active, count, args...); err != nil {
			return fmt.Errorf("count loans: %w", err)
		}
		if active > 0 {
			return fmt.Errorf("book %s has %d active loans: %w", id, active, domain.ErrConflict)
		}

		del, args, err := s.ops.dialect.Delete(tableBooks).Prepared(true).
			Where(goqu.C(colID).Eq(id)).
			ToSQL()
		if err != nil {
			return fmt.Errorf("build delete book: %w", err)
		}
		if _, err := q.ExecContext(ctx, del, args...); err != nil {
			return fmt.Errorf("delete book: %w", err)
		}
		return nil
	})
}

// CreateUser inserts a user. Duplicate emails fail with ErrConflict.
func (s *SQLStore) CreateUser(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.ops.now()
	}

	query, args, err := s.ops.dialect.Insert(tableUsers).Prepared(true).
		Rows(goqu.Record{
			colID:           user.ID,
			colName:         user.Name,
			colEmail:        strings.ToLower(user.Email),
			colPasswordHash: user.PasswordHash,
			colRole:         string(user.Role),
			colCreatedAt:    user.CreatedAt,
		}).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build insert user: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("email %s: %w", user.Email, domain.ErrConflict)
		}
		s.logger.Error("failed to create user",
			slog.String("email", user.Email),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByID loads a user.
func (s *SQLStore) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return s.getUser(ctx, goqu.C(colID).Eq(id), id)
}

// GetUserByEmail loads a user by email.
func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.getUser(ctx, goqu.C(colEmail).Eq(strings.ToLower(email)), email)
}

func (s *SQLStore) getUser(ctx context.Context, where goqu.Expression, key string) (*domain.User, error) {
	query, args, err := s.ops.dialect.From(tableUsers).Prepared(true).
		Select(userColumns...).
		Where(where).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get user: %w", err)
	}

	var user domain.User
	if err := sqlx.GetContext(ctx, s.db, &user, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", key, domain.ErrUserNotFound)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// sqlTx binds the store operations to one database transaction.
type sqlTx struct {
	ops sqlOps
	q   sqlx.ExtContext
}

func (t sqlTx) Inventory() domain.InventoryStore { return sqlTxInventory(t) }
func (t sqlTx) Ledger() domain.TransactionLedger { return sqlTxLedger(t) }

type sqlTxInventory sqlTx

func (t sqlTxInventory) Reserve(ctx context.Context, bookID string, count int) (*domain.Book, error) {
	return t.ops.reserve(ctx, t.q, bookID, count)
}

func (t sqlTxInventory) Release(ctx context.Context, bookID string, count int) (*domain.Book, error) {
	return t.ops.release(ctx, t.q, bookID, count)
}

type sqlTxLedger sqlTx

func (t sqlTxLedger) CreateBorrow(ctx context.Context, userID, bookID string, count int) (*domain.Transaction, error) {
	return t.ops.createBorrow(ctx, t.q, userID, bookID, count)
}

func (t sqlTxLedger) MarkReturned(ctx context.Context, id string) (*domain.Transaction, error) {
	return t.ops.markReturned(ctx, t.q, id)
}

func (t sqlTxLedger) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	return t.ops.getTransaction(ctx, t.q, id)
}

func (t sqlTxLedger) ListByUser(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	return t.ops.listByUser(ctx, t.q, userID)
}

// sqlOps builds and runs the statements shared by the store and its transactions.
type sqlOps struct {
	dialect goqu.DialectWrapper
	now     func() time.Time
}

// reserve is one conditional UPDATE; the follow-up reads only explain a miss
// or load the new row, they never decide whether copies are taken.
func (o sqlOps) reserve(ctx context.Context, q sqlx.ExtContext, bookID string, count int) (*domain.Book, error) {
	query, args, err := o.dialect.Update(tableBooks).Prepared(true).
		Set(goqu.Record{colQuantity: goqu.L("? - ?", goqu.C(colQuantity), count)}).
		Where(goqu.C(colID).Eq(bookID), goqu.C(colQuantity).Gte(count)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build reserve: %w", err)
	}

	if err := execOne(ctx, q, query, args); err != nil {
		if !errors.Is(err, errNoRows) {
			return nil, fmt.Errorf("reserve copies: %w", err)
		}
		book, getErr := o.getBook(ctx, q, bookID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("book %s has %d copies, %d requested: %w", bookID, book.Quantity, count, domain.ErrInsufficientStock)
	}
	return o.getBook(ctx, q, bookID)
}

func (o sqlOps) release(ctx context.Context, q sqlx.ExtContext, bookID string, count int) (*domain.Book, error) {
	query, args, err := o.dialect.Update(tableBooks).Prepared(true).
		Set(goqu.Record{colQuantity: goqu.L("? + ?", goqu.C(colQuantity), count)}).
		Where(goqu.C(colID).Eq(bookID)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build release: %w", err)
	}

	if err := execOne(ctx, q, query, args); err != nil {
		if errors.Is(err, errNoRows) {
			return nil, fmt.Errorf("book %s: %w", bookID, domain.ErrBookNotFound)
		}
		return nil, fmt.Errorf("release copies: %w", err)
	}
	return o.getBook(ctx, q, bookID)
}

func (o sqlOps) createBorrow(ctx context.Context, q sqlx.ExtContext, userID, bookID string, count int) (*domain.Transaction, error) {
	t := &domain.Transaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		BookID:    bookID,
		Quantity:  count,
		Type:      domain.TypeBorrow,
		Status:    domain.StatusActive,
		CreatedAt: o.now(),
	}

	query, args, err := o.dialect.Insert(tableTransactions).Prepared(true).
		Rows(goqu.Record{
			colID:        t.ID,
			colUserID:    t.UserID,
			colBookID:    t.BookID,
			colQuantity:  t.Quantity,
			colType:      string(t.Type),
			colStatus:    string(t.Status),
			colCreatedAt: t.CreatedAt,
		}).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build insert transaction: %w", err)
	}

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	return t, nil
}

// markReturned is a conditional UPDATE on status, so of two concurrent
// returns exactly one changes the row.
func (o sqlOps) markReturned(ctx context.Context, q sqlx.ExtContext, id string) (*domain.Transaction, error) {
	query, args, err := o.dialect.Update(tableTransactions).Prepared(true).
		Set(goqu.Record{
			colStatus: string(domain.StatusReturned),
			colType:   string(domain.TypeReturn),
		}).
		Where(goqu.C(colID).Eq(id), goqu.C(colStatus).Eq(string(domain.StatusActive))).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build mark returned: %w", err)
	}

	if err := execOne(ctx, q, query, args); err != nil {
		if !errors.Is(err, errNoRows) {
			return nil, fmt.Errorf("mark returned: %w", err)
		}
		if _, getErr := o.getTransaction(ctx, q, id); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("transaction %s: %w", id, domain.ErrAlreadyReturned)
	}
	return o.getTransaction(ctx, q, id)
}

func (o sqlOps) getBook(ctx context.Context, q sqlx.QueryerContext, id string) (*domain.Book, error) {
	query, args, err := o.dialect.From(tableBooks).Prepared(true).
		Select(bookColumns...).
		Where(goqu.C(colID).Eq(id)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get book: %w", err)
	}

	var book domain.Book
	if err := sqlx.GetContext(ctx, q, &book, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("book %s: %w", id, domain.ErrBookNotFound)
		}
		return nil, fmt.Errorf("get book: %w", err)
	}
	return &book, nil
}

func (o sqlOps) getTransaction(ctx context.Context, q sqlx.QueryerContext, id string) (*domain.Transaction, error) {
	query, args, err := o.dialect.From(tableTransactions).Prepared(true).
		Select(transactionColumns...).
		Where(goqu.C(colID).Eq(id)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get transaction: %w", err)
	}

	var t domain.Transaction
	if err := sqlx.GetContext(ctx, q, &t, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("transaction %s: %w", id, domain.ErrTransactionNotFound)
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

func (o sqlOps) listByUser(ctx context.Context, q sqlx.QueryerContext, userID string) ([]*domain.Transaction, error) {
	query, args, err := o.dialect.From(tableTransactions).Prepared(true).
		Select(transactionColumns...).
		Where(goqu.C(colUserID).Eq(userID)).
		Order(goqu.C(colCreatedAt).Asc(), goqu.C(colID).Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list transactions: %w", err)
	}

	out := []*domain.Transaction{}
	if err := sqlx.SelectContext(ctx, q, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	for _, t := range out {
		t.CreatedAt = t.CreatedAt.UTC()
	}
	return out, nil
}

var errNoRows = errors.New("no rows affected")

// execOne runs a statement that must change exactly one row.
func execOne(ctx context.Context, q sqlx.ExecerContext, query string, args []any) error {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return errNoRows
	}
	return nil
}

// isUniqueViolation recognises unique-constraint errors from every supported driver.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
