package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yourorg/booklending/internal/domain"
	"github.com/yourorg/booklending/internal/observability/metrics"
	"github.com/yourorg/booklending/internal/observability/tracing"
	"github.com/yourorg/booklending/internal/security"
	"github.com/yourorg/booklending/internal/security/audit"
)

// LendingService executes borrows and returns against shared inventory.
// It holds no locks of its own; consistency comes from the store's
// conditional updates and units of work.
type LendingService struct {
	uow    domain.UnitOfWork
	ledger domain.TransactionLedger
	guard  *security.Guard
	audit  *audit.Logger
	logger *slog.Logger
}

// NewLendingService creates a new lending service
func NewLendingService(
	uow domain.UnitOfWork,
	ledger domain.TransactionLedger,
	guard *security.Guard,
	auditLog *audit.Logger,
	logger *slog.Logger,
) *LendingService {
	if logger == nil {
		logger = slog.Default()
	}
	if guard == nil {
		guard = security.NewGuard(logger)
	}
	if auditLog == nil {
		auditLog = audit.NewLogger(logger)
	}
	return &LendingService{
		uow:    uow,
		ledger: ledger,
		guard:  guard,
		audit:  auditLog,
		logger: logger,
	}
}

// Borrow takes count copies of a book for the caller and opens a transaction.
// The reservation and the ledger entry are committed together.
func (s *LendingService) Borrow(ctx context.Context, id domain.Identity, bookID string, count int) (*domain.Transaction, error) {
	ctx, span := tracing.Tracer().Start(ctx, "lending.Borrow", trace.WithAttributes(
		attribute.String("user.id", id.UserID),
		attribute.String("book.id", bookID),
		attribute.Int("quantity", count),
	))
	defer span.End()
	start := time.Now()

	t, err := s.borrow(ctx, id, bookID, count)

	s.finish(span, "borrow", start, err)
	transactionID := ""
	if t != nil {
		transactionID = t.ID
		span.SetAttributes(attribute.String("transaction.id", t.ID))
	}
	s.audit.LogBorrow(ctx, id.UserID, bookID, transactionID, err)
	return t, err
}

func (s *LendingService) borrow(ctx context.Context, id domain.Identity, bookID string, count int) (*domain.Transaction, error) {
	if err := s.guard.RequireRole(id, domain.RoleNormal, domain.RoleManager); err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %d: %w", count, domain.ErrInvalidArgument)
	}

	var created *domain.Transaction
	reserved := false
	err := s.uow.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Inventory().Reserve(ctx, bookID, count); err != nil {
			return err
		}
		reserved = true

		t, err := tx.Ledger().CreateBorrow(ctx, id.UserID, bookID, count)
		if err != nil {
			return fmt.Errorf("failed to record borrow: %w", err)
		}
		created = t
		return nil
	})
	if err != nil {
		if reserved {
			metrics.ObserveRollback("borrow")
			s.logger.Warn("borrow rolled back",
				slog.String("user_id", id.UserID),
				slog.String("book_id", bookID),
				slog.String("error", err.Error()),
			)
		}
		return nil, err
	}

	s.logger.Info("book borrowed",
		slog.String("transaction_id", created.ID),
		slog.String("user_id", id.UserID),
		slog.String("book_id", bookID),
		slog.Int("quantity", count),
	)
	return created, nil
}

// ReturnBook closes the caller's own transaction and puts its copies back.
// Managers cannot return on behalf of other users.
func (s *LendingService) ReturnBook(ctx context.Context, id domain.Identity, transactionID string) (*domain.Transaction, error) {
	ctx, span := tracing.Tracer().Start(ctx, "lending.ReturnBook", trace.WithAttributes(
		attribute.String("user.id", id.UserID),
		attribute.String("transaction.id", transactionID),
	))
	defer span.End()
	start := time.Now()

	t, err := s.returnBook(ctx, id, transactionID)

	s.finish(span, "return", start, err)
	s.audit.LogReturn(ctx, id.UserID, transactionID, err)
	return t, err
}

func (s *LendingService) returnBook(ctx context.Context, id domain.Identity, transactionID string) (*domain.Transaction, error) {
	t, err := s.ledger.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if !t.IsActive() {
		return nil, fmt.Errorf("transaction %s: %w", transactionID, domain.ErrAlreadyReturned)
	}
	if err := s.guard.RequireOwnerOrRole(id, t.UserID); err != nil {
		s.audit.LogDenied(ctx, id.UserID, "transaction", transactionID, "return by non-owner")
		return nil, err
	}

	var returned *domain.Transaction
	marked := false
	err = s.uow.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		// The conditional transition also settles a concurrent return of the
		// same transaction: only one caller gets past it.
		r, err := tx.Ledger().MarkReturned(ctx, transactionID)
		if err != nil {
			return err
		}
		marked = true

		if _, err := tx.Inventory().Release(ctx, r.BookID, r.Quantity); err != nil {
			return fmt.Errorf("failed to restock book %s: %w", r.BookID, err)
		}
		returned = r
		return nil
	})
	if err != nil {
		if marked {
			metrics.ObserveRollback("return")
			s.logger.Warn("return rolled back",
				slog.String("transaction_id", transactionID),
				slog.String("error", err.Error()),
			)
		}
		return nil, err
	}

	s.logger.Info("book returned",
		slog.String("transaction_id", transactionID),
		slog.String("user_id", id.UserID),
		slog.String("book_id", returned.BookID),
		slog.Int("quantity", returned.Quantity),
	)
	return returned, nil
}

// GetTransaction returns a transaction visible to its borrower or any manager.
func (s *LendingService) GetTransaction(ctx context.Context, id domain.Identity, transactionID string) (*domain.Transaction, error) {
	ctx, span := tracing.Tracer().Start(ctx, "lending.GetTransaction")
	defer span.End()

	t, err := s.ledger.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.RequireOwnerOrRole(id, t.UserID, domain.RoleManager); err != nil {
		s.audit.LogDenied(ctx, id.UserID, "transaction", transactionID, "read by non-owner")
		return nil, err
	}
	return t, nil
}

// ListMyTransactions returns the caller's transactions, oldest first.
func (s *LendingService) ListMyTransactions(ctx context.Context, id domain.Identity) ([]*domain.Transaction, error) {
	ctx, span := tracing.Tracer().Start(ctx, "lending.ListMyTransactions")
	defer span.End()

	if err := s.guard.RequireRole(id, domain.RoleNormal, domain.RoleManager); err != nil {
		return nil, err
	}
	return s.ledger.ListByUser(ctx, id.UserID)
}

func (s *LendingService) finish(span trace.Span, operation string, start time.Time, err error) {
	result := resultLabel(err)
	metrics.ObserveLending(operation, result, time.Since(start))
	span.SetAttributes(attribute.String("result", result))
	if err != nil && result == "error" {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error(operation+" failed", slog.String("error", err.Error()))
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrAlreadyReturned):
		return "already_returned"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}
