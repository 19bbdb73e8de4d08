package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// Logger writes lending audit records to the structured log
type Logger struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewLogger(logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{logger: logger.With(slog.String("stream", "audit")), now: time.Now}
}

func (al *Logger) LogAction(ctx context.Context, userID, action, resource, resourceID, status, details string) {
	al.logger.InfoContext(ctx, "audit",
		slog.String("action", action),
		slog.String("resource", resource),
		slog.String("resource_id", resourceID),
		slog.String("user_id", userID),
		slog.String("status", status),
		slog.String("details", details),
		slog.String("request_id", middleware.GetReqID(ctx)),
		slog.Time("timestamp", al.now().UTC()),
	)
}

func (al *Logger) LogBorrow(ctx context.Context, userID, bookID, transactionID string, err error) {
	al.LogAction(ctx, userID, "borrow", "book", bookID, status(err), detail(transactionID, err))
}

func (al *Logger) LogReturn(ctx context.Context, userID, transactionID string, err error) {
	al.LogAction(ctx, userID, "return", "transaction", transactionID, status(err), detail("", err))
}

func (al *Logger) LogDenied(ctx context.Context, userID, resource, resourceID, reason string) {
	al.LogAction(ctx, userID, "access_denied", resource, resourceID, "denied", reason)
}

func status(err error) string {
	if err != nil {
		return "failed"
	}
	return "succeeded"
}

func detail(transactionID string, err error) string {
	if err != nil {
		return err.Error()
	}
	if transactionID != "" {
		return "transaction " + transactionID
	}
	return ""
}
