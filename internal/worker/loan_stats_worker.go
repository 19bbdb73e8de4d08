package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/yourorg/booklending/internal/domain"
	"github.com/yourorg/booklending/internal/observability/metrics"
)

// LoanStatsWorker periodically publishes open-loan gauges
type LoanStatsWorker struct {
	stats    domain.LoanStatsReader
	logger   *slog.Logger
	interval time.Duration
	publish  func(active, copies int)
}

// NewLoanStatsWorker creates a new loan stats worker
func NewLoanStatsWorker(stats domain.LoanStatsReader, logger *slog.Logger, interval time.Duration) *LoanStatsWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &LoanStatsWorker{
		stats:    stats,
		logger:   logger,
		interval: interval,
		publish:  metrics.SetLoans,
	}
}

// Start runs until ctx is cancelled, refreshing once immediately
func (w *LoanStatsWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("loan stats worker started", slog.Duration("interval", w.interval))
	w.refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("loan stats worker stopped")
			return
		case <-ticker.C:
			w.refresh(ctx)
		}
	}
}

func (w *LoanStatsWorker) refresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, w.interval)
	defer cancel()

	s, err := w.stats.LoanStats(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("failed to read loan stats", slog.String("error", err.Error()))
		}
		return
	}
	w.publish(s.ActiveTransactions, s.CopiesOnLoan)
	w.logger.Debug("loan stats refreshed",
		slog.Int("active_transactions", s.ActiveTransactions),
		slog.Int("copies_on_loan", s.CopiesOnLoan),
	)
}
