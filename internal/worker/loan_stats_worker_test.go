package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/booklending/internal/domain"
	"github.com/yourorg/booklending/internal/infrastructure/logger"
	"github.com/yourorg/booklending/internal/repository"
)

type statsFunc func(ctx context.Context) (*domain.LoanStats, error)

func (f statsFunc) LoanStats(ctx context.Context) (*domain.LoanStats, error) { return f(ctx) }

func TestLoanStatsWorkerPublishes(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(logger.Discard())
	_, err := store.CreateBorrow(ctx, "u1", "b1", 2)
	require.NoError(t, err)
	_, err = store.CreateBorrow(ctx, "u2", "b1", 1)
	require.NoError(t, err)

	w := NewLoanStatsWorker(store, logger.Discard(), time.Hour)
	var gotActive, gotCopies int
	w.publish = func(active, copies int) { gotActive, gotCopies = active, copies }

	w.refresh(ctx)
	assert.Equal(t, 2, gotActive)
	assert.Equal(t, 3, gotCopies)
}

func TestLoanStatsWorkerKeepsLastValueOnError(t *testing.T) {
	w := NewLoanStatsWorker(statsFunc(func(context.Context) (*domain.LoanStats, error) {
		return nil, errors.New("db down")
	}), logger.Discard(), time.Hour)
	called := false
	w.publish = func(int, int) { called = true }

	w.refresh(context.Background())
	assert.False(t, called)
}

func TestLoanStatsWorkerStopsOnCancel(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	w := NewLoanStatsWorker(statsFunc(func(context.Context) (*domain.LoanStats, error) {
		return &domain.LoanStats{}, nil
	}), logger.Discard(), 10*time.Millisecond)
	w.publish = func(int, int) {
		mu.Lock()
		calls++
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
