package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) *Config {
	return &Config{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        2 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastConfig(3), nil, "ping", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("not yet")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestDoWrapsLastError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Do(context.Background(), fastConfig(2), nil, "ping", func(context.Context) (struct{}, error) {
		return struct{}{}, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "after 2 attempts")
}

func TestDoStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, fastConfig(3), nil, "ping", func(context.Context) (int, error) {
		t.Fatal("fn must not run")
		return 0, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalculateBackoffCapped(t *testing.T) {
	cfg := &Config{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, BackoffMultiplier: 2}
	assert.Equal(t, 100*time.Millisecond, calculateBackoff(0, cfg))
	assert.Equal(t, 400*time.Millisecond, calculateBackoff(2, cfg))
	assert.Equal(t, time.Second, calculateBackoff(10, cfg))
}

func TestDoStopsOnPermanentError(t *testing.T) {
	denied := errors.New("password authentication failed")
	calls := 0
	_, err := Do(context.Background(), fastConfig(5), nil, "ping", func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, Permanent(denied)
	})
	require.ErrorIs(t, err, denied)
	assert.Equal(t, 1, calls)
	assert.Nil(t, Permanent(nil))
}
