package ratelimit

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/yourorg/booklending/internal/reliability/circuitbreaker"
)

// Counter counts hits per key within an expiring window.
type Counter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisLimiter is a fixed-window limiter shared by every server instance.
// It fails open when Redis is unreachable, and stops asking Redis while
// the breaker is open.
type RedisLimiter struct {
	counter Counter
	breaker *circuitbreaker.CircuitBreaker
	maxReqs int
	window  time.Duration
	prefix  string
	logger  *slog.Logger
	now     func() time.Time
}

func NewRedisLimiter(counter Counter, maxRequests int, window time.Duration, logger *slog.Logger) *RedisLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	l := &RedisLimiter{
		counter: counter,
		breaker: circuitbreaker.New(5, 1, 10*time.Second),
		maxReqs: maxRequests,
		window:  window,
		prefix:  "booklending:ratelimit:",
		logger:  logger,
		now:     time.Now,
	}
	l.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		l.logger.Warn("rate limiter breaker changed state",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
	})
	return l
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) bool {
	if key == "" || l.maxReqs <= 0 {
		return true
	}

	if !l.breaker.Allow() {
		return true
	}

	slot := l.now().UnixNano() / int64(l.window)
	n, err := l.counter.IncrWindow(ctx, l.prefix+key+":"+strconv.FormatInt(slot, 10), l.window)
	if err != nil {
		l.breaker.RecordFailure()
		l.logger.Warn("rate limiter unavailable, allowing request",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return true
	}
	l.breaker.RecordSuccess()
	return n <= int64(l.maxReqs)
}
