package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/yourorg/booklending/internal/domain"
	"github.com/yourorg/booklending/internal/featureflags"
	"github.com/yourorg/booklending/internal/handler"
	"github.com/yourorg/booklending/internal/infrastructure/logger"
	"github.com/yourorg/booklending/internal/infrastructure/redis"
	"github.com/yourorg/booklending/internal/observability/tracing"
	"github.com/yourorg/booklending/internal/repository"
	"github.com/yourorg/booklending/internal/security"
	"github.com/yourorg/booklending/internal/security/audit"
	"github.com/yourorg/booklending/internal/security/auth"
	"github.com/yourorg/booklending/internal/security/middleware"
	"github.com/yourorg/booklending/internal/security/ratelimit"
	"github.com/yourorg/booklending/internal/service"
	"github.com/yourorg/booklending/internal/worker"
	"github.com/yourorg/booklending/pkg/config"
	"github.com/yourorg/booklending/pkg/database"
)

// store is what the server needs from a storage backend.
type store interface {
	domain.UnitOfWork
	domain.TransactionLedger
	domain.BookRepository
	domain.UserRepository
	domain.LoanStatsReader
}

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize structured logger
	log := logger.NewLogger(cfg.LogLevel, cfg.LogFormat)
	log.Info("starting booklending server",
		slog.String("environment", cfg.Environment),
		slog.String("db_driver", cfg.DBDriver),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Initialize tracing
	shutdownTracing, err := tracing.Init(ctx, log, "booklending", cfg.Environment)
	if err != nil {
		log.Error("failed to initialize tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Initialize storage
	checks := map[string]handler.Pinger{}
	var st store
	if cfg.DBDriver == config.DriverMemory {
		log.Warn("using in-memory store, data is lost on restart")
		st = repository.NewMemoryStore(log)
	} else {
		pool, err := database.NewConnectionPool(ctx, &database.Config{
			Driver:          cfg.DBDriver,
			DSN:             cfg.DSN(),
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxOpenConns / 2,
			ConnMaxLifetime: 30 * time.Minute,
		}, log)
		if err != nil {
			log.Error("failed to connect to database", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pool.Close()

		if err := repository.Migrate(ctx, pool.GetDB()); err != nil {
			log.Error("failed to migrate database", slog.String("error", err.Error()))
			os.Exit(1)
		}
		st = repository.NewSQLStore(pool.GetDB(), log)
		checks["database"] = handler.PingFunc(pool.Health)
	}

	// 5. Initialize rate limiting, shared through Redis when configured
	window := time.Minute
	var limiter ratelimit.Limiter
	if cfg.RedisURL != "" && featureflags.EnabledOr(featureflags.RedisLimiter, true) {
		redisClient, err := redis.NewClient(ctx, cfg.RedisURL, log)
		if err != nil {
			log.Error("failed to connect to Redis", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer redisClient.Close()
		limiter = ratelimit.NewRedisLimiter(redisClient, cfg.RateLimitPerMinute, window, log)
		checks["redis"] = redisClient
	} else {
		memLimiter := ratelimit.NewMemoryLimiter(cfg.RateLimitPerMinute, window)
		defer memLimiter.Stop()
		limiter = memLimiter
	}

	// 6. Initialize security components
	tokenManager := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer)
	guard := security.NewGuard(log)
	auditLogger := audit.NewLogger(log)
	authenticator := middleware.NewAuthenticator(tokenManager, st, cfg.IdentityCacheTTL, log)

	// 7. Initialize services
	authService := service.NewAuthService(st, tokenManager, cfg.TokenTTL, log).
		AllowManagerSignup(featureflags.EnabledOr(featureflags.ManagerSignup, true))
	bookService := service.NewBookService(st, log)
	lendingService := service.NewLendingService(st, st, guard, auditLogger, log)

	// 8. Setup HTTP routes
	router := handler.NewRouter(handler.RouterConfig{
		Auth:          handler.NewAuthHandler(authService, log),
		Books:         handler.NewBookHandler(bookService, log),
		Transactions:  handler.NewTransactionHandler(lendingService, log),
		Health:        handler.NewHealthHandler(checks, log),
		Authenticator: authenticator,
		Guard:         guard,
		Audit:         auditLogger,
		Limiter:       limiter,
		CORSOrigins:   cfg.CORSAllowedOrigins,
		Logger:        log,
	})

	// 9. Start loan stats worker in background
	if featureflags.EnabledOr(featureflags.LoanStats, true) {
		go worker.NewLoanStatsWorker(st, log, cfg.StatsInterval).Start(ctx)
	}

	// 10. Start HTTP server
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           otelhttp.NewHandler(router, "booklending"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info("server starting",
		slog.Int("port", cfg.ServerPort),
		slog.Int("rate_limit", cfg.RateLimitPerMinute),
		slog.String("rate_limit_window", window.String()),
	)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", slog.String("error", err.Error()))
			sigChan <- syscall.SIGTERM
		}
	}()

	<-sigChan
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", slog.String("error", err.Error()))
	}
	cancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("tracing shutdown error", slog.String("error", err.Error()))
	}
	log.Info("server stopped")
}
