package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/yourorg/booklending/internal/domain"
	"github.com/yourorg/booklending/internal/security"
	"github.com/yourorg/booklending/internal/security/audit"
	"github.com/yourorg/booklending/internal/security/auth"
	"github.com/yourorg/booklending/internal/security/ratelimit"
	"github.com/yourorg/booklending/pkg/cache"
)

type identityContextKey struct{}

// WithIdentity returns a context carrying the caller identity.
func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext returns the identity set by Authenticate.
func IdentityFromContext(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(domain.Identity)
	return id, ok
}

// Authenticator resolves bearer tokens to identities. The role comes from
// the user record, not the token, and is cached for a short TTL.
type Authenticator struct {
	tokens *auth.TokenManager
	users  domain.UserRepository
	cache  *cache.Cache[domain.Identity]
	ttl    time.Duration
	logger *slog.Logger
}

func NewAuthenticator(tokens *auth.TokenManager, users domain.UserRepository, ttl time.Duration, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		tokens: tokens,
		users:  users,
		cache:  cache.New[domain.Identity](),
		ttl:    ttl,
		logger: logger,
	}
}

// Middleware rejects requests without a valid token for an existing user.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		tokenString, err := auth.ExtractToken(authHeader)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		claims, err := a.tokens.ValidateToken(tokenString)
		if err != nil {
			a.logger.Debug("token rejected", slog.String("error", err.Error()))
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		id, err := a.resolve(r.Context(), claims.UserID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "User not found")
				return
			}
			a.logger.Error("failed to load user",
				slog.String("user_id", claims.UserID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "Server error")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func (a *Authenticator) resolve(ctx context.Context, userID string) (domain.Identity, error) {
	key := "user:" + userID
	if id, ok := a.cache.Get(key); ok {
		return id, nil
	}
	user, err := a.users.GetUserByID(ctx, userID)
	if err != nil {
		return domain.Identity{}, err
	}
	id := domain.Identity{UserID: user.ID, Role: user.Role}
	if a.ttl > 0 {
		a.cache.Set(key, id, a.ttl)
	}
	return id, nil
}

// RequireRole lets through only identities holding one of roles.
func RequireRole(guard *security.Guard, auditLog *audit.Logger, roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, _ := IdentityFromContext(r.Context())
			if err := guard.RequireRole(id, roles...); err != nil {
				auditLog.LogDenied(r.Context(), id.UserID, "api", r.URL.Path, err.Error())
				writeError(w, http.StatusForbidden, "Access denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientHost drops the port so every connection from one address shares a bucket.
func clientHost(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

// RateLimit limits requests per authenticated user, or per client address
// on public routes.
func RateLimit(limiter ratelimit.Limiter, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + clientHost(r.RemoteAddr)
			if id, ok := IdentityFromContext(r.Context()); ok {
				key = "user:" + id.UserID
			}

			if !limiter.Allow(r.Context(), key) {
				log.Warn("rate limit exceeded",
					slog.String("key", key),
					slog.String("path", r.URL.Path),
				)
				writeError(w, http.StatusTooManyRequests, "Too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsoniter.NewEncoder(w).Encode(map[string]string{"error": message})
}
