package security

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/yourorg/booklending/internal/domain"
)

// Decision is the outcome of an access check
type Decision struct {
	Allowed bool
	Reason  string
}

// Guard makes role and ownership decisions for the lending API
type Guard struct {
	logger *slog.Logger
}

// NewGuard creates a new guard
func NewGuard(logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{logger: logger}
}

// Decide allows the identity if it owns the resource or holds one of roles.
// An empty ownerID means the resource has no owner and only roles count.
func (g *Guard) Decide(id domain.Identity, ownerID string, roles ...domain.Role) Decision {
	if id.UserID == "" {
		return Decision{Reason: "anonymous"}
	}
	if ownerID != "" && id.UserID == ownerID {
		return Decision{Allowed: true, Reason: "owner"}
	}
	if slices.Contains(roles, id.Role) {
		return Decision{Allowed: true, Reason: "role " + string(id.Role)}
	}
	if ownerID != "" {
		return Decision{Reason: "not owner and role " + string(id.Role) + " not permitted"}
	}
	return Decision{Reason: "role " + string(id.Role) + " not permitted"}
}

// RequireRole fails with ErrForbidden unless the identity holds one of roles.
func (g *Guard) RequireRole(id domain.Identity, roles ...domain.Role) error {
	return g.enforce(id, "", roles)
}

// RequireOwnerOrRole fails with ErrForbidden unless the identity owns the
// resource or holds one of roles.
func (g *Guard) RequireOwnerOrRole(id domain.Identity, ownerID string, roles ...domain.Role) error {
	return g.enforce(id, ownerID, roles)
}

func (g *Guard) enforce(id domain.Identity, ownerID string, roles []domain.Role) error {
	d := g.Decide(id, ownerID, roles...)
	if d.Allowed {
		return nil
	}
	g.logger.Warn("access denied",
		slog.String("user_id", id.UserID),
		slog.String("role", string(id.Role)),
		slog.String("owner_id", ownerID),
		slog.String("reason", d.Reason),
	)
	return fmt.Errorf("%s: %w", d.Reason, domain.ErrForbidden)
}
