package domain

import (
	"context"
	"time"
)

// Role is the coarse capability class of a user.
type Role string

const (
	RoleNormal  Role = "normal"
	RoleManager Role = "manager"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleNormal || r == RoleManager
}

// User represents a registered library user
type User struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Role         Role      `json:"role" db:"role"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// Identity is what the identity provider resolves a bearer credential to.
type Identity struct {
	UserID string
	Role   Role
}

// UserRepository defines data access for users
type UserRepository interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}
