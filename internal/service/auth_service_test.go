package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/booklending/internal/domain"
	"github.com/yourorg/booklending/internal/infrastructure/logger"
	"github.com/yourorg/booklending/internal/security/auth"
)

type memUserRepo struct {
	mu      sync.Mutex
	byID    map[string]*domain.User
	byEmail map[string]*domain.User
	failGet error
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{byID: map[string]*domain.User{}, byEmail: map[string]*domain.User{}}
}

func (m *memUserRepo) CreateUser(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[u.Email]; ok {
		return domain.ErrConflict
	}
	if u.ID == "" {
		u.ID = "u-" + u.Email
	}
	u.CreatedAt = time.Now()
	m.byID[u.ID] = u
	m.byEmail[u.Email] = u
	return nil
}

func (m *memUserRepo) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		return u, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memUserRepo) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return nil, m.failGet
	}
	if u, ok := m.byEmail[email]; ok {
		return u, nil
	}
	return nil, domain.ErrNotFound
}

func newAuthService(repo domain.UserRepository) (*AuthService, *auth.TokenManager) {
	tokens := auth.NewTokenManager("secret", "")
	return NewAuthService(repo, tokens, time.Hour, logger.Discard()), tokens
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	repo := newMemUserRepo()
	s, tokens := newAuthService(repo)

	u, err := s.Register(ctx, RegisterInput{Name: "Alice", Email: " Alice@Example.com ", Password: "Password123"})
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, domain.RoleNormal, u.Role)
	assert.NotEqual(t, "Password123", u.PasswordHash)

	_, err = s.Register(ctx, RegisterInput{Name: "Alice 2", Email: "alice@example.com", Password: "Password123"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	lr, err := s.Login(ctx, "ALICE@example.com", "Password123")
	require.NoError(t, err)
	assert.Equal(t, 3600, lr.ExpiresIn)
	assert.Equal(t, "Bearer", lr.TokenType)

	claims, err := tokens.ValidateToken(lr.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)

	_, err = s.Login(ctx, "alice@example.com", "Wrong")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = s.Login(ctx, "nobody@example.com", "Password123")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = s.Login(ctx, "", "")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	s, _ := newAuthService(newMemUserRepo())

	tests := []struct {
		name string
		in   RegisterInput
	}{
		{"missing name", RegisterInput{Email: "a@b.c", Password: "Password123"}},
		{"bad email", RegisterInput{Name: "A", Email: "not-an-email", Password: "Password123"}},
		{"short password", RegisterInput{Name: "A", Email: "a@b.c", Password: "short"}},
		{"unknown role", RegisterInput{Name: "A", Email: "a@b.c", Password: "Password123", Role: "admin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Register(ctx, tt.in)
			assert.ErrorIs(t, err, domain.ErrInvalidArgument)
		})
	}

	m, err := s.Register(ctx, RegisterInput{Name: "Boss", Email: "boss@example.com", Password: "Password123", Role: domain.RoleManager})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleManager, m.Role)
}

func TestManagerSignupDisabled(t *testing.T) {
	ctx := context.Background()
	s, _ := newAuthService(newMemUserRepo())
	s.AllowManagerSignup(false)

	_, err := s.Register(ctx, RegisterInput{Name: "Boss", Email: "boss@example.com", Password: "Password123", Role: domain.RoleManager})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	u, err := s.Register(ctx, RegisterInput{Name: "Ann", Email: "ann@example.com", Password: "Password123"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleNormal, u.Role)
}

func TestLoginStorageFailure(t *testing.T) {
	repo := newMemUserRepo()
	repo.failGet = errors.New("connection reset")
	s, _ := newAuthService(repo)

	_, err := s.Login(context.Background(), "a@example.com", strings.Repeat("x", 8))
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrInvalidCredentials)
}
