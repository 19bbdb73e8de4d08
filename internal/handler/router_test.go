package handler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/booklending/internal/domain"
	"github.com/yourorg/booklending/internal/infrastructure/logger"
	"github.com/yourorg/booklending/internal/repository"
	"github.com/yourorg/booklending/internal/security"
	"github.com/yourorg/booklending/internal/security/audit"
	"github.com/yourorg/booklending/internal/security/auth"
	"github.com/yourorg/booklending/internal/security/middleware"
	"github.com/yourorg/booklending/internal/service"
)

type testServer struct {
	handler http.Handler
	store   *repository.MemoryStore
	tokens  *auth.TokenManager
}

func newTestServer(t *testing.T, checks map[string]Pinger) *testServer {
	t.Helper()
	log := logger.Discard()
	store := repository.NewMemoryStore(log)
	tokens := auth.NewTokenManager("secret", "")
	guard := security.NewGuard(log)
	auditLog := audit.NewLogger(log)

	h := NewRouter(RouterConfig{
		Auth:          NewAuthHandler(service.NewAuthService(store, tokens, time.Hour, log), log),
		Books:         NewBookHandler(service.NewBookService(store, log), log),
		Transactions:  NewTransactionHandler(service.NewLendingService(store, store, guard, auditLog, log), log),
		Health:        NewHealthHandler(checks, log),
		Authenticator: middleware.NewAuthenticator(tokens, store, time.Minute, log),
		Guard:         guard,
		Audit:         auditLog,
		Logger:        log,
	})
	return &testServer{handler: h, store: store, tokens: tokens}
}

func (s *testServer) user(t *testing.T, role domain.Role) (*domain.User, string) {
	t.Helper()
	u := &domain.User{Name: "U", Email: uuid.NewString() + "@example.com", PasswordHash: "x", Role: role}
	require.NoError(t, s.store.CreateUser(context.Background(), u))
	token, err := s.tokens.GenerateToken(u.ID, u.Role, time.Hour)
	require.NoError(t, err)
	return u, token
}

func (s *testServer) book(t *testing.T, qty int) *domain.Book {
	t.Helper()
	b := &domain.Book{Title: "Dune", Author: "Herbert", Quantity: qty}
	require.NoError(t, s.store.CreateBook(context.Background(), b))
	return b
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestBorrowEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	_, token := s.user(t, domain.RoleNormal)
	book := s.book(t, 2)

	rec := s.do(t, http.MethodPost, "/api/v1/transactions/borrow", token, BorrowRequest{BookID: book.ID, Quantity: 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created BorrowResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "Transaction created successfully", created.Message)
	assert.Equal(t, domain.StatusActive, created.Transaction.Status)

	tests := []struct {
		name   string
		body   BorrowRequest
		status int
		msg    string
	}{
		{"no stock", BorrowRequest{BookID: book.ID, Quantity: 1}, http.StatusBadRequest, "Not enough stock available"},
		{"unknown book", BorrowRequest{BookID: "missing", Quantity: 1}, http.StatusNotFound, "Book not found"},
		{"zero quantity", BorrowRequest{BookID: book.ID, Quantity: 0}, http.StatusBadRequest, "Quantity must be a positive integer"},
		{"missing book id", BorrowRequest{Quantity: 1}, http.StatusBadRequest, "bookId is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/transactions/borrow", token, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.msg, errorOf(t, rec))
		})
	}

	rec = s.do(t, http.MethodPost, "/api/v1/transactions/borrow", "", BorrowRequest{BookID: book.ID, Quantity: 1})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Authentication required", errorOf(t, rec))
}

func TestReturnEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	_, owner := s.user(t, domain.RoleNormal)
	_, other := s.user(t, domain.RoleNormal)
	_, mgr := s.user(t, domain.RoleManager)
	book := s.book(t, 5)

	rec := s.do(t, http.MethodPost, "/api/v1/transactions/borrow", owner, BorrowRequest{BookID: book.ID, Quantity: 2})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created BorrowResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	txID := created.Transaction.ID

	for _, token := range []string{other, mgr} {
		rec = s.do(t, http.MethodPost, "/api/v1/transactions/return", token, ReturnRequest{TransactionID: txID})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "You are not authorized to return this book", errorOf(t, rec))
	}

	rec = s.do(t, http.MethodPost, "/api/v1/transactions/return", owner, ReturnRequest{TransactionID: txID})
	require.Equal(t, http.StatusOK, rec.Code)
	var msg MessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, "Transaction returned successfully", msg.Message)

	got, err := s.store.GetBook(context.Background(), book.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Quantity)

	rec = s.do(t, http.MethodPost, "/api/v1/transactions/return", owner, ReturnRequest{TransactionID: txID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Book already returned", errorOf(t, rec))

	rec = s.do(t, http.MethodPost, "/api/v1/transactions/return", owner, ReturnRequest{TransactionID: "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Transaction not found", errorOf(t, rec))
}

func TestTransactionReadEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	_, owner := s.user(t, domain.RoleNormal)
	_, other := s.user(t, domain.RoleNormal)
	_, mgr := s.user(t, domain.RoleManager)
	book := s.book(t, 3)

	rec := s.do(t, http.MethodPost, "/api/v1/transactions/borrow", owner, BorrowRequest{BookID: book.ID, Quantity: 1})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created BorrowResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	path := "/api/v1/transactions/" + created.Transaction.ID

	for _, token := range []string{owner, mgr} {
		rec = s.do(t, http.MethodGet, path, token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var got TransactionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, created.Transaction.ID, got.Transaction.ID)
	}

	rec = s.do(t, http.MethodGet, path, other, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Access denied", errorOf(t, rec))

	rec = s.do(t, http.MethodGet, "/api/v1/transactions/missing", owner, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Transaction not found", errorOf(t, rec))

	rec = s.do(t, http.MethodGet, "/api/v1/transactions", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []domain.Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = s.do(t, http.MethodGet, "/api/v1/transactions", other, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestUserAndCatalogEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/users/register", "", RegisterRequest{Name: "Mia", Email: "mia@example.com", Password: "Password123", Role: "manager"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "password")

	rec = s.do(t, http.MethodPost, "/api/v1/users/register", "", RegisterRequest{Name: "Mia", Email: "mia@example.com", Password: "Password123"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/users/login", "", LoginRequest{Email: "mia@example.com", Password: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid credentials", errorOf(t, rec))

	rec = s.do(t, http.MethodPost, "/api/v1/users/login", "", LoginRequest{Email: "mia@example.com", Password: "Password123"})
	require.Equal(t, http.StatusOK, rec.Code)
	var login service.LoginResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	require.NotEmpty(t, login.Token)

	rec = s.do(t, http.MethodPost, "/api/v1/books", login.Token, map[string]any{"title": "Emma", "author": "Austen"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var book domain.Book
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &book))
	assert.Equal(t, 1, book.Quantity)

	_, normal := s.user(t, domain.RoleNormal)
	rec = s.do(t, http.MethodPost, "/api/v1/books", normal, map[string]any{"title": "X", "author": "Y"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Access denied", errorOf(t, rec))

	rec = s.do(t, http.MethodPut, "/api/v1/books/"+book.ID, login.Token, map[string]any{"quantity": 4})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &book))
	assert.Equal(t, 4, book.Quantity)

	rec = s.do(t, http.MethodGet, "/api/v1/books/"+book.ID, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/v1/books", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/transactions/borrow", normal, BorrowRequest{BookID: book.ID, Quantity: 1})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = s.do(t, http.MethodDelete, "/api/v1/books/"+book.ID, login.Token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/books/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Book not found", errorOf(t, rec))
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t, map[string]Pinger{
		"database": PingFunc(func(context.Context) error { return nil }),
		"redis":    nil,
	})
	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "not configured")

	down := newTestServer(t, map[string]Pinger{
		"database": PingFunc(func(context.Context) error { return errors.New("refused") }),
	})
	rec = down.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServerErrorIsOpaque(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	writeServiceError(rec, logger.Discard(), req, errors.New("pq: connection refused"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Server error", errorOf(t, rec))
}
