package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/yourorg/booklending/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultAPIURL = "http://localhost:8080/api/v1"

// apiError is a non-2xx response from the server.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL, token string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

type loginResult struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expiresIn"`
}

func (c *apiClient) register(ctx context.Context, name, email, password, role string) (*domain.User, error) {
	var u domain.User
	body := map[string]string{"name": name, "email": email, "password": password, "role": role}
	if err := c.do(ctx, http.MethodPost, "/users/register", body, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *apiClient) login(ctx context.Context, email, password string) (*loginResult, error) {
	var out loginResult
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/users/login", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) listBooks(ctx context.Context) ([]*domain.Book, error) {
	var books []*domain.Book
	if err := c.do(ctx, http.MethodGet, "/books", nil, &books); err != nil {
		return nil, err
	}
	return books, nil
}

func (c *apiClient) addBook(ctx context.Context, title, author string, quantity int) (*domain.Book, error) {
	var b domain.Book
	body := map[string]any{"title": title, "author": author, "quantity": quantity}
	if err := c.do(ctx, http.MethodPost, "/books", body, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *apiClient) borrow(ctx context.Context, bookID string, quantity int) (*domain.Transaction, error) {
	var out struct {
		Transaction *domain.Transaction `json:"transaction"`
	}
	body := map[string]any{"bookId": bookID, "quantity": quantity}
	if err := c.do(ctx, http.MethodPost, "/transactions/borrow", body, &out); err != nil {
		return nil, err
	}
	return out.Transaction, nil
}

func (c *apiClient) returnBook(ctx context.Context, transactionID string) error {
	body := map[string]string{"transactionId": transactionID}
	return c.do(ctx, http.MethodPost, "/transactions/return", body, nil)
}

func (c *apiClient) transactions(ctx context.Context) ([]*domain.Transaction, error) {
	var list []*domain.Transaction
	if err := c.do(ctx, http.MethodGet, "/transactions", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *apiClient) transaction(ctx context.Context, id string) (*domain.Transaction, error) {
	var out struct {
		Transaction *domain.Transaction `json:"transaction"`
	}
	if err := c.do(ctx, http.MethodGet, "/transactions/"+id, nil, &out); err != nil {
		return nil, err
	}
	return out.Transaction, nil
}

func tokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".booklending", "token")
}

func saveToken(token string) error {
	path := tokenFile()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(token), 0o600)
}

// loadToken prefers BOOKLENDING_TOKEN over the saved login.
func loadToken() string {
	if t := os.Getenv("BOOKLENDING_TOKEN"); t != "" {
		return t
	}
	data, err := os.ReadFile(tokenFile())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
