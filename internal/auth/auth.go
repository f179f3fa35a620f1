// Package auth handles registration, login and session tokens. The ledger
// itself never sees credentials, only the authenticated user id.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"kharcha/internal/core"
	"kharcha/internal/storage"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUsernameTooShort = errors.New("username must be at least 3 characters")
	ErrPasswordTooShort = errors.New("password must be at least 6 characters")
)

type Manager struct {
	store  *storage.SQLiteRepository
	secret string
	ttl    time.Duration
}

func NewManager(store *storage.SQLiteRepository, secret string, ttl time.Duration) *Manager {
	return &Manager{store: store, secret: secret, ttl: ttl}
}

// Register creates a user with a bcrypt credential hash and an implicit
// zero-balance wallet. A taken username surfaces as core.ErrDuplicateUser.
func (m *Manager) Register(ctx context.Context, username, password string) (int64, error) {
	username = strings.TrimSpace(username)
	if len(username) < 3 {
		return 0, ErrUsernameTooShort
	}
	if len(password) < 6 {
		return 0, ErrPasswordTooShort
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	id, err := m.store.CreateUser(ctx, username, string(hash))
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Login verifies credentials and issues a session token. On success the
// user's wallet row is re-created if missing, so every authenticated user
// is guaranteed to have one.
func (m *Manager) Login(ctx context.Context, username, password string) (string, *core.User, error) {
	rec, err := m.store.UserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, core.ErrInvalidCredentials
		}
		return "", nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)); err != nil {
		return "", nil, core.ErrInvalidCredentials
	}

	if err := m.store.EnsureWallet(ctx, rec.ID); err != nil {
		return "", nil, fmt.Errorf("ensure wallet on login: %w", err)
	}

	token, err := GenerateToken(m.secret, rec.ID, m.ttl)
	if err != nil {
		return "", nil, fmt.Errorf("issue token: %w", err)
	}

	slog.InfoContext(ctx, "User logged in", "user_id", rec.ID, "username", rec.Username)
	return token, &core.User{ID: rec.ID, Username: rec.Username, CreatedAt: rec.CreatedAt}, nil
}

// Authenticate resolves a bearer token to a user id.
func (m *Manager) Authenticate(tokenStr string) (int64, error) {
	claims, err := ParseToken(m.secret, tokenStr)
	if err != nil {
		return 0, core.ErrInvalidCredentials
	}
	return claims.UserID, nil
}
