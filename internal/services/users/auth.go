package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/printmesh/printmesh/pkg/database"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials covers unknown emails, wrong passwords and disabled
// accounts alike, so a caller cannot probe which of them applied.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrSessionNotFound means the bearer token is unknown or expired.
var ErrSessionNotFound = errors.New("session not found")

// SessionLifetime is how long a login stays valid without re-authenticating.
const SessionLifetime = 30 * 24 * time.Hour

// Session is one issued bearer token.
type Session struct {
	Token     string
	UserID    string
	TenantID  string
	ExpiresAt time.Time
}

// Authenticator checks credentials and manages sessions.
type Authenticator struct {
	users *Repository
}

func NewAuthenticator(users *Repository) *Authenticator {
	return &Authenticator{users: users}
}

// HashPassword produces the bcrypt hash stored for a user.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Login verifies the credentials and issues a session token.
func (a *Authenticator) Login(ctx context.Context, tx database.DBTX, tenantID, email, password string) (*Session, *User, error) {
	user, err := a.users.GetByEmail(ctx, tx, tenantID, email)
	if errors.Is(err, ErrUserNotFound) {
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, err
	}
	if user.Deleted {
		return nil, nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, nil, ErrInvalidCredentials
	}

	session := &Session{
		Token:     uuid.NewString(),
		UserID:    user.ID,
		TenantID:  user.TenantID,
		ExpiresAt: time.Now().Add(SessionLifetime),
	}
	query := `
		INSERT INTO sessions (token, user_id, tenant_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, now())`
	if _, err := tx.Exec(ctx, query, session.Token, session.UserID, session.TenantID, session.ExpiresAt); err != nil {
		return nil, nil, fmt.Errorf("failed to store session: %w", err)
	}
	return session, user, nil
}

// Resolve looks up a live session by bearer token.
func (a *Authenticator) Resolve(ctx context.Context, tx database.DBTX, token string) (*Session, error) {
	query := `
		SELECT token, user_id, tenant_id, expires_at
		FROM sessions
		WHERE token = $1 AND expires_at > now()`

	var session Session
	err := tx.QueryRow(ctx, query, token).Scan(&session.Token, &session.UserID, &session.TenantID, &session.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	return &session, nil
}

// Logout revokes a session. Revoking an unknown token is not an error.
func (a *Authenticator) Logout(ctx context.Context, tx database.DBTX, token string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
