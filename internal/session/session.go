// Package session issues, validates, and revokes time-bounded admin
// authentication sessions.
//
// A session couples a random identifier with an HMAC-signed bearer token.
// Validation is a live check against expiry; the answer is never cached.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/visitra/chaincore/internal/metrics"
)

// DefaultLifetime for administrative sessions.
const DefaultLifetime = 8 * time.Hour

// Errors
var (
	ErrNotFound      = errors.New("session: not found")
	ErrExpired       = errors.New("session: expired")
	ErrBadToken      = errors.New("session: invalid token")
	ErrNoSecret      = errors.New("session: signing secret required")
	ErrTokenOutdated = errors.New("session: token does not match session")
)

// AuthKind distinguishes how the session was established.
type AuthKind string

const (
	AuthPassword AuthKind = "password"
	AuthWallet   AuthKind = "wallet"
)

// Session is a live authentication session. TokenHash stores a SHA-256 of
// the issued bearer token; the raw token is returned once at creation.
type Session struct {
	ID            string    `json:"id"`
	AdminID       string    `json:"adminId"`
	WalletAddress string    `json:"walletAddress,omitempty"`
	TokenHash     string    `json:"-"`
	AuthKind      AuthKind  `json:"authKind"`
	SourceIP      string    `json:"sourceIp"`
	UserAgent     string    `json:"userAgent"`
	CreatedAt     time.Time `json:"createdAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// Store persists sessions.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) (bool, error)
	ListByAdmin(ctx context.Context, adminID string) ([]*Session, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Manager handles the session lifecycle.
type Manager struct {
	store    Store
	secret   []byte
	lifetime time.Duration
}

// NewManager creates a session manager. A non-positive lifetime uses
// DefaultLifetime.
func NewManager(store Store, secret []byte, lifetime time.Duration) (*Manager, error) {
	if len(secret) == 0 {
		return nil, ErrNoSecret
	}
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return &Manager{store: store, secret: secret, lifetime: lifetime}, nil
}

// Create issues a new session and its signed bearer token.
func (m *Manager) Create(ctx context.Context, adminID, walletAddr, sourceIP, userAgent string, kind AuthKind) (*Session, string, error) {
	now := time.Now()
	id := uuid.NewString()

	claims := jwt.RegisteredClaims{
		ID:        id,
		Subject:   adminID,
		Issuer:    "chaincore",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.lifetime)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return nil, "", fmt.Errorf("sign session token: %w", err)
	}

	s := &Session{
		ID:            id,
		AdminID:       adminID,
		WalletAddress: walletAddr,
		TokenHash:     hashToken(token),
		AuthKind:      kind,
		SourceIP:      sourceIP,
		UserAgent:     userAgent,
		CreatedAt:     now,
		ExpiresAt:     now.Add(m.lifetime),
	}
	if err := m.store.Create(ctx, s); err != nil {
		return nil, "", err
	}
	metrics.ActiveSessions.Inc()
	return s, token, nil
}

// Validate looks up a session by id. An expired session is deleted on
// lookup and reported as ErrExpired.
func (m *Manager) Validate(ctx context.Context, id string) (*Session, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !time.Now().Before(s.ExpiresAt) {
		if deleted, err := m.store.Delete(ctx, id); err == nil && deleted {
			metrics.ActiveSessions.Dec()
		}
		return nil, ErrExpired
	}
	return s, nil
}

// ValidateToken verifies a bearer token's signature and resolves the
// session it names. The token must match the stored hash: a session whose
// token was reissued cannot be replayed with the old token.
func (m *Manager) ValidateToken(ctx context.Context, token string) (*Session, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrBadToken
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.ID == "" {
		return nil, ErrBadToken
	}

	s, err := m.Validate(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if s.TokenHash != hashToken(token) {
		return nil, ErrTokenOutdated
	}
	return s, nil
}

// Revoke deletes a session. Returns false if no such session existed.
func (m *Manager) Revoke(ctx context.Context, id string) bool {
	deleted, err := m.store.Delete(ctx, id)
	if err == nil && deleted {
		metrics.ActiveSessions.Dec()
	}
	return err == nil && deleted
}

// ListByAdmin returns all live sessions owned by an admin.
func (m *Manager) ListByAdmin(ctx context.Context, adminID string) ([]*Session, error) {
	return m.store.ListByAdmin(ctx, adminID)
}

// SweepExpired removes sessions past their expiry. Returns the count.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	count, err := m.store.DeleteExpired(ctx, time.Now())
	if err == nil && count > 0 {
		metrics.ActiveSessions.Sub(float64(count))
	}
	return count, err
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
