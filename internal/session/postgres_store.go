package session

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed session store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_sessions (id, admin_id, wallet_address, token_hash, auth_kind, source_ip, user_agent, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, sess.ID, sess.AdminID, sess.WalletAddress, sess.TokenHash, string(sess.AuthKind),
		sess.SourceIP, sess.UserAgent, sess.CreatedAt, sess.ExpiresAt)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, admin_id, COALESCE(wallet_address, ''), token_hash, auth_kind, source_ip, user_agent, created_at, expires_at
		FROM auth_sessions WHERE id = $1
	`, id)

	sess := &Session{}
	var kind string
	err := row.Scan(&sess.ID, &sess.AdminID, &sess.WalletAddress, &sess.TokenHash, &kind,
		&sess.SourceIP, &sess.UserAgent, &sess.CreatedAt, &sess.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.AuthKind = AuthKind(kind)
	return sess, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (s *PostgresStore) ListByAdmin(ctx context.Context, adminID string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, admin_id, COALESCE(wallet_address, ''), token_hash, auth_kind, source_ip, user_agent, created_at, expires_at
		FROM auth_sessions WHERE admin_id = $1
		ORDER BY created_at DESC
	`, adminID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sessions []*Session
	for rows.Next() {
		sess := &Session{}
		var kind string
		if err := rows.Scan(&sess.ID, &sess.AdminID, &sess.WalletAddress, &sess.TokenHash, &kind,
			&sess.SourceIP, &sess.UserAgent, &sess.CreatedAt, &sess.ExpiresAt); err != nil {
			return nil, err
		}
		sess.AuthKind = AuthKind(kind)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}
