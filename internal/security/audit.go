package security

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/visitra/chaincore/internal/chainerr"
	"github.com/visitra/chaincore/internal/pagination"
)

// Violation kinds recorded in the audit log.
const (
	ViolationRateLimit      = "rate_limit_exceeded"
	ViolationSuspiciousUA   = "suspicious_user_agent"
	ViolationWalletHopping  = "wallet_hopping"
	ViolationInvalidKey     = "invalid_private_key"
	ViolationUnauthorized   = "unauthorized_wallet"
	ViolationLoginFailure   = "login_failure"
	ViolationLoginSuccess   = "login_success"
	ViolationLedgerFailure  = "ledger_failure"
	ViolationSessionRevoked = "session_revoked"
)

var auditEntriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "visitra",
		Subsystem: "security",
		Name:      "audit_entries_total",
		Help:      "Audit log entries recorded, by violation kind and severity.",
	},
	[]string{"violation_kind", "severity"},
)

func init() {
	prometheus.MustRegister(auditEntriesTotal)
}

// Entry is a single audit log record. Append-only; never mutated after
// creation.
type Entry struct {
	ID             int64             `json:"id"`
	ViolationKind  string            `json:"violationKind"`
	SubjectAddress string            `json:"subjectAddress,omitempty"`
	SourceIP       string            `json:"sourceIp"`
	UserAgent      string            `json:"userAgent,omitempty"`
	Details        map[string]string `json:"details,omitempty"`
	Severity       chainerr.Severity `json:"severity"`
	Blocked        bool              `json:"blocked"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// Report aggregates audit log statistics over a time window.
type Report struct {
	Since       time.Time      `json:"since"`
	GeneratedAt time.Time      `json:"generatedAt"`
	Total       int            `json:"total"`
	Blocked     int            `json:"blocked"`
	ByKind      map[string]int `json:"byKind"`
	BySeverity  map[string]int `json:"bySeverity"`
}

// Store persists audit entries.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	// Recent returns entries newest first. A non-nil cursor restricts
	// results to entries strictly older than the cursor position.
	Recent(ctx context.Context, limit int, before *pagination.Cursor) ([]*Entry, error)
	Summarize(ctx context.Context, since time.Time) (*Report, error)
}

// olderThan reports whether the entry sits before the cursor in the
// newest-first ordering.
func olderThan(e *Entry, c *pagination.Cursor) bool {
	if c == nil {
		return true
	}
	if !e.CreatedAt.Equal(c.CreatedAt) {
		return e.CreatedAt.Before(c.CreatedAt)
	}
	cid, err := strconv.ParseInt(c.ID, 10, 64)
	if err != nil {
		return false
	}
	return e.ID < cid
}

// --- MemoryStore ---

// MemoryStore keeps audit entries in memory for demo/testing.
type MemoryStore struct {
	entries []*Entry
	nextID  int64
	mu      sync.RWMutex
}

// NewMemoryStore creates an in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	cp := *entry
	cp.ID = s.nextID
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.entries = append(s.entries, &cp)
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, limit int, before *pagination.Cursor) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	var result []*Entry
	for i := len(s.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if !olderThan(s.entries[i], before) {
			continue
		}
		cp := *s.entries[i]
		result = append(result, &cp)
	}
	return result, nil
}

func (s *MemoryStore) Summarize(_ context.Context, since time.Time) (*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := &Report{
		Since:       since,
		GeneratedAt: time.Now(),
		ByKind:      make(map[string]int),
		BySeverity:  make(map[string]int),
	}
	for _, e := range s.entries {
		if e.CreatedAt.Before(since) {
			continue
		}
		report.Total++
		if e.Blocked {
			report.Blocked++
		}
		report.ByKind[e.ViolationKind]++
		report.BySeverity[string(e.Severity)]++
	}
	return report, nil
}

// Entries returns all stored entries (for testing).
func (s *MemoryStore) Entries() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Entry, len(s.entries))
	copy(result, s.entries)
	return result
}

// --- PostgresStore ---

// PostgresStore writes audit entries to PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates an audit store backed by PostgreSQL.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, entry *Entry) error {
	details := "{}"
	if len(entry.Details) > 0 {
		b, err := json.Marshal(entry.Details)
		if err == nil {
			details = string(b)
		}
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO security_audit_log (violation_kind, subject_address, source_ip, user_agent, details, severity, blocked, created_at)
		VALUES ($1, $2, $3, $4, $5::JSONB, $6, $7, $8)
	`, entry.ViolationKind, entry.SubjectAddress, entry.SourceIP, entry.UserAgent,
		details, string(entry.Severity), entry.Blocked, createdAt)
	return err
}

func (s *PostgresStore) Recent(ctx context.Context, limit int, before *pagination.Cursor) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, violation_kind, COALESCE(subject_address, ''), source_ip, COALESCE(user_agent, ''),
			COALESCE(details::TEXT, '{}'), severity, blocked, created_at
		FROM security_audit_log
	`
	args := []any{limit}
	if before != nil {
		beforeID, err := strconv.ParseInt(before.ID, 10, 64)
		if err != nil {
			return nil, pagination.ErrInvalidCursor
		}
		query += ` WHERE (created_at, id) < ($2, $3)`
		args = append(args, before.CreatedAt, beforeID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var details, severity string
		if err := rows.Scan(&e.ID, &e.ViolationKind, &e.SubjectAddress, &e.SourceIP, &e.UserAgent,
			&details, &severity, &e.Blocked, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Severity = chainerr.Severity(severity)
		if details != "" && details != "{}" {
			_ = json.Unmarshal([]byte(details), &e.Details)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) Summarize(ctx context.Context, since time.Time) (*Report, error) {
	report := &Report{
		Since:       since,
		GeneratedAt: time.Now(),
		ByKind:      make(map[string]int),
		BySeverity:  make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT violation_kind, severity, blocked, COUNT(*)
		FROM security_audit_log WHERE created_at >= $1
		GROUP BY violation_kind, severity, blocked
	`, since)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var kind, severity string
		var blocked bool
		var count int
		if err := rows.Scan(&kind, &severity, &blocked, &count); err != nil {
			return nil, err
		}
		report.Total += count
		if blocked {
			report.Blocked += count
		}
		report.ByKind[kind] += count
		report.BySeverity[severity] += count
	}
	return report, rows.Err()
}
