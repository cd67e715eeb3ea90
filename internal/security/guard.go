package security

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/visitra/chaincore/internal/chainerr"
	"github.com/visitra/chaincore/internal/pagination"
)

// Rate limit and detection defaults.
const (
	DefaultWindow       = 60 * time.Second
	DefaultMaxAuth      = 5
	DefaultMaxAPI       = 100
	DefaultMaxWallets   = 3
	walletWindow        = 24 * time.Hour
	limiterPruneMinSize = 1024
)

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// RetryAfter returns how long until the window resets.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

type windowEntry struct {
	attempts int
	resetAt  time.Time
}

// Limiter is a fixed-window counter keyed by client identity (wallet
// address or IP). Entries are created lazily on first attempt and reset
// when the window elapses.
type Limiter struct {
	window time.Duration
	max    int

	mu      sync.Mutex
	entries map[string]*windowEntry
}

// NewLimiter creates a fixed-window rate limiter. Non-positive arguments
// fall back to DefaultWindow and DefaultMaxAPI.
func NewLimiter(window time.Duration, max int) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if max <= 0 {
		max = DefaultMaxAPI
	}
	return &Limiter{
		window:  window,
		max:     max,
		entries: make(map[string]*windowEntry),
	}
}

// Check records an attempt for identity and reports whether it is allowed
// within the current window.
func (l *Limiter) Check(identity string) Result {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[identity]
	if !ok || !now.Before(entry.resetAt) {
		entry = &windowEntry{resetAt: now.Add(l.window)}
		l.entries[identity] = entry
	}
	entry.attempts++

	if len(l.entries) > limiterPruneMinSize {
		l.prune(now)
	}

	remaining := l.max - entry.attempts
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   entry.attempts <= l.max,
		Remaining: remaining,
		ResetAt:   entry.resetAt,
	}
}

// prune drops expired windows. Caller holds l.mu.
func (l *Limiter) prune(now time.Time) {
	for key, entry := range l.entries {
		if !now.Before(entry.resetAt) {
			delete(l.entries, key)
		}
	}
}

// Suspicion is the outcome of suspicious-activity heuristics.
type Suspicion struct {
	Suspicious bool     `json:"suspicious"`
	Reasons    []string `json:"reasons,omitempty"`
}

// Suspicion reasons.
const (
	ReasonMissingUA     = "missing user agent"
	ReasonAutomatedUA   = "automated user agent"
	ReasonWalletHopping = "multiple wallet addresses from same source"
)

// Has reports whether reason is among the suspicion reasons.
func (s Suspicion) Has(reason string) bool {
	for _, r := range s.Reasons {
		if r == reason {
			return true
		}
	}
	return false
}

// User agent substrings associated with automated clients.
var automatedAgents = []string{
	"curl", "wget", "python-requests", "python-urllib", "go-http-client",
	"java/", "scrapy", "httpclient", "okhttp", "bot", "spider", "crawler",
	"headless",
}

// Detector flags suspicious login activity: missing or automated user
// agents, and source IPs cycling through many distinct wallet addresses
// within a rolling 24h window.
type Detector struct {
	maxWallets int

	mu      sync.Mutex
	wallets map[string]map[string]time.Time // source IP -> wallet -> last seen
}

// NewDetector creates a detector. A non-positive maxWallets uses
// DefaultMaxWallets.
func NewDetector(maxWallets int) *Detector {
	if maxWallets <= 0 {
		maxWallets = DefaultMaxWallets
	}
	return &Detector{
		maxWallets: maxWallets,
		wallets:    make(map[string]map[string]time.Time),
	}
}

// Observe records a wallet authentication attempt from sourceIP and
// evaluates the heuristics. walletAddress may be empty for non-wallet
// traffic.
func (d *Detector) Observe(sourceIP, userAgent, walletAddress string) Suspicion {
	var reasons []string

	ua := strings.TrimSpace(userAgent)
	if ua == "" {
		reasons = append(reasons, ReasonMissingUA)
	} else {
		lower := strings.ToLower(ua)
		for _, marker := range automatedAgents {
			if strings.Contains(lower, marker) {
				reasons = append(reasons, ReasonAutomatedUA)
				break
			}
		}
	}

	if walletAddress != "" && sourceIP != "" {
		if n := d.recordWallet(sourceIP, strings.ToLower(walletAddress)); n > d.maxWallets {
			reasons = append(reasons, ReasonWalletHopping)
		}
	}

	return Suspicion{Suspicious: len(reasons) > 0, Reasons: reasons}
}

// recordWallet notes that wallet authenticated from ip and returns the
// number of distinct wallets seen from that ip in the last 24h.
func (d *Detector) recordWallet(ip, wallet string) int {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	seen, ok := d.wallets[ip]
	if !ok {
		seen = make(map[string]time.Time)
		d.wallets[ip] = seen
	}
	seen[wallet] = now

	cutoff := now.Add(-walletWindow)
	for addr, last := range seen {
		if last.Before(cutoff) {
			delete(seen, addr)
		}
	}
	return len(seen)
}

// Config configures the security guard.
type Config struct {
	Window     time.Duration
	MaxAuth    int
	MaxAPI     int
	MaxWallets int
	WebhookURL string
}

// DefaultConfig returns the default guard configuration.
func DefaultConfig() Config {
	return Config{
		Window:     DefaultWindow,
		MaxAuth:    DefaultMaxAuth,
		MaxAPI:     DefaultMaxAPI,
		MaxWallets: DefaultMaxWallets,
	}
}

// Guard combines rate limiting, suspicious-activity detection, and the
// audit log behind one component.
type Guard struct {
	authLimiter *Limiter
	apiLimiter  *Limiter
	detector    *Detector
	store       Store
	alerter     *Alerter
	logger      *slog.Logger
}

// NewGuard creates a security guard writing to store.
func NewGuard(cfg Config, store Store, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAuth <= 0 {
		cfg.MaxAuth = DefaultMaxAuth
	}
	return &Guard{
		authLimiter: NewLimiter(cfg.Window, cfg.MaxAuth),
		apiLimiter:  NewLimiter(cfg.Window, cfg.MaxAPI),
		detector:    NewDetector(cfg.MaxWallets),
		store:       store,
		alerter:     NewAlerter(cfg.WebhookURL, logger),
		logger:      logger,
	}
}

// CheckAuthRate applies the wallet-auth rate limit for identity.
func (g *Guard) CheckAuthRate(identity string) Result {
	return g.authLimiter.Check(identity)
}

// CheckAPIRate applies the general API rate limit for identity.
func (g *Guard) CheckAPIRate(identity string) Result {
	return g.apiLimiter.Check(identity)
}

// DetectSuspicious records a wallet authentication attempt and evaluates
// the suspicion heuristics.
func (g *Guard) DetectSuspicious(sourceIP, userAgent, walletAddress string) Suspicion {
	return g.detector.Observe(sourceIP, userAgent, walletAddress)
}

// Audit appends an entry to the audit log. Entries of severity high or
// critical additionally trigger the alert path. Storage failures are
// logged, never surfaced; auditing must not block the caller's request.
func (g *Guard) Audit(ctx context.Context, entry *Entry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Severity == "" {
		entry.Severity = chainerr.SeverityLow
	}

	auditEntriesTotal.WithLabelValues(entry.ViolationKind, string(entry.Severity)).Inc()

	if err := g.store.Append(ctx, entry); err != nil {
		g.logger.Error("audit append failed", "violation", entry.ViolationKind, "error", err)
	}

	if entry.Severity == chainerr.SeverityHigh || entry.Severity == chainerr.SeverityCritical {
		g.alerter.Notify(entry)
	}
}

// Report aggregates audit statistics for the last 24h.
func (g *Guard) Report(ctx context.Context) (*Report, error) {
	return g.store.Summarize(ctx, time.Now().Add(-24*time.Hour))
}

// RecentEntries returns one page of audit entries, newest first, plus
// the cursor for the next page ("" on the last page). The cursor argument
// is the opaque string from a previous call, or "" for the first page.
func (g *Guard) RecentEntries(ctx context.Context, limit int, cursor string) ([]*Entry, string, error) {
	before, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", err
	}
	// Fetch one extra entry to learn whether another page exists.
	entries, err := g.store.Recent(ctx, limit+1, before)
	if err != nil {
		return nil, "", err
	}
	entries, next, _ := pagination.ComputePage(entries, limit, func(e *Entry) (time.Time, string) {
		return e.CreatedAt, strconv.FormatInt(e.ID, 10)
	})
	return entries, next, nil
}
