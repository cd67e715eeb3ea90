// Package health polls ledger connectivity and statistics, caching the
// result so dashboard refreshes do not hammer the ledger.
package health

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/visitra/chaincore/internal/ledger"
	"github.com/visitra/chaincore/internal/metrics"
	"github.com/visitra/chaincore/internal/retry"
)

// DefaultTTL is how long a cached snapshot stays fresh.
const DefaultTTL = 5 * time.Minute

// Snapshot is a point-in-time view of ledger health. Immutable once
// constructed; a fresh snapshot replaces the prior one wholesale.
type Snapshot struct {
	Connected      bool      `json:"connected"`
	NetworkID      *big.Int  `json:"networkId,omitempty"`
	ChainID        *big.Int  `json:"chainId,omitempty"`
	TotalRecords   uint64    `json:"totalRecords,omitempty"`
	ActiveRecords  uint64    `json:"activeRecords,omitempty"`
	ReserveBalance *big.Int  `json:"reserveBalance,omitempty"`
	ObservedAt     time.Time `json:"observedAt"`
}

// Monitor caches ledger health behind an atomic pointer: readers never
// observe a half-written snapshot.
type Monitor struct {
	client ledger.Client
	exec   *retry.Executor
	ttl    time.Duration
	logger *slog.Logger

	cached  atomic.Pointer[Snapshot]
	probeMu sync.Mutex // serializes refresh probes
}

// New creates a monitor. A non-positive ttl uses DefaultTTL.
func New(client ledger.Client, exec *retry.Executor, ttl time.Duration, logger *slog.Logger) *Monitor {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{client: client, exec: exec, ttl: ttl, logger: logger}
}

// GetHealth returns the cached snapshot if it is younger than the TTL,
// otherwise performs a fresh probe. Concurrent callers during a refresh
// share one probe.
func (m *Monitor) GetHealth(ctx context.Context) *Snapshot {
	if snap := m.cached.Load(); snap != nil && time.Since(snap.ObservedAt) < m.ttl {
		return snap
	}

	m.probeMu.Lock()
	defer m.probeMu.Unlock()

	// Re-check: another caller may have refreshed while we waited.
	if snap := m.cached.Load(); snap != nil && time.Since(snap.ObservedAt) < m.ttl {
		return snap
	}

	snap := m.probe(ctx)
	m.cached.Store(snap)
	return snap
}

// Invalidate discards the cached snapshot so the next read probes fresh.
func (m *Monitor) Invalidate() {
	m.cached.Store(nil)
}

// probe builds a fresh snapshot. The connectivity check gates the rest;
// identity and statistics queries may each fail without aborting the probe.
func (m *Monitor) probe(ctx context.Context) *Snapshot {
	snap := &Snapshot{ObservedAt: time.Now()}

	reachable, err := retry.DoValue(ctx, m.exec, "is_reachable", func(ctx context.Context) (bool, error) {
		return m.client.IsReachable(ctx)
	})
	if err != nil || !reachable {
		m.logger.Warn("ledger unreachable during health probe", "error", err)
		metrics.LedgerConnected.Set(0)
		return snap
	}
	snap.Connected = true
	metrics.LedgerConnected.Set(1)

	identity, err := retry.DoValue(ctx, m.exec, "network_identity", func(ctx context.Context) (*ledger.NetworkIdentity, error) {
		return m.client.NetworkIdentity(ctx)
	})
	if err != nil {
		m.logger.Warn("network identity probe failed", "error", err)
	} else {
		snap.NetworkID = identity.NetworkID
		snap.ChainID = identity.ChainID
	}

	stats, err := retry.DoValue(ctx, m.exec, "registry_stats", func(ctx context.Context) (*ledger.Stats, error) {
		return m.client.Stats(ctx)
	})
	if err != nil {
		m.logger.Warn("registry stats probe failed", "error", err)
	} else {
		snap.TotalRecords = stats.TotalRecords
		snap.ActiveRecords = stats.ActiveRecords
		snap.ReserveBalance = stats.ReserveBalance
	}

	return snap
}
