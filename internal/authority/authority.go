// Package authority resolves whether a derived wallet address may act as
// an administrator, consulting the ledger through the retry executor.
package authority

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/visitra/chaincore/internal/chainerr"
	"github.com/visitra/chaincore/internal/ledger"
	"github.com/visitra/chaincore/internal/retry"
)

// DefaultMinBalanceWei is 0.1 native-token units.
var DefaultMinBalanceWei = big.NewInt(100_000_000_000_000_000)

// Decision is the outcome of an authority check. Fallback results are
// never indistinguishable from genuine on-chain authorization: Fallback
// is true and Warning is set whenever the ledger could not be consulted.
type Decision struct {
	Authorized bool   `json:"authorized"`
	Address    string `json:"address"`
	Role       string `json:"role,omitempty"`
	LowBalance bool   `json:"lowBalance,omitempty"`
	Fallback   bool   `json:"fallback,omitempty"`
	Warning    string `json:"warning,omitempty"`
}

// Config tunes the resolver.
type Config struct {
	// MinBalanceWei below which an admin is accepted with a warning.
	MinBalanceWei *big.Int
	// FallbackEnabled authorizes with an explicit fallback marker when the
	// ledger is unreachable. Intended for development; off by default.
	FallbackEnabled bool
}

// Resolver checks admin authority against the ledger.
type Resolver struct {
	client ledger.Client
	exec   *retry.Executor
	cfg    Config
	logger *slog.Logger
}

// New creates a resolver. A nil MinBalanceWei uses the default.
func New(client ledger.Client, exec *retry.Executor, cfg Config, logger *slog.Logger) *Resolver {
	if cfg.MinBalanceWei == nil {
		cfg.MinBalanceWei = DefaultMinBalanceWei
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{client: client, exec: exec, cfg: cfg, logger: logger}
}

// Resolve checks admin authority for address. Ledger queries run through
// the retry executor; if the ledger stays unreachable after retries and
// fallback mode is enabled, the result is authorized-with-fallback rather
// than an error.
func (r *Resolver) Resolve(ctx context.Context, address string) (*Decision, error) {
	isAdmin, err := retry.DoValue(ctx, r.exec, "is_admin", func(ctx context.Context) (bool, error) {
		return r.client.IsAdmin(ctx, address)
	})
	if err != nil {
		return r.maybeFallback(address, "admin authority check", err)
	}
	if !isAdmin {
		return nil, chainerr.New(chainerr.KindUnauthorized,
			fmt.Sprintf("address %s holds no admin authority", address),
			false, chainerr.SeverityHigh)
	}

	meta, err := retry.DoValue(ctx, r.exec, "admin_metadata", func(ctx context.Context) (*ledger.AdminMetadata, error) {
		return r.client.AdminMetadata(ctx, address)
	})
	if err != nil {
		return r.maybeFallback(address, "admin metadata lookup", err)
	}
	if !meta.IsActive {
		return nil, chainerr.New(chainerr.KindUnauthorized,
			fmt.Sprintf("admin %s is deactivated", address),
			false, chainerr.SeverityHigh)
	}

	decision := &Decision{Authorized: true, Address: address, Role: meta.Role}

	balance, err := retry.DoValue(ctx, r.exec, "balance_of", func(ctx context.Context) (*big.Int, error) {
		return r.client.BalanceOf(ctx, address)
	})
	if err != nil {
		return r.maybeFallback(address, "balance check", err)
	}
	if balance.Cmp(r.cfg.MinBalanceWei) < 0 {
		// Low balance warns, never rejects: the admin can still read.
		decision.LowBalance = true
		decision.Warning = fmt.Sprintf("wallet balance %s wei is below the recommended minimum %s wei",
			balance, r.cfg.MinBalanceWei)
	}

	return decision, nil
}

// maybeFallback converts an unreachable-ledger failure into an explicit
// authorized-with-fallback decision when fallback mode is enabled.
func (r *Resolver) maybeFallback(address, step string, err error) (*Decision, error) {
	if !r.cfg.FallbackEnabled || !isUnreachable(err) {
		return nil, err
	}

	r.logger.Warn("ledger unreachable, granting fallback authorization",
		"address", address,
		"step", step,
		"error", err,
	)
	return &Decision{
		Authorized: true,
		Address:    address,
		Fallback:   true,
		Warning:    fmt.Sprintf("ledger unreachable during %s; authorization granted in fallback mode", step),
	}, nil
}

// isUnreachable reports whether the classified error means the ledger
// could not be consulted at all (as opposed to answering with a denial).
func isUnreachable(err error) bool {
	var ce *chainerr.Error
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Kind {
	case chainerr.KindConnectionFailed, chainerr.KindTimeout, chainerr.KindCircuitOpen:
		return true
	default:
		return false
	}
}
