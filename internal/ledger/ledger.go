// Package ledger defines the call contract against the external
// registry ledger and its go-ethereum backed implementation.
//
// Callers never invoke a Client directly; every call goes through the
// retry executor so the circuit breaker sees each outcome.
package ledger

import (
	"context"
	"math/big"
)

// NetworkIdentity identifies the chain the service is connected to.
type NetworkIdentity struct {
	NetworkID *big.Int `json:"networkId"`
	ChainID   *big.Int `json:"chainId"`
}

// AdminMetadata describes an admin address as recorded on the ledger.
type AdminMetadata struct {
	IsActive bool   `json:"isActive"`
	Role     string `json:"role"`
}

// RecordPayload is the registration data anchored on the ledger.
type RecordPayload struct {
	TouristID    string `json:"touristId"`
	DocumentHash string `json:"documentHash"`
}

// RecordResult reports a created registration record.
type RecordResult struct {
	ID      string `json:"id"`
	TxHash  string `json:"txHash"`
	OnChain bool   `json:"onChain"`
}

// RecordStatus reports the verification state of a record.
type RecordStatus struct {
	Valid  bool   `json:"valid"`
	Status string `json:"status"`
}

// Stats are registry-wide counters used by the health monitor.
type Stats struct {
	TotalRecords   uint64   `json:"totalRecords"`
	ActiveRecords  uint64   `json:"activeRecords"`
	ReserveBalance *big.Int `json:"reserveBalance"`
}

// Client is the ledger service contract consumed by this core. All calls
// may fail with connection, timeout, or application-level errors; the
// chainerr package classifies them.
type Client interface {
	// IsReachable performs a cheap connectivity check.
	IsReachable(ctx context.Context) (bool, error)
	// NetworkIdentity returns the connected network and chain ids.
	NetworkIdentity(ctx context.Context) (*NetworkIdentity, error)
	// IsAdmin reports whether the address holds admin authority.
	IsAdmin(ctx context.Context, address string) (bool, error)
	// AdminMetadata returns the on-ledger metadata for an admin address.
	AdminMetadata(ctx context.Context, address string) (*AdminMetadata, error)
	// BalanceOf returns the native-token balance of an address in wei.
	BalanceOf(ctx context.Context, address string) (*big.Int, error)
	// CreateRecord anchors a registration record on the ledger.
	CreateRecord(ctx context.Context, payload RecordPayload) (*RecordResult, error)
	// VerifyRecord checks a previously created record.
	VerifyRecord(ctx context.Context, id string) (*RecordStatus, error)
	// Stats returns registry-wide counters.
	Stats(ctx context.Context) (*Stats, error)
	// Close releases the underlying connection.
	Close() error
}
