package ledger

import (
	"context"
	"math/big"
	"strings"
	"sync"
)

// Mock is an in-memory Client for tests. Set FailWith to make every call
// fail, or FailNext to fail a fixed number of calls before recovering.
type Mock struct {
	mu sync.Mutex

	Admins      map[string]*AdminMetadata // keyed by lowercase address
	Balances    map[string]*big.Int       // keyed by lowercase address
	Records     map[string]*RecordStatus
	NetID       *big.Int
	Chain       *big.Int
	RecordStats Stats

	FailWith error            // every call fails with this error while set
	FailNext int              // next n calls fail with FailWith, then succeed
	FailOn   map[string]error // per-method failures, keyed by method name

	Calls int // total calls observed, including failed ones
}

var _ Client = (*Mock)(nil)

// NewMock creates a mock ledger with empty state on chain id 1337.
func NewMock() *Mock {
	return &Mock{
		Admins:   make(map[string]*AdminMetadata),
		Balances: make(map[string]*big.Int),
		Records:  make(map[string]*RecordStatus),
		NetID:    big.NewInt(1337),
		Chain:    big.NewInt(1337),
	}
}

// SetAdmin registers an admin address with metadata and balance.
func (m *Mock) SetAdmin(address, role string, active bool, balance *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr := strings.ToLower(address)
	m.Admins[addr] = &AdminMetadata{IsActive: active, Role: role}
	if balance != nil {
		m.Balances[addr] = balance
	}
}

// fail returns the configured failure for the call, if any. Caller must hold m.mu.
func (m *Mock) fail(method string) error {
	m.Calls++
	if err, ok := m.FailOn[method]; ok {
		return err
	}
	if m.FailWith == nil {
		return nil
	}
	if m.FailNext > 0 {
		m.FailNext--
		err := m.FailWith
		if m.FailNext == 0 {
			m.FailWith = nil
		}
		return err
	}
	return m.FailWith
}

func (m *Mock) IsReachable(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("is_reachable"); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Mock) NetworkIdentity(ctx context.Context) (*NetworkIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("network_identity"); err != nil {
		return nil, err
	}
	return &NetworkIdentity{NetworkID: m.NetID, ChainID: m.Chain}, nil
}

func (m *Mock) IsAdmin(ctx context.Context, address string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("is_admin"); err != nil {
		return false, err
	}
	_, ok := m.Admins[strings.ToLower(address)]
	return ok, nil
}

func (m *Mock) AdminMetadata(ctx context.Context, address string) (*AdminMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("admin_metadata"); err != nil {
		return nil, err
	}
	meta, ok := m.Admins[strings.ToLower(address)]
	if !ok {
		return &AdminMetadata{}, nil
	}
	cp := *meta
	return &cp, nil
}

func (m *Mock) BalanceOf(ctx context.Context, address string) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("balance_of"); err != nil {
		return nil, err
	}
	bal, ok := m.Balances[strings.ToLower(address)]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(bal), nil
}

func (m *Mock) CreateRecord(ctx context.Context, payload RecordPayload) (*RecordResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("create_record"); err != nil {
		return nil, err
	}
	id := "0x" + strings.Repeat("0", 63) + "1"
	m.Records[id] = &RecordStatus{Valid: true, Status: "active"}
	m.RecordStats.TotalRecords++
	m.RecordStats.ActiveRecords++
	return &RecordResult{ID: id, TxHash: "0xmock", OnChain: true}, nil
}

func (m *Mock) VerifyRecord(ctx context.Context, id string) (*RecordStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("verify_record"); err != nil {
		return nil, err
	}
	status, ok := m.Records[id]
	if !ok {
		return &RecordStatus{Valid: false, Status: "unknown"}, nil
	}
	cp := *status
	return &cp, nil
}

func (m *Mock) Stats(ctx context.Context) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("stats"); err != nil {
		return nil, err
	}
	cp := m.RecordStats
	if cp.ReserveBalance == nil {
		cp.ReserveBalance = big.NewInt(0)
	}
	return &cp, nil
}

func (m *Mock) Close() error { return nil }

// CallCount returns the number of calls the mock has observed.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}
