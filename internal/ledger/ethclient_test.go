package ledger

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	testRegistry = "0x000000000000000000000000000000000000dEaD"
	testOperator = "0000000000000000000000000000000000000000000000000000000000000001"
)

// fakeBackend answers contract calls from canned ABI-encoded outputs keyed
// by method selector.
type fakeBackend struct {
	parsedABI abi.ABI
	netID     *big.Int
	chainID   *big.Int
	balances  map[common.Address]*big.Int
	outputs   map[string][]interface{} // method name -> unpacked outputs
	err       error
	sentTxs   []*types.Transaction
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		t.Fatalf("parse ABI: %v", err)
	}
	return &fakeBackend{
		parsedABI: parsed,
		netID:     big.NewInt(1337),
		chainID:   big.NewInt(1337),
		balances:  make(map[common.Address]*big.Int),
		outputs:   make(map[string][]interface{}),
	}
}

func (f *fakeBackend) NetworkID(ctx context.Context) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.netID, nil
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.chainID, nil
}

func (f *fakeBackend) BalanceAt(ctx context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	if bal, ok := f.balances[account]; ok {
		return bal, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	for name, method := range f.parsedABI.Methods {
		if len(call.Data) >= 4 && string(call.Data[:4]) == string(method.ID) {
			out, ok := f.outputs[name]
			if !ok {
				return nil, errors.New("no canned output for " + name)
			}
			return method.Outputs.Pack(out...)
		}
	}
	return nil, errors.New("unknown method")
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return 7, nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 120000, nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if f.err != nil {
		return f.err
	}
	f.sentTxs = append(f.sentTxs, tx)
	return nil
}

func (f *fakeBackend) Close() {}

func newTestLedger(t *testing.T, backend Backend) *EthLedger {
	t.Helper()
	l, err := New(Config{
		ChainID:          1337,
		RegistryContract: testRegistry,
		OperatorKey:      testOperator,
	}, WithBackend(backend))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{ChainID: 1337})
	if !errors.Is(err, ErrBadConfig) {
		t.Fatalf("expected ErrBadConfig without contract, got %v", err)
	}
	_, err = New(Config{RegistryContract: testRegistry})
	if !errors.Is(err, ErrBadConfig) {
		t.Fatalf("expected ErrBadConfig without chain id, got %v", err)
	}
	_, err = New(Config{ChainID: 1337, RegistryContract: testRegistry, OperatorKey: "zz"})
	if !errors.Is(err, ErrBadConfig) {
		t.Fatalf("expected ErrBadConfig for bad key, got %v", err)
	}
}

func TestIsReachable(t *testing.T) {
	backend := newFakeBackend(t)
	l := newTestLedger(t, backend)

	ok, err := l.IsReachable(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected reachable, got %v/%v", ok, err)
	}

	backend.err = errors.New("connection refused")
	ok, err = l.IsReachable(context.Background())
	if err == nil || ok {
		t.Fatal("expected unreachable on backend failure")
	}
}

func TestNetworkIdentity_ChainMismatch(t *testing.T) {
	backend := newFakeBackend(t)
	backend.chainID = big.NewInt(1) // node on the wrong chain
	l := newTestLedger(t, backend)

	_, err := l.NetworkIdentity(context.Background())
	if err == nil {
		t.Fatal("expected chain mismatch error")
	}
	if !strings.Contains(err.Error(), "chain id") {
		t.Fatalf("mismatch error should mention chain id, got %v", err)
	}
}

func TestIsAdmin(t *testing.T) {
	backend := newFakeBackend(t)
	backend.outputs["isAdmin"] = []interface{}{true}
	l := newTestLedger(t, backend)

	isAdmin, err := l.IsAdmin(context.Background(), "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf")
	if err != nil {
		t.Fatalf("IsAdmin: %v", err)
	}
	if !isAdmin {
		t.Fatal("expected admin")
	}
}

func TestAdminMetadata(t *testing.T) {
	backend := newFakeBackend(t)
	backend.outputs["adminInfo"] = []interface{}{true, "supervisor"}
	l := newTestLedger(t, backend)

	meta, err := l.AdminMetadata(context.Background(), "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf")
	if err != nil {
		t.Fatalf("AdminMetadata: %v", err)
	}
	if !meta.IsActive || meta.Role != "supervisor" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
}

func TestCreateRecord_SignsAndSends(t *testing.T) {
	backend := newFakeBackend(t)
	l := newTestLedger(t, backend)

	result, err := l.CreateRecord(context.Background(), RecordPayload{
		TouristID:    "T-1042",
		DocumentHash: "sha256:abc",
	})
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	if !result.OnChain {
		t.Fatal("expected on-chain result")
	}
	if !strings.HasPrefix(result.ID, "0x") || len(result.ID) != 66 {
		t.Fatalf("record id should be a 32-byte hash, got %s", result.ID)
	}
	if len(backend.sentTxs) != 1 {
		t.Fatalf("expected 1 sent tx, got %d", len(backend.sentTxs))
	}
	if result.TxHash != backend.sentTxs[0].Hash().Hex() {
		t.Fatal("result tx hash should match the sent transaction")
	}
}

func TestCreateRecord_RequiresOperatorKey(t *testing.T) {
	backend := newFakeBackend(t)
	l, err := New(Config{ChainID: 1337, RegistryContract: testRegistry}, WithBackend(backend))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = l.CreateRecord(context.Background(), RecordPayload{TouristID: "T-1"})
	if !errors.Is(err, ErrBadConfig) {
		t.Fatalf("expected ErrBadConfig without operator key, got %v", err)
	}
}

func TestVerifyRecord(t *testing.T) {
	backend := newFakeBackend(t)
	backend.outputs["verifyRecord"] = []interface{}{true, uint8(1)}
	l := newTestLedger(t, backend)

	status, err := l.VerifyRecord(context.Background(), "0x"+strings.Repeat("ab", 32))
	if err != nil {
		t.Fatalf("VerifyRecord: %v", err)
	}
	if !status.Valid || status.Status != "active" {
		t.Fatalf("unexpected status: %+v", status)
	}

	_, err = l.VerifyRecord(context.Background(), "not-an-id")
	if !errors.Is(err, ErrBadRecordID) {
		t.Fatalf("expected ErrBadRecordID, got %v", err)
	}
}

func TestStats(t *testing.T) {
	backend := newFakeBackend(t)
	backend.outputs["totalRecords"] = []interface{}{big.NewInt(240)}
	backend.outputs["activeRecords"] = []interface{}{big.NewInt(198)}
	backend.balances[common.HexToAddress(testRegistry)] = big.NewInt(5_000_000)
	l := newTestLedger(t, backend)

	stats, err := l.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalRecords != 240 || stats.ActiveRecords != 198 {
		t.Fatalf("unexpected counters: %+v", stats)
	}
	if stats.ReserveBalance.Cmp(big.NewInt(5_000_000)) != 0 {
		t.Fatalf("unexpected reserve: %s", stats.ReserveBalance)
	}
}
