package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Typed errors for programmatic handling.
var (
	ErrRPCConnection = errors.New("ledger: RPC connection failed")
	ErrBadConfig     = errors.New("ledger: invalid configuration")
	ErrBadRecordID   = errors.New("ledger: invalid record id")
)

// Minimal registry contract ABI: admin lookup plus record anchoring.
const registryABI = `[
	{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"isAdmin","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"adminInfo","outputs":[{"name":"active","type":"bool"},{"name":"role","type":"string"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"dataHash","type":"bytes32"}],"name":"createRecord","outputs":[{"name":"id","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"id","type":"uint256"}],"name":"verifyRecord","outputs":[{"name":"valid","type":"bool"},{"name":"status","type":"uint8"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"totalRecords","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"activeRecords","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

// DefaultGasLimit for createRecord when estimation fails.
const DefaultGasLimit = uint64(200000)

// Record status codes as stored by the registry contract.
var recordStatusNames = map[uint8]string{
	0: "pending",
	1: "active",
	2: "expired",
	3: "revoked",
}

// Backend abstracts the go-ethereum client for testing.
type Backend interface {
	NetworkID(ctx context.Context) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	Close()
}

// Config for the eth-backed ledger client.
type Config struct {
	RPCURL           string
	ChainID          int64
	RegistryContract string
	OperatorKey      string // hex private key used to sign record transactions
}

// Option configures the client.
type Option func(*EthLedger)

// WithBackend sets a custom backend (for testing).
func WithBackend(b Backend) Option {
	return func(l *EthLedger) { l.backend = b }
}

// EthLedger implements Client against an Ethereum-compatible node.
type EthLedger struct {
	backend     Backend
	chainID     *big.Int
	registry    common.Address
	registryABI abi.ABI
	operatorKey *ecdsa.PrivateKey
	operator    common.Address
}

var _ Client = (*EthLedger)(nil)

// New creates an eth-backed ledger client.
func New(cfg Config, opts ...Option) (*EthLedger, error) {
	if cfg.RegistryContract == "" {
		return nil, fmt.Errorf("%w: registry contract address required", ErrBadConfig)
	}
	if cfg.ChainID == 0 {
		return nil, fmt.Errorf("%w: chain id required", ErrBadConfig)
	}

	parsedABI, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, fmt.Errorf("parse registry ABI: %w", err)
	}

	l := &EthLedger{
		chainID:     big.NewInt(cfg.ChainID),
		registry:    common.HexToAddress(cfg.RegistryContract),
		registryABI: parsedABI,
	}

	if cfg.OperatorKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.OperatorKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("%w: bad operator key: %v", ErrBadConfig, err)
		}
		l.operatorKey = key
		l.operator = crypto.PubkeyToAddress(key.PublicKey)
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.backend == nil {
		if cfg.RPCURL == "" {
			return nil, fmt.Errorf("%w: RPC URL required", ErrBadConfig)
		}
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		l.backend = client
	}

	return l, nil
}

// IsReachable checks connectivity with a network id call.
func (l *EthLedger) IsReachable(ctx context.Context) (bool, error) {
	if _, err := l.backend.NetworkID(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// NetworkIdentity returns the node's network and chain ids.
func (l *EthLedger) NetworkIdentity(ctx context.Context) (*NetworkIdentity, error) {
	netID, err := l.backend.NetworkID(ctx)
	if err != nil {
		return nil, err
	}
	chainID, err := l.backend.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	if chainID.Cmp(l.chainID) != 0 {
		return nil, fmt.Errorf("connected to wrong chain id %s, want %s", chainID, l.chainID)
	}
	return &NetworkIdentity{NetworkID: netID, ChainID: chainID}, nil
}

// IsAdmin queries the registry contract for admin authority.
func (l *EthLedger) IsAdmin(ctx context.Context, address string) (bool, error) {
	out, err := l.call(ctx, "isAdmin", common.HexToAddress(address))
	if err != nil {
		return false, err
	}
	isAdmin, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected isAdmin response type %T", out[0])
	}
	return isAdmin, nil
}

// AdminMetadata queries the registry for an admin's active flag and role.
func (l *EthLedger) AdminMetadata(ctx context.Context, address string) (*AdminMetadata, error) {
	out, err := l.call(ctx, "adminInfo", common.HexToAddress(address))
	if err != nil {
		return nil, err
	}
	active, ok1 := out[0].(bool)
	role, ok2 := out[1].(string)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("unexpected adminInfo response types %T/%T", out[0], out[1])
	}
	return &AdminMetadata{IsActive: active, Role: role}, nil
}

// BalanceOf returns an address's native balance in wei.
func (l *EthLedger) BalanceOf(ctx context.Context, address string) (*big.Int, error) {
	return l.backend.BalanceAt(ctx, common.HexToAddress(address), nil)
}

// CreateRecord hashes the payload and anchors it via a signed transaction.
func (l *EthLedger) CreateRecord(ctx context.Context, payload RecordPayload) (*RecordResult, error) {
	if l.operatorKey == nil {
		return nil, fmt.Errorf("%w: operator key required for record creation", ErrBadConfig)
	}

	dataHash := crypto.Keccak256Hash([]byte(payload.TouristID), []byte(payload.DocumentHash))

	data, err := l.registryABI.Pack("createRecord", [32]byte(dataHash))
	if err != nil {
		return nil, fmt.Errorf("pack createRecord: %w", err)
	}

	nonce, err := l.backend.PendingNonceAt(ctx, l.operator)
	if err != nil {
		return nil, err
	}
	gasPrice, err := l.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	gasLimit, err := l.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: l.operator,
		To:   &l.registry,
		Data: data,
	})
	if err != nil {
		gasLimit = DefaultGasLimit
	}

	tx := types.NewTransaction(nonce, l.registry, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(l.chainID), l.operatorKey)
	if err != nil {
		return nil, fmt.Errorf("sign createRecord tx: %w", err)
	}

	if err := l.backend.SendTransaction(ctx, signedTx); err != nil {
		return nil, err
	}

	return &RecordResult{
		ID:      dataHash.Hex(),
		TxHash:  signedTx.Hash().Hex(),
		OnChain: true,
	}, nil
}

// VerifyRecord checks a record's validity and status on the registry.
func (l *EthLedger) VerifyRecord(ctx context.Context, id string) (*RecordStatus, error) {
	recordID, ok := parseRecordID(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBadRecordID, id)
	}

	out, err := l.call(ctx, "verifyRecord", recordID)
	if err != nil {
		return nil, err
	}
	valid, ok1 := out[0].(bool)
	status, ok2 := out[1].(uint8)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("unexpected verifyRecord response types %T/%T", out[0], out[1])
	}

	name := recordStatusNames[status]
	if name == "" {
		name = fmt.Sprintf("unknown(%d)", status)
	}
	return &RecordStatus{Valid: valid, Status: name}, nil
}

// Stats returns registry-wide counters and the contract's reserve balance.
func (l *EthLedger) Stats(ctx context.Context) (*Stats, error) {
	total, err := l.callUint(ctx, "totalRecords")
	if err != nil {
		return nil, err
	}
	active, err := l.callUint(ctx, "activeRecords")
	if err != nil {
		return nil, err
	}
	reserve, err := l.backend.BalanceAt(ctx, l.registry, nil)
	if err != nil {
		return nil, err
	}
	return &Stats{
		TotalRecords:   total.Uint64(),
		ActiveRecords:  active.Uint64(),
		ReserveBalance: reserve,
	}, nil
}

// Close closes the backend connection.
func (l *EthLedger) Close() error {
	if l.backend != nil {
		l.backend.Close()
	}
	return nil
}

func (l *EthLedger) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := l.registryABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	result, err := l.backend.CallContract(ctx, ethereum.CallMsg{
		To:   &l.registry,
		Data: data,
	}, nil)
	if err != nil {
		return nil, err
	}
	out, err := l.registryABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

func (l *EthLedger) callUint(ctx context.Context, method string) (*big.Int, error) {
	out, err := l.call(ctx, method)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s response type %T", method, out[0])
	}
	return v, nil
}

// parseRecordID accepts a 0x-prefixed 32-byte hash or a decimal id.
func parseRecordID(id string) (*big.Int, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, false
	}
	if strings.HasPrefix(id, "0x") {
		v, ok := new(big.Int).SetString(id[2:], 16)
		return v, ok
	}
	v, ok := new(big.Int).SetString(id, 10)
	return v, ok
}
