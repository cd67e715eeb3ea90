// Package wallet validates admin private keys and derives their addresses.
// Validation is local: no network calls are made.
package wallet

import (
	"errors"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Typed errors for programmatic handling.
var (
	ErrEmptyKey      = errors.New("wallet: private key is empty")
	ErrBadLength     = errors.New("wallet: private key must be 64 hex characters")
	ErrBadEncoding   = errors.New("wallet: private key contains non-hex characters")
	ErrDegenerateKey = errors.New("wallet: private key is degenerate or low-entropy")
	ErrDerivation    = errors.New("wallet: key is not a valid secp256k1 private key")
)

var hexKeyPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// Validation is the outcome of a private key check.
type Validation struct {
	Valid   bool
	Address string // EIP-55 checksummed, set only when Valid
	Err     error
}

// ValidateKey checks a candidate private key and derives its address.
// Checks run in order: non-empty, fixed length, hex pattern, degenerate
// key rejection, then secp256k1 derivation. The 0x prefix is optional.
func ValidateKey(privateKey string) Validation {
	key := strings.TrimSpace(privateKey)
	if key == "" {
		return Validation{Err: ErrEmptyKey}
	}

	key = strings.TrimPrefix(key, "0x")
	if len(key) != 64 {
		return Validation{Err: ErrBadLength}
	}
	if !hexKeyPattern.MatchString(key) {
		return Validation{Err: ErrBadEncoding}
	}
	if isDegenerate(strings.ToLower(key)) {
		return Validation{Err: ErrDegenerateKey}
	}

	priv, err := crypto.HexToECDSA(key)
	if err != nil {
		return Validation{Err: errors.Join(ErrDerivation, err)}
	}

	return Validation{
		Valid:   true,
		Address: crypto.PubkeyToAddress(priv.PublicKey).Hex(),
	}
}

// isDegenerate rejects keys with obviously insufficient entropy: a single
// repeated nibble (covers all-zero and all-f) or the incrementing
// 0123456789abcdef pattern in either direction.
func isDegenerate(key string) bool {
	uniform := true
	for i := 1; i < len(key); i++ {
		if key[i] != key[0] {
			uniform = false
			break
		}
	}
	if uniform {
		return true
	}

	const ascending = "0123456789abcdef"
	asc := strings.Repeat(ascending, 4)
	desc := reverse(asc)
	return key == asc || key == desc
}

func reverse(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}
