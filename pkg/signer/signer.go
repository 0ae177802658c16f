package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Minimum gas for a native-asset transfer.
const TransferGasLimit = 21000

// ValidationError names the request field that failed validation. Validation
// errors are resolved entirely on the client; they never reach the relay.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// SigningError wraps a cryptographic failure during signing.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("signing failed: %v", e.Err)
}

func (e *SigningError) Unwrap() error {
	return e.Err
}

// SignRequest carries everything needed to produce a raw signed transfer.
type SignRequest struct {
	PrivateKeyHex string
	To            string
	Amount        string // positive decimal, in base units (wei)
	Nonce         uint64
	GasLimit      uint64
	GasPrice      string // positive decimal, in base units (wei)
	ChainID       uint64
}

// Sign produces a raw signed native-asset transfer as 0x-prefixed hex.
// It is a pure computation: the private key is never logged, persisted, or
// embedded in the output beyond its effect on the signature. On any error
// the caller must not advance the nonce ledger.
func Sign(req SignRequest) (string, error) {
	key, err := parsePrivateKey(req.PrivateKeyHex)
	if err != nil {
		return "", err
	}

	if !common.IsHexAddress(req.To) {
		return "", &ValidationError{Field: "to", Reason: "not a valid address"}
	}
	to := common.HexToAddress(req.To)

	amount, err := parsePositiveDecimal("amount", req.Amount)
	if err != nil {
		return "", err
	}
	gasPrice, err := parsePositiveDecimal("gasPrice", req.GasPrice)
	if err != nil {
		return "", err
	}
	if req.GasLimit < TransferGasLimit {
		return "", &ValidationError{Field: "gasLimit", Reason: fmt.Sprintf("must be at least %d", TransferGasLimit)}
	}
	if req.ChainID == 0 {
		return "", &ValidationError{Field: "chainId", Reason: "must be non-zero"}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    req.Nonce,
		To:       &to,
		Value:    amount,
		Gas:      req.GasLimit,
		GasPrice: gasPrice,
	})

	chainID := new(big.Int).SetUint64(req.ChainID)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(chainID), key)
	if err != nil {
		return "", &SigningError{Err: err}
	}

	raw, err := signedTx.MarshalBinary()
	if err != nil {
		return "", &SigningError{Err: err}
	}

	return hexutil.Encode(raw), nil
}

// AddressFromKey derives the account address controlled by a private key.
func AddressFromKey(privateKeyHex string) (common.Address, error) {
	key, err := parsePrivateKey(privateKeyHex)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

func parsePrivateKey(hex string) (*ecdsa.PrivateKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hex), "0x")
	if len(trimmed) != 64 {
		return nil, &ValidationError{Field: "privateKey", Reason: "must be 32 bytes of hex"}
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, &ValidationError{Field: "privateKey", Reason: "not a valid secp256k1 scalar"}
	}
	return key, nil
}

func parsePositiveDecimal(field, value string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, &ValidationError{Field: field, Reason: "not a decimal integer"}
	}
	if n.Sign() <= 0 {
		return nil, &ValidationError{Field: field, Reason: "must be positive"}
	}
	return n, nil
}
