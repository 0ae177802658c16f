package signer

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKeyHex  = "289c2857d4598e37fb9647507e47a309d6133539bf21a8b9cb6df88fd5232032"
	testToAddr  = "0x0123456789abcDEF0123456789abCDef01234567"
	testChainID = uint64(11155111) // sepolia
)

func validRequest() SignRequest {
	return SignRequest{
		PrivateKeyHex: testKeyHex,
		To:            testToAddr,
		Amount:        "1000000000000000000", // 1 ETH in wei
		Nonce:         3,
		GasLimit:      21000,
		GasPrice:      "20000000000",
		ChainID:       testChainID,
	}
}

func TestSign_ProducesBroadcastableTransaction(t *testing.T) {
	raw, err := Sign(validRequest())
	require.NoError(t, err)
	require.True(t, len(raw) > 2)
	assert.Equal(t, "0x", raw[:2])

	// The output must parse back into the transaction we asked for.
	rawBytes, err := hexutil.Decode(raw)
	require.NoError(t, err)
	var tx types.Transaction
	require.NoError(t, tx.UnmarshalBinary(rawBytes))

	assert.Equal(t, uint64(3), tx.Nonce())
	assert.Equal(t, testToAddr, tx.To().Hex())
	assert.Equal(t, "1000000000000000000", tx.Value().String())
	assert.Equal(t, uint64(21000), tx.Gas())
	assert.Equal(t, "20000000000", tx.GasPrice().String())
	assert.Equal(t, testChainID, tx.ChainId().Uint64())

	// Signature must recover to the key's own address under EIP-155.
	key, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	sender, err := types.Sender(types.NewEIP155Signer(new(big.Int).SetUint64(testChainID)), &tx)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), sender)
}

func TestSign_Deterministic(t *testing.T) {
	// EIP-155 with RFC 6979 style deterministic k: same request, same bytes.
	first, err := Sign(validRequest())
	require.NoError(t, err)
	second, err := Sign(validRequest())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSign_AcceptsPrefixedKey(t *testing.T) {
	req := validRequest()
	req.PrivateKeyHex = "0x" + testKeyHex
	_, err := Sign(req)
	require.NoError(t, err)
}

func TestSign_ValidationNamesField(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SignRequest)
		field  string
	}{
		{"short key", func(r *SignRequest) { r.PrivateKeyHex = "abcd" }, "privateKey"},
		{"non-hex key", func(r *SignRequest) { r.PrivateKeyHex = string(make([]byte, 64)) }, "privateKey"},
		{"bad address", func(r *SignRequest) { r.To = "0x123" }, "to"},
		{"zero amount", func(r *SignRequest) { r.Amount = "0" }, "amount"},
		{"negative amount", func(r *SignRequest) { r.Amount = "-5" }, "amount"},
		{"non-decimal amount", func(r *SignRequest) { r.Amount = "1.5" }, "amount"},
		{"zero gas price", func(r *SignRequest) { r.GasPrice = "0" }, "gasPrice"},
		{"gas limit too small", func(r *SignRequest) { r.GasLimit = 20999 }, "gasLimit"},
		{"zero chain id", func(r *SignRequest) { r.ChainID = 0 }, "chainId"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(&req)
			_, err := Sign(req)
			require.Error(t, err)
			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tc.field, validationErr.Field)
		})
	}
}

func TestAddressFromKey(t *testing.T) {
	key, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)

	addr, err := AddressFromKey(testKeyHex)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), addr)

	// Same address for the 0x-prefixed form.
	prefixed, err := AddressFromKey("0x" + testKeyHex)
	require.NoError(t, err)
	assert.Equal(t, addr, prefixed)

	_, err = AddressFromKey("nonsense")
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "privateKey", validationErr.Field)
}
