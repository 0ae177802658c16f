package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testKeyHex = "289c2857d4598e37fb9647507e47a309d6133539bf21a8b9cb6df88fd5232032"

var testChainID = big.NewInt(11155111)

type fakeBackend struct {
	sent        []*types.Transaction
	sendErr     error
	receipts    map[common.Hash]*types.Receipt
	receiptErr  error
	txs         map[common.Hash]*types.Transaction
	nonces      map[common.Address]uint64
	nonceErr    error
	chainIDErr  error
	receiptWait int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		receipts: make(map[common.Hash]*types.Receipt),
		txs:      make(map[common.Hash]*types.Transaction),
		nonces:   make(map[common.Address]uint64),
	}
}

func (f *fakeBackend) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	if f.nonceErr != nil {
		return 0, f.nonceErr
	}
	return f.nonces[account], nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	if f.receiptWait > 0 {
		f.receiptWait--
		return nil, errors.New("not found")
	}
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	r, ok := f.receipts[txHash]
	if !ok {
		return nil, errors.New("not found")
	}
	return r, nil
}

func (f *fakeBackend) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	tx, ok := f.txs[hash]
	if !ok {
		return nil, false, errors.New("not found")
	}
	return tx, false, nil
}

func (f *fakeBackend) ChainID(_ context.Context) (*big.Int, error) {
	if f.chainIDErr != nil {
		return nil, f.chainIDErr
	}
	return testChainID, nil
}

func signedTransferHex(t *testing.T, nonce uint64) (string, *types.Transaction) {
	t.Helper()
	key, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	to := common.HexToAddress("0x0123456789abCDEF0123456789abCDef01234567")
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(1000),
		Gas:      21000,
		GasPrice: big.NewInt(2000000000),
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(testChainID), key)
	require.NoError(t, err)
	raw, err := signed.MarshalBinary()
	require.NoError(t, err)
	return hexutil.Encode(raw), signed
}

func newTestProvider(backend Backend) *EthProvider {
	return NewEthProviderFromBackend(backend, zap.NewNop())
}

func TestBroadcast_Success(t *testing.T) {
	backend := newFakeBackend()
	provider := newTestProvider(backend)

	rawHex, signed := signedTransferHex(t, 0)
	hash, err := provider.Broadcast(context.Background(), rawHex)
	require.NoError(t, err)
	assert.Equal(t, signed.Hash(), hash)
	require.Len(t, backend.sent, 1)
	assert.Equal(t, signed.Hash(), backend.sent[0].Hash())
}

func TestBroadcast_MalformedHex(t *testing.T) {
	provider := newTestProvider(newFakeBackend())

	_, err := provider.Broadcast(context.Background(), "not hex at all")
	require.Error(t, err)
	assert.True(t, IsBroadcastError(err))
}

func TestBroadcast_ClassifiesRejections(t *testing.T) {
	tests := []struct {
		name     string
		nodeErr  string
		wantKind RejectionKind
	}{
		{"stale nonce", "nonce too low: next nonce 5, tx nonce 3", RejectionStaleNonce},
		{"underpriced replacement", "replacement transaction underpriced", RejectionStaleNonce},
		{"insufficient funds", "insufficient funds for gas * price + value", RejectionInsufficientFunds},
		{"invalid sender", "invalid sender", RejectionInvalidSignature},
		{"unknown", "txpool is full", RejectionOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend()
			backend.sendErr = errors.New(tt.nodeErr)
			provider := newTestProvider(backend)

			rawHex, _ := signedTransferHex(t, 0)
			_, err := provider.Broadcast(context.Background(), rawHex)
			require.Error(t, err)

			var be *BroadcastError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, tt.wantKind, be.Kind)
			assert.Equal(t, tt.nodeErr, be.Reason)
		})
	}
}

func TestBroadcast_StaleNonceHelper(t *testing.T) {
	backend := newFakeBackend()
	backend.sendErr = errors.New("nonce too low")
	provider := newTestProvider(backend)

	rawHex, _ := signedTransferHex(t, 0)
	_, err := provider.Broadcast(context.Background(), rawHex)
	assert.True(t, IsStaleNonce(err))
	assert.False(t, IsInsufficientFunds(err))
}

func TestGetNonce(t *testing.T) {
	backend := newFakeBackend()
	addr := common.HexToAddress("0x0123456789abCDEF0123456789abCDef01234567")
	backend.nonces[addr] = 42
	provider := newTestProvider(backend)

	nonce, err := provider.GetNonce(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), nonce)
}

func TestGetNonce_Error(t *testing.T) {
	backend := newFakeBackend()
	backend.nonceErr = errors.New("connection refused")
	provider := newTestProvider(backend)

	_, err := provider.GetNonce(context.Background(), common.Address{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get nonce")
}

func TestWaitForConfirmation_Success(t *testing.T) {
	backend := newFakeBackend()
	_, signed := signedTransferHex(t, 0)
	backend.receipts[signed.Hash()] = &types.Receipt{Status: types.ReceiptStatusSuccessful}
	provider := newTestProvider(backend)

	receipt, err := provider.WaitForConfirmation(context.Background(), signed.Hash())
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
}

func TestWaitForConfirmation_Reverted(t *testing.T) {
	backend := newFakeBackend()
	_, signed := signedTransferHex(t, 0)
	backend.receipts[signed.Hash()] = &types.Receipt{Status: types.ReceiptStatusFailed}
	provider := newTestProvider(backend)

	_, err := provider.WaitForConfirmation(context.Background(), signed.Hash())
	require.Error(t, err)
	assert.True(t, IsBroadcastError(err))
	assert.Contains(t, err.Error(), "reverted")
}

func TestWaitForConfirmation_ContextExpires(t *testing.T) {
	backend := newFakeBackend()
	provider := newTestProvider(backend)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := provider.WaitForConfirmation(ctx, common.HexToHash("0xdead"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetTransaction(t *testing.T) {
	backend := newFakeBackend()
	_, signed := signedTransferHex(t, 0)
	backend.txs[signed.Hash()] = signed
	provider := newTestProvider(backend)

	details, err := provider.GetTransaction(context.Background(), signed.Hash())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1000), details.Value)
	assert.Equal(t, common.HexToAddress("0x0123456789abCDEF0123456789abCDef01234567"), details.To)

	key, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), details.From)
}

func TestGetTransaction_NotFound(t *testing.T) {
	provider := newTestProvider(newFakeBackend())

	_, err := provider.GetTransaction(context.Background(), common.HexToHash("0xbeef"))
	require.Error(t, err)
}

func TestHealthCheck(t *testing.T) {
	backend := newFakeBackend()
	provider := newTestProvider(backend)
	require.NoError(t, provider.HealthCheck(context.Background()))

	backend.chainIDErr = errors.New("down")
	require.Error(t, provider.HealthCheck(context.Background()))
}
