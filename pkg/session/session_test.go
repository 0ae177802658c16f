package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cellfi-labs/cellfi-go/pkg/envelope"
	"github.com/cellfi-labs/cellfi-go/pkg/nonce"
	"github.com/cellfi-labs/cellfi-go/pkg/persistence/memory"
	"github.com/cellfi-labs/cellfi-go/pkg/types"
)

const (
	testKeyHex  = "289c2857d4598e37fb9647507e47a309d6133539bf21a8b9cb6df88fd5232032"
	testChainID = uint64(11155111)
)

type scriptedSource struct {
	mu     sync.Mutex
	nonces map[common.Address]uint64
	err    error
	calls  int
}

func (f *scriptedSource) GetNonce(_ context.Context, address common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.nonces[address], nil
}

func (f *scriptedSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testAddress(t *testing.T) common.Address {
	t.Helper()
	key, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	return crypto.PubkeyToAddress(key.PublicKey)
}

func newTestSession(t *testing.T, source nonce.NonceSource, reachable nonce.Reachability) *Session {
	t.Helper()
	ledger := nonce.NewLedger(memory.NewMemoryStore(), source, zap.NewNop())
	s, err := NewSession(ledger, reachable, SessionConfig{
		ChainID:      testChainID,
		SyncInterval: time.Hour,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func transferRequest() TransferRequest {
	return TransferRequest{
		To:             "0x0123456789abCDEF0123456789abCDef01234567",
		AmountWei:      "1000000000000000000",
		GasPriceWei:    "2000000000",
		SenderMobile:   "+918328065633",
		ReceiverMobile: "+918328065634",
	}
}

func decodeNonce(t *testing.T, rawHex string) uint64 {
	t.Helper()
	raw := common.FromHex(rawHex)
	tx := new(ethtypes.Transaction)
	require.NoError(t, tx.UnmarshalBinary(raw))
	return tx.Nonce()
}

func TestSetKey_DerivesAddress(t *testing.T) {
	s := newTestSession(t, &scriptedSource{}, func() bool { return false })

	addr, err := s.SetKey(context.Background(), testKeyHex)
	require.NoError(t, err)
	assert.Equal(t, testAddress(t), addr)

	got, ok := s.Address()
	assert.True(t, ok)
	assert.Equal(t, addr, got)
}

func TestSetKey_RejectsBadKey(t *testing.T) {
	s := newTestSession(t, &scriptedSource{}, func() bool { return false })

	_, err := s.SetKey(context.Background(), "zz")
	require.Error(t, err)

	_, ok := s.Address()
	assert.False(t, ok)
}

func TestSignTransfer_RequiresKey(t *testing.T) {
	s := newTestSession(t, &scriptedSource{}, func() bool { return false })

	_, err := s.SignTransfer(context.Background(), transferRequest())
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestSignTransfer_OfflineAdvancesNonce(t *testing.T) {
	source := &scriptedSource{}
	s := newTestSession(t, source, func() bool { return false })

	_, err := s.SetKey(context.Background(), testKeyHex)
	require.NoError(t, err)

	first, err := s.SignTransfer(context.Background(), transferRequest())
	require.NoError(t, err)
	assert.True(t, first.Offline)
	assert.Equal(t, uint64(0), first.Nonce)
	assert.Equal(t, uint64(0), decodeNonce(t, first.Envelope.RawSignatureHex))

	second, err := s.SignTransfer(context.Background(), transferRequest())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), second.Nonce)
	assert.Equal(t, 0, source.callCount(), "offline signing never touches the network")
}

func TestSignTransfer_OnlineUsesAuthoritativeNonce(t *testing.T) {
	addr := testAddress(t)
	source := &scriptedSource{nonces: map[common.Address]uint64{addr: 7}}
	s := newTestSession(t, source, func() bool { return true })

	_, err := s.SetKey(context.Background(), testKeyHex)
	require.NoError(t, err)

	result, err := s.SignTransfer(context.Background(), transferRequest())
	require.NoError(t, err)
	assert.False(t, result.Offline)
	assert.Equal(t, uint64(7), result.Nonce)

	// Connected signing does not advance the cache; the next sync will.
	again, err := s.SignTransfer(context.Background(), transferRequest())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), again.Nonce)
}

func TestSignTransfer_OnlineSyncFailureFallsBackToCache(t *testing.T) {
	source := &scriptedSource{err: errors.New("rpc timeout")}
	s := newTestSession(t, source, func() bool { return true })

	_, err := s.SetKey(context.Background(), testKeyHex)
	require.NoError(t, err)

	result, err := s.SignTransfer(context.Background(), transferRequest())
	require.NoError(t, err)
	assert.True(t, result.Offline)
	assert.Equal(t, uint64(0), result.Nonce)

	// The fallback behaves like an offline sign and advances the cache.
	second, err := s.SignTransfer(context.Background(), transferRequest())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), second.Nonce)
}

func TestSignTransfer_FailedSignDoesNotAdvanceNonce(t *testing.T) {
	s := newTestSession(t, &scriptedSource{}, func() bool { return false })

	_, err := s.SetKey(context.Background(), testKeyHex)
	require.NoError(t, err)

	bad := transferRequest()
	bad.AmountWei = "-5"
	_, err = s.SignTransfer(context.Background(), bad)
	require.Error(t, err)

	good, err := s.SignTransfer(context.Background(), transferRequest())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), good.Nonce, "rejected sign must not consume a nonce")
}

func TestSignTransfer_EncodedTextRoundTrips(t *testing.T) {
	s := newTestSession(t, &scriptedSource{}, func() bool { return false })

	_, err := s.SetKey(context.Background(), testKeyHex)
	require.NoError(t, err)

	result, err := s.SignTransfer(context.Background(), transferRequest())
	require.NoError(t, err)

	decoded, err := envelope.Decode(result.EncodedText)
	require.NoError(t, err)
	assert.Equal(t, types.KindTransfer, decoded.Kind)
	assert.Equal(t, result.Envelope.RawSignatureHex, decoded.RawSignatureHex)
	assert.Equal(t, "+918328065633", decoded.SenderMobile)
	assert.Equal(t, "+918328065634", decoded.ReceiverMobile)
}

func TestRemoveKey_ForgetsState(t *testing.T) {
	s := newTestSession(t, &scriptedSource{}, func() bool { return false })

	_, err := s.SetKey(context.Background(), testKeyHex)
	require.NoError(t, err)

	_, err = s.SignTransfer(context.Background(), transferRequest())
	require.NoError(t, err)

	require.NoError(t, s.RemoveKey())
	_, ok := s.Address()
	assert.False(t, ok)

	_, err = s.SignTransfer(context.Background(), transferRequest())
	assert.ErrorIs(t, err, ErrNoKey)

	// Reloading the key starts nonce tracking from scratch.
	_, err = s.SetKey(context.Background(), testKeyHex)
	require.NoError(t, err)
	result, err := s.SignTransfer(context.Background(), transferRequest())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), result.Nonce)
}

func TestDetach_KeepsNonceState(t *testing.T) {
	s := newTestSession(t, &scriptedSource{}, func() bool { return false })

	_, err := s.SetKey(context.Background(), testKeyHex)
	require.NoError(t, err)
	_, err = s.SignTransfer(context.Background(), transferRequest())
	require.NoError(t, err)

	s.Detach()
	_, ok := s.Address()
	assert.False(t, ok)

	_, err = s.SetKey(context.Background(), testKeyHex)
	require.NoError(t, err)
	result, err := s.SignTransfer(context.Background(), transferRequest())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), result.Nonce, "nonce state survives a detach")
}

func TestRemoveKey_Idempotent(t *testing.T) {
	s := newTestSession(t, &scriptedSource{}, func() bool { return false })
	require.NoError(t, s.RemoveKey())
	require.NoError(t, s.RemoveKey())
}

func TestSignTransfer_ConcurrentCallersGetDistinctNonces(t *testing.T) {
	s := newTestSession(t, &scriptedSource{}, func() bool { return false })

	_, err := s.SetKey(context.Background(), testKeyHex)
	require.NoError(t, err)

	const n = 10
	nonces := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := s.SignTransfer(context.Background(), transferRequest())
			if err == nil {
				nonces <- result.Nonce
			}
		}()
	}
	wg.Wait()
	close(nonces)

	seen := make(map[uint64]bool)
	for nonceVal := range nonces {
		assert.False(t, seen[nonceVal], "nonce %d issued twice", nonceVal)
		seen[nonceVal] = true
	}
	assert.Len(t, seen, n)
}
