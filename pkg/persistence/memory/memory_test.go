package memory

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cellfi-labs/cellfi-go/pkg/types"
)

func testRecord(addr string, nonce uint64) *types.NonceRecord {
	return &types.NonceRecord{
		Address:     common.HexToAddress(addr),
		CachedNonce: nonce,
		SyncState:   types.SyncStateUnsynced,
	}
}

func TestMemoryStore_SaveAndLoad(t *testing.T) {
	store := NewMemoryStore()
	defer func() { _ = store.Close() }()

	record := testRecord("0x01", 7)
	require.NoError(t, store.SaveNonceRecord(record))

	loaded, err := store.LoadNonceRecord(record.Address)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, record, loaded)

	// Mutating the loaded copy must not affect the stored record.
	loaded.CachedNonce = 99
	again, err := store.LoadNonceRecord(record.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), again.CachedNonce)
}

func TestMemoryStore_Load_NotFound(t *testing.T) {
	store := NewMemoryStore()
	defer func() { _ = store.Close() }()

	loaded, err := store.LoadNonceRecord(common.HexToAddress("0xff"))
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestMemoryStore_Save_Nil(t *testing.T) {
	store := NewMemoryStore()
	defer func() { _ = store.Close() }()

	err := store.SaveNonceRecord(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil NonceRecord")
}

func TestMemoryStore_List_SortedByAddress(t *testing.T) {
	store := NewMemoryStore()
	defer func() { _ = store.Close() }()

	require.NoError(t, store.SaveNonceRecord(testRecord("0x02", 2)))
	require.NoError(t, store.SaveNonceRecord(testRecord("0x01", 1)))
	require.NoError(t, store.SaveNonceRecord(testRecord("0x03", 3)))

	records, err := store.ListNonceRecords()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, uint64(1), records[0].CachedNonce)
	assert.Equal(t, uint64(2), records[1].CachedNonce)
	assert.Equal(t, uint64(3), records[2].CachedNonce)
}

func TestMemoryStore_Delete_Idempotent(t *testing.T) {
	store := NewMemoryStore()
	defer func() { _ = store.Close() }()

	record := testRecord("0x01", 1)
	require.NoError(t, store.SaveNonceRecord(record))
	require.NoError(t, store.DeleteNonceRecord(record.Address))

	loaded, err := store.LoadNonceRecord(record.Address)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	// Deleting again is not an error.
	require.NoError(t, store.DeleteNonceRecord(record.Address))
}

func TestMemoryStore_ClosedOperationsFail(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Close())
	require.NoError(t, store.Close()) // idempotent

	require.Error(t, store.SaveNonceRecord(testRecord("0x01", 1)))
	_, err := store.LoadNonceRecord(common.HexToAddress("0x01"))
	require.Error(t, err)
	_, err = store.ListNonceRecords()
	require.Error(t, err)
	require.Error(t, store.DeleteNonceRecord(common.HexToAddress("0x01")))
	require.Error(t, store.HealthCheck())
}
