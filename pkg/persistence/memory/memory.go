package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cellfi-labs/cellfi-go/pkg/persistence"
	"github.com/cellfi-labs/cellfi-go/pkg/types"
)

// MemoryStore is an in-memory implementation of INonceStore.
// This implementation is intended for TESTING ONLY.
//
// All data is stored in memory and will be lost when the process exits.
// Thread-safe using sync.RWMutex for concurrent access.
// Deep copies data to prevent external mutation.
type MemoryStore struct {
	mu sync.RWMutex

	// address -> NonceRecord
	records map[common.Address]*types.NonceRecord

	closed bool
}

var _ persistence.INonceStore = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory nonce store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[common.Address]*types.NonceRecord),
	}
}

// SaveNonceRecord persists a nonce record.
func (m *MemoryStore) SaveNonceRecord(record *types.NonceRecord) error {
	if record == nil {
		return fmt.Errorf("cannot save nil NonceRecord")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("nonce store is closed")
	}

	// Deep copy to prevent external mutation
	copied := *record
	m.records[record.Address] = &copied

	return nil
}

// LoadNonceRecord retrieves the record for an address.
func (m *MemoryStore) LoadNonceRecord(address common.Address) (*types.NonceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("nonce store is closed")
	}

	record, exists := m.records[address]
	if !exists {
		return nil, nil
	}

	copied := *record
	return &copied, nil
}

// ListNonceRecords returns all records sorted by address.
func (m *MemoryStore) ListNonceRecords() ([]*types.NonceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("nonce store is closed")
	}

	records := make([]*types.NonceRecord, 0, len(m.records))
	for _, record := range m.records {
		copied := *record
		records = append(records, &copied)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Address.Hex() < records[j].Address.Hex()
	})

	return records, nil
}

// DeleteNonceRecord removes the record for an address. Idempotent.
func (m *MemoryStore) DeleteNonceRecord(address common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("nonce store is closed")
	}

	delete(m.records, address)
	return nil
}

// Close shuts down the store. Idempotent.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// HealthCheck verifies the store is operational.
func (m *MemoryStore) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("nonce store is closed")
	}
	return nil
}
