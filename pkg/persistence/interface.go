package persistence

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/cellfi-labs/cellfi-go/pkg/types"
)

// INonceStore defines the interface for persisting per-address nonce records
// across restarts. All implementations must be thread-safe: ledger reads and
// the background sync task run concurrently.
//
// Private key material never passes through this layer; a NonceRecord is
// keyed by the derived account address only.
type INonceStore interface {
	// SaveNonceRecord persists a nonce record, overwriting any existing
	// record for the same address.
	SaveNonceRecord(record *types.NonceRecord) error

	// LoadNonceRecord retrieves the record for an address.
	// Returns nil if no record exists, error only on storage failure.
	LoadNonceRecord(address common.Address) (*types.NonceRecord, error)

	// ListNonceRecords returns all persisted records sorted by address.
	// Returns empty slice if no records exist, error only on storage failure.
	ListNonceRecords() ([]*types.NonceRecord, error)

	// DeleteNonceRecord removes the record for an address.
	// Idempotent - returns nil if the record doesn't exist.
	DeleteNonceRecord(address common.Address) error

	// Close cleanly shuts down the store. Idempotent.
	// After Close(), all other operations return errors.
	Close() error

	// HealthCheck verifies the store is operational.
	// Returns nil if healthy, error describing the problem if not.
	HealthCheck() error
}
