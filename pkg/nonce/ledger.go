package nonce

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/cellfi-labs/cellfi-go/pkg/persistence"
	"github.com/cellfi-labs/cellfi-go/pkg/types"
)

// NonceSource is the network's authoritative view of an account's next nonce.
// pkg/chain's provider satisfies it.
type NonceSource interface {
	GetNonce(ctx context.Context, address common.Address) (uint64, error)
}

// Ledger owns per-address nonce state and its reconciliation policy.
//
// The cached value is the NEXT nonce to use. Whenever the network is
// reachable, a sync overwrites the cache with the authoritative transaction
// count: catching up with envelopes confirmed from other sessions wins over
// preserving locally queued-but-unsent increments. Offline signs advance the
// cache by exactly one. An envelope left holding a stale nonce after a sync
// is rejected at broadcast time, not silently repaired.
//
// All read-modify-write access to one address's record is serialized by a
// per-address mutex; different addresses never contend.
type Ledger struct {
	store  persistence.INonceStore
	source NonceSource
	logger *zap.Logger

	mu    sync.Mutex
	locks map[common.Address]*sync.Mutex
}

// NewLedger creates a ledger over a nonce store. source may be nil for a
// fully offline ledger; Sync with reachable=true then fails cleanly.
func NewLedger(store persistence.INonceStore, source NonceSource, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:  store,
		source: source,
		logger: logger,
		locks:  make(map[common.Address]*sync.Mutex),
	}
}

func (l *Ledger) addressLock(address common.Address) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[address]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[address] = lock
	}
	return lock
}

// Track creates the address's record the first time a key is associated with
// the session. Idempotent: an existing record is left untouched.
func (l *Ledger) Track(address common.Address) error {
	lock := l.addressLock(address)
	lock.Lock()
	defer lock.Unlock()

	existing, err := l.store.LoadNonceRecord(address)
	if err != nil {
		return fmt.Errorf("failed to load nonce record: %w", err)
	}
	if existing != nil {
		return nil
	}

	record := &types.NonceRecord{
		Address:   address,
		SyncState: types.SyncStateUnsynced,
	}
	if err := l.store.SaveNonceRecord(record); err != nil {
		return fmt.Errorf("failed to save nonce record: %w", err)
	}

	l.logger.Sugar().Infow("Tracking nonce for address", "address", address.Hex())
	return nil
}

// Untrack destroys the address's record when its key is removed.
func (l *Ledger) Untrack(address common.Address) error {
	lock := l.addressLock(address)
	lock.Lock()
	defer lock.Unlock()

	if err := l.store.DeleteNonceRecord(address); err != nil {
		return fmt.Errorf("failed to delete nonce record: %w", err)
	}

	l.logger.Sugar().Infow("Stopped tracking nonce for address", "address", address.Hex())
	return nil
}

// CurrentNonce returns the cached nonce synchronously. It never blocks on
// the network and never fails: an untracked or unreadable record reads as 0.
// Used immediately before signing.
func (l *Ledger) CurrentNonce(address common.Address) uint64 {
	lock := l.addressLock(address)
	lock.Lock()
	defer lock.Unlock()

	record, err := l.store.LoadNonceRecord(address)
	if err != nil || record == nil {
		return 0
	}
	return record.CachedNonce
}

// Sync reconciles the cached nonce with the network. If reachable, the
// authoritative transaction count overwrites the cache. If unreachable, the
// cached record is returned unchanged. If the query fails while reachable,
// the previously cached value is kept and the record is marked SyncFailed;
// the record is still returned alongside the error.
func (l *Ledger) Sync(ctx context.Context, address common.Address, reachable bool) (*types.NonceRecord, error) {
	lock := l.addressLock(address)
	lock.Lock()
	defer lock.Unlock()

	record, err := l.store.LoadNonceRecord(address)
	if err != nil {
		return nil, fmt.Errorf("failed to load nonce record: %w", err)
	}
	if record == nil {
		return nil, fmt.Errorf("address %s is not tracked", address.Hex())
	}

	if !reachable {
		return record, nil
	}

	if l.source == nil {
		record.SyncState = types.SyncStateSyncFailed
		_ = l.store.SaveNonceRecord(record)
		return record, fmt.Errorf("no nonce source configured")
	}

	record.SyncState = types.SyncStateSyncing
	authoritative, err := l.source.GetNonce(ctx, address)
	if err != nil {
		record.SyncState = types.SyncStateSyncFailed
		if saveErr := l.store.SaveNonceRecord(record); saveErr != nil {
			l.logger.Sugar().Warnw("Failed to persist sync failure", "address", address.Hex(), "error", saveErr)
		}
		l.logger.Sugar().Warnw("Nonce sync failed, keeping cached value",
			"address", address.Hex(), "cached_nonce", record.CachedNonce, "error", err)
		return record, fmt.Errorf("failed to query authoritative nonce: %w", err)
	}

	// Network is the source of truth whenever reachable.
	record.CachedNonce = authoritative
	record.LastSyncedAt = time.Now().Unix()
	record.SyncState = types.SyncStateSynced

	if err := l.store.SaveNonceRecord(record); err != nil {
		return nil, fmt.Errorf("failed to save nonce record: %w", err)
	}

	l.logger.Sugar().Debugw("Nonce synced",
		"address", address.Hex(), "nonce", record.CachedNonce)
	return record, nil
}

// RecordOfflineUse increments the cached nonce by exactly 1. Called only
// after a successful offline sign; online-signed transactions are superseded
// by the next sync and must not increment.
func (l *Ledger) RecordOfflineUse(address common.Address) error {
	lock := l.addressLock(address)
	lock.Lock()
	defer lock.Unlock()

	record, err := l.store.LoadNonceRecord(address)
	if err != nil {
		return fmt.Errorf("failed to load nonce record: %w", err)
	}
	if record == nil {
		return fmt.Errorf("address %s is not tracked", address.Hex())
	}

	record.CachedNonce++
	if err := l.store.SaveNonceRecord(record); err != nil {
		return fmt.Errorf("failed to save nonce record: %w", err)
	}

	l.logger.Sugar().Debugw("Recorded offline nonce use",
		"address", address.Hex(), "next_nonce", record.CachedNonce)
	return nil
}
