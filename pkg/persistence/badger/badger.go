package badger

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/cellfi-labs/cellfi-go/pkg/persistence"
	"github.com/cellfi-labs/cellfi-go/pkg/types"
)

// Key prefixes for namespacing
const (
	keyPrefixNonce       = "nonce:"
	keySchemaVersion     = "metadata:schema_version"
	currentSchemaVersion = "v1"
)

// BadgerStore is a durable INonceStore implementation backed by Badger.
// This is the store the client CLI uses so nonce state survives restarts.
type BadgerStore struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

var _ persistence.INonceStore = (*BadgerStore)(nil)

// NewBadgerStore opens a Badger-backed nonce store at the given path with
// SyncWrites enabled for durability. A background goroutine is started for
// garbage collection.
func NewBadgerStore(dataPath string, logger *zap.Logger) (*BadgerStore, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.SyncWrites = true // fsync on every write
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	bs := &BadgerStore{
		db:     db,
		logger: logger,
	}

	if err := bs.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bs.gcCancel = cancel
	bs.gcWg.Add(1)
	go bs.runGC(ctx)

	logger.Sugar().Infow("Badger nonce store initialized", "path", absPath)

	return bs, nil
}

// initSchema initializes or validates the schema version
func (b *BadgerStore) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		var existingVersion string
		err = item.Value(func(val []byte) error {
			existingVersion = string(val)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}

		if existingVersion != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
		}

		return nil
	})
}

// runGC runs periodic garbage collection in the background
func (b *BadgerStore) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && err != badgerdb.ErrNoRewrite {
				b.logger.Sugar().Warnw("Badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func nonceKey(address common.Address) []byte {
	return []byte(keyPrefixNonce + address.Hex())
}

// SaveNonceRecord persists a nonce record
func (b *BadgerStore) SaveNonceRecord(record *types.NonceRecord) error {
	if record == nil {
		return fmt.Errorf("cannot save nil NonceRecord")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("nonce store is closed")
	}

	data, err := persistence.MarshalNonceRecord(record)
	if err != nil {
		return fmt.Errorf("failed to marshal NonceRecord: %w", err)
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(nonceKey(record.Address), data)
	})
}

// LoadNonceRecord retrieves the record for an address
func (b *BadgerStore) LoadNonceRecord(address common.Address) (*types.NonceRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("nonce store is closed")
	}

	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(nonceKey(address))
		if err == badgerdb.ErrKeyNotFound {
			return nil // Not found is not an error
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...) // Copy value
			return nil
		})
	})

	if err != nil {
		return nil, fmt.Errorf("failed to load NonceRecord: %w", err)
	}

	if data == nil {
		return nil, nil // Not found
	}

	record, err := persistence.UnmarshalNonceRecord(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal NonceRecord: %w", err)
	}

	return record, nil
}

// ListNonceRecords returns all records sorted by address
func (b *BadgerStore) ListNonceRecords() ([]*types.NonceRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("nonce store is closed")
	}

	var records []*types.NonceRecord

	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixNonce)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()

			var data []byte
			err := item.Value(func(val []byte) error {
				data = append([]byte{}, val...) // Copy value
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to read value: %w", err)
			}

			record, err := persistence.UnmarshalNonceRecord(data)
			if err != nil {
				b.logger.Sugar().Warnw("Failed to unmarshal NonceRecord, skipping",
					"key", string(item.Key()), "error", err)
				continue
			}

			records = append(records, record)
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list NonceRecords: %w", err)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Address.Hex() < records[j].Address.Hex()
	})

	if records == nil {
		records = []*types.NonceRecord{}
	}

	return records, nil
}

// DeleteNonceRecord removes the record for an address. Idempotent.
func (b *BadgerStore) DeleteNonceRecord(address common.Address) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("nonce store is closed")
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(nonceKey(address))
	})
}

// Close cleanly shuts down the store. Idempotent.
func (b *BadgerStore) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil // Already closed, idempotent
	}
	b.closed = true
	b.mu.Unlock()

	// Stop GC goroutine
	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	b.logger.Sugar().Info("Badger nonce store closed")
	return nil
}

// HealthCheck verifies the store is operational
func (b *BadgerStore) HealthCheck() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("nonce store is closed")
	}

	// Try a simple read operation to verify database is accessible
	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return err
	})
}
