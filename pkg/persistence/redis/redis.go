package redis

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cellfi-labs/cellfi-go/pkg/persistence"
	"github.com/cellfi-labs/cellfi-go/pkg/types"
)

// Key prefixes for namespacing in Redis
const (
	keyPrefixNonce       = "cellfi:nonce:"
	keySchemaVersion     = "cellfi:metadata:schema_version"
	currentSchemaVersion = "v1"

	// Key set for listing operations (Redis doesn't support prefix iteration natively)
	keySetNonces = "cellfi:nonces:index"
)

// RedisStore is an INonceStore implementation backed by Redis, suitable for
// hosted deployments where several tools share one ledger state.
type RedisStore struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string // Custom prefix for all keys
	mu        sync.RWMutex
	closed    bool
}

var _ persistence.INonceStore = (*RedisStore)(nil)

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is an optional custom prefix for all keys (for multi-tenant
	// setups). If set, keys become e.g. "myapp:cellfi:nonce:0x..".
	KeyPrefix string
}

// NewRedisStore creates a new Redis-backed nonce store.
func NewRedisStore(cfg *RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	opts := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rs := &RedisStore{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rs.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("Redis nonce store initialized", "address", cfg.Address, "db", cfg.DB)

	return rs, nil
}

// prefixKey adds the custom key prefix (if configured) to a key
func (r *RedisStore) prefixKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

// initSchema initializes or validates the schema version
func (r *RedisStore) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if err == redis.Nil {
		return r.client.Set(ctx, schemaKey, currentSchemaVersion, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}

	return nil
}

// SaveNonceRecord persists a nonce record
func (r *RedisStore) SaveNonceRecord(record *types.NonceRecord) error {
	if record == nil {
		return fmt.Errorf("cannot save nil NonceRecord")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("nonce store is closed")
	}

	ctx := context.Background()

	data, err := persistence.MarshalNonceRecord(record)
	if err != nil {
		return fmt.Errorf("failed to marshal NonceRecord: %w", err)
	}

	// Store value and index membership atomically via a pipeline
	key := r.prefixKey(keyPrefixNonce + record.Address.Hex())
	indexKey := r.prefixKey(keySetNonces)
	pipe := r.client.Pipeline()
	pipe.Set(ctx, key, data, 0)
	pipe.SAdd(ctx, indexKey, record.Address.Hex())

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save NonceRecord: %w", err)
	}

	return nil
}

// LoadNonceRecord retrieves the record for an address
func (r *RedisStore) LoadNonceRecord(address common.Address) (*types.NonceRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("nonce store is closed")
	}

	ctx := context.Background()
	key := r.prefixKey(keyPrefixNonce + address.Hex())

	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load NonceRecord: %w", err)
	}

	record, err := persistence.UnmarshalNonceRecord(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal NonceRecord: %w", err)
	}

	return record, nil
}

// ListNonceRecords returns all records sorted by address
func (r *RedisStore) ListNonceRecords() ([]*types.NonceRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("nonce store is closed")
	}

	ctx := context.Background()
	indexKey := r.prefixKey(keySetNonces)

	addresses, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list NonceRecord addresses: %w", err)
	}

	if len(addresses) == 0 {
		return []*types.NonceRecord{}, nil
	}

	keys := make([]string, len(addresses))
	for i, addr := range addresses {
		keys[i] = r.prefixKey(keyPrefixNonce + addr)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch NonceRecords: %w", err)
	}

	var records []*types.NonceRecord
	for i, val := range values {
		if val == nil {
			// Key was in index but doesn't exist - clean up index
			r.client.SRem(ctx, indexKey, addresses[i])
			continue
		}

		data, ok := val.(string)
		if !ok {
			r.logger.Sugar().Warnw("Unexpected value type for NonceRecord", "key", keys[i])
			continue
		}

		record, err := persistence.UnmarshalNonceRecord([]byte(data))
		if err != nil {
			r.logger.Sugar().Warnw("Failed to unmarshal NonceRecord, skipping",
				"key", keys[i], "error", err)
			continue
		}

		records = append(records, record)
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
func (r *RedisStore) DeleteNonceRecord(address common.Address) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("nonce store is closed")
	}

	ctx := context.Background()
	key := r.prefixKey(keyPrefixNonce + address.Hex())
	indexKey := r.prefixKey(keySetNonces)

	pipe := r.client.Pipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, indexKey, address.Hex())

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete NonceRecord: %w", err)
	}

	return nil
}

// Close cleanly shuts down the store. Idempotent.
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}

	r.logger.Sugar().Info("Redis nonce store closed")
	return nil
}

// HealthCheck verifies the store is operational
func (r *RedisStore) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("nonce store is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return r.client.Ping(ctx).Err()
}
