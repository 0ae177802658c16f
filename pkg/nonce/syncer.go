package nonce

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const (
	// DefaultSyncInterval is the cadence of the background nonce poll.
	DefaultSyncInterval = 30 * time.Second

	// DefaultSyncTimeout bounds each sync call so the poller never blocks
	// indefinitely on a stalled network.
	DefaultSyncTimeout = 10 * time.Second
)

// Reachability reports whether the network is currently reachable. The
// session injects this; the poller skips ticks while offline.
type Reachability func() bool

// Syncer periodically reconciles one address's cached nonce with the
// network while connectivity lasts. It is owned by the session and torn
// down when the session ends or the key is removed.
type Syncer struct {
	ledger    *Ledger
	address   common.Address
	reachable Reachability
	interval  time.Duration
	timeout   time.Duration
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// SyncerConfig configures the background poll cadence and per-call timeout.
// Zero values fall back to the defaults.
type SyncerConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// NewSyncer creates a background nonce syncer for one address.
func NewSyncer(ledger *Ledger, address common.Address, reachable Reachability, cfg SyncerConfig, logger *zap.Logger) *Syncer {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultSyncTimeout
	}

	return &Syncer{
		ledger:    ledger,
		address:   address,
		reachable: reachable,
		interval:  interval,
		timeout:   timeout,
		logger:    logger,
	}
}

// Start launches the poll loop. Calling Start on a running syncer is a no-op.
func (s *Syncer) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(loopCtx)

	s.logger.Sugar().Infow("Nonce syncer started",
		"address", s.address.Hex(), "interval", s.interval.String())
}

// Stop cancels the poll loop and waits for it to exit. Idempotent.
func (s *Syncer) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()

	s.logger.Sugar().Infow("Nonce syncer stopped", "address", s.address.Hex())
}

func (s *Syncer) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.syncOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Syncer) syncOnce(ctx context.Context) {
	if s.reachable != nil && !s.reachable() {
		s.logger.Sugar().Debugw("Skipping nonce sync, network unreachable",
			"address", s.address.Hex())
		return
	}

	syncCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.ledger.Sync(syncCtx, s.address, true); err != nil {
		s.logger.Sugar().Warnw("Background nonce sync failed",
			"address", s.address.Hex(), "error", err)
	}
}
