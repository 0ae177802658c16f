package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/cellfi-labs/cellfi-go/pkg/envelope"
	"github.com/cellfi-labs/cellfi-go/pkg/nonce"
	"github.com/cellfi-labs/cellfi-go/pkg/signer"
	"github.com/cellfi-labs/cellfi-go/pkg/types"
)

// ErrNoKey is returned when signing is attempted before a key is loaded.
var ErrNoKey = fmt.Errorf("no key loaded in session")

// SessionConfig holds the configuration for a signing session.
type SessionConfig struct {
	ChainID      uint64
	SyncInterval time.Duration
	SyncTimeout  time.Duration
}

// TransferRequest describes one native-asset transfer to sign.
type TransferRequest struct {
	To             string
	AmountWei      string
	GasPriceWei    string
	SenderMobile   string
	ReceiverMobile string
}

// TransferResult is a signed transfer ready to leave the device over any
// channel, including SMS.
type TransferResult struct {
	Envelope    *types.SignedEnvelope
	EncodedText string
	Nonce       uint64
	Offline     bool
}

// Session owns a loaded private key and the nonce bookkeeping for its
// address. The key lives only in this struct for the lifetime of the
// session; it is never logged, persisted, or placed in any output.
type Session struct {
	mu        sync.Mutex
	ledger    *nonce.Ledger
	reachable nonce.Reachability
	config    SessionConfig
	logger    *zap.Logger

	keyHex  string
	address common.Address
	syncer  *nonce.Syncer
}

// NewSession creates a session with no key loaded.
func NewSession(ledger *nonce.Ledger, reachable nonce.Reachability, config SessionConfig, logger *zap.Logger) (*Session, error) {
	if ledger == nil {
		return nil, fmt.Errorf("nonce ledger is required")
	}
	if reachable == nil {
		return nil, fmt.Errorf("reachability probe is required")
	}
	if config.ChainID == 0 {
		return nil, fmt.Errorf("chain ID is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Session{
		ledger:    ledger,
		reachable: reachable,
		config:    config,
		logger:    logger,
	}, nil
}

// SetKey loads a private key, starts tracking its address, and begins
// background nonce syncing. A previously loaded key is replaced.
func (s *Session) SetKey(ctx context.Context, privateKeyHex string) (common.Address, error) {
	address, err := signer.AddressFromKey(privateKeyHex)
	if err != nil {
		return common.Address{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keyHex != "" {
		s.removeKeyLocked()
	}

	if err := s.ledger.Track(address); err != nil {
		return common.Address{}, fmt.Errorf("failed to track address: %w", err)
	}

	s.keyHex = privateKeyHex
	s.address = address
	s.syncer = nonce.NewSyncer(s.ledger, address, s.reachable, nonce.SyncerConfig{
		Interval: s.config.SyncInterval,
		Timeout:  s.config.SyncTimeout,
	}, s.logger)
	s.syncer.Start(ctx)

	s.logger.Sugar().Infow("Session key loaded", "address", address.Hex())
	return address, nil
}

// Address returns the loaded key's address, if any.
func (s *Session) Address() (common.Address, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address, s.keyHex != ""
}

// RemoveKey stops syncing, forgets the address's nonce state, and drops
// the key.
func (s *Session) RemoveKey() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keyHex == "" {
		return nil
	}
	return s.removeKeyLocked()
}

func (s *Session) removeKeyLocked() error {
	if s.syncer != nil {
		s.syncer.Stop()
		s.syncer = nil
	}
	err := s.ledger.Untrack(s.address)
	s.keyHex = ""
	s.address = common.Address{}
	if err != nil {
		return fmt.Errorf("failed to untrack address: %w", err)
	}
	return nil
}

// Detach stops background syncing and drops the key while keeping the
// address's nonce state for a later SetKey.
func (s *Session) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncer != nil {
		s.syncer.Stop()
		s.syncer = nil
	}
	s.keyHex = ""
	s.address = common.Address{}
}

// Close releases the session. Equivalent to RemoveKey.
func (s *Session) Close() error {
	return s.RemoveKey()
}

// SignTransfer signs one transfer with the loaded key. Signing operations
// are serialized so concurrent callers cannot consume the same nonce.
//
// Connected flow: the ledger is synced against the network first and the
// authoritative nonce is used. The cached value is not advanced; the next
// sync observes the broadcast.
//
// Offline flow: the cached nonce is used and advanced by one, but only
// after the signature succeeds. A failed sign leaves the ledger untouched.
func (s *Session) SignTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keyHex == "" {
		return nil, ErrNoKey
	}

	online := s.reachable()
	var txNonce uint64
	if online {
		syncTimeout := s.config.SyncTimeout
		if syncTimeout <= 0 {
			syncTimeout = nonce.DefaultSyncTimeout
		}
		syncCtx, cancel := context.WithTimeout(ctx, syncTimeout)
		record, err := s.ledger.Sync(syncCtx, s.address, true)
		cancel()
		if err != nil {
			if record == nil {
				return nil, fmt.Errorf("nonce sync failed: %w", err)
			}
			// Reachability flapped or the node misbehaved. The cached
			// value is still the best estimate.
			s.logger.Sugar().Warnw("Nonce sync failed, signing with cached nonce",
				"address", s.address.Hex(), "cached_nonce", record.CachedNonce, "error", err)
			online = false
		}
		txNonce = record.CachedNonce
	} else {
		txNonce = s.ledger.CurrentNonce(s.address)
	}

	rawHex, err := signer.Sign(signer.SignRequest{
		PrivateKeyHex: s.keyHex,
		To:            req.To,
		Amount:        req.AmountWei,
		Nonce:         txNonce,
		GasLimit:      signer.TransferGasLimit,
		GasPrice:      req.GasPriceWei,
		ChainID:       s.config.ChainID,
	})
	if err != nil {
		return nil, err
	}

	if !online {
		if err := s.ledger.RecordOfflineUse(s.address); err != nil {
			return nil, fmt.Errorf("failed to record nonce use: %w", err)
		}
	}

	env := &types.SignedEnvelope{
		Kind:            types.KindTransfer,
		RawSignatureHex: rawHex,
		SenderMobile:    req.SenderMobile,
		ReceiverMobile:  req.ReceiverMobile,
	}

	s.logger.Sugar().Infow("Transfer signed",
		"address", s.address.Hex(), "nonce", txNonce, "offline", !online)

	return &TransferResult{
		Envelope:    env,
		EncodedText: envelope.Encode(env),
		Nonce:       txNonce,
		Offline:     !online,
	}, nil
}
