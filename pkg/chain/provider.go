package chain

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// receiptPollInterval is how often WaitForConfirmation re-checks for a
// receipt while the transaction is pending.
const receiptPollInterval = 2 * time.Second

// TransferDetails are the settled facts of a confirmed transfer, fetched
// from the network for notification texts.
type TransferDetails struct {
	Value *big.Int
	From  common.Address
	To    common.Address
}

// IProvider is the relay's view of the network.
type IProvider interface {
	// GetNonce returns the account's next nonce (pending-inclusive).
	GetNonce(ctx context.Context, address common.Address) (uint64, error)

	// Broadcast submits a raw signed transaction. Chain-level rejections
	// are returned as *BroadcastError.
	Broadcast(ctx context.Context, rawTxHex string) (common.Hash, error)

	// WaitForConfirmation blocks until the transaction has one
	// confirmation, the context expires, or the transaction reverts.
	WaitForConfirmation(ctx context.Context, hash common.Hash) (*types.Receipt, error)

	// GetTransaction fetches the settled value, sender, and recipient.
	GetTransaction(ctx context.Context, hash common.Hash) (*TransferDetails, error)

	// HealthCheck verifies the provider connection is usable.
	HealthCheck(ctx context.Context) error
}

// Backend is the narrow slice of ethclient.Client the provider needs.
// ethclient.Client satisfies it; tests substitute a fake.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// EthProvider implements IProvider over an Ethereum JSON-RPC backend.
// The underlying client pools connections; concurrent calls for different
// relay requests are safe without any global lock.
type EthProvider struct {
	backend Backend
	logger  *zap.Logger
}

var _ IProvider = (*EthProvider)(nil)

// NewEthProvider dials an RPC endpoint and wraps it as a provider.
func NewEthProvider(rpcURL string, logger *zap.Logger) (*EthProvider, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial RPC endpoint %s", rpcURL)
	}
	return NewEthProviderFromBackend(client, logger), nil
}

// NewEthProviderFromBackend wraps an existing backend (used by tests).
func NewEthProviderFromBackend(backend Backend, logger *zap.Logger) *EthProvider {
	return &EthProvider{backend: backend, logger: logger}
}

// GetNonce returns the pending transaction count for an address.
func (p *EthProvider) GetNonce(ctx context.Context, address common.Address) (uint64, error) {
	nonce, err := p.backend.PendingNonceAt(ctx, address)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to get nonce for %s", address.Hex())
	}
	return nonce, nil
}

// Broadcast submits a raw signed transaction. At most one attempt: a signed
// transaction is immutable, so the only retry risk is double submission, and
// the relay stays idempotent per inbound message by not retrying.
func (p *EthProvider) Broadcast(ctx context.Context, rawTxHex string) (common.Hash, error) {
	txBytes, err := hexutil.Decode(rawTxHex)
	if err != nil {
		return common.Hash{}, &BroadcastError{Reason: "malformed raw transaction: " + err.Error()}
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(txBytes); err != nil {
		return common.Hash{}, &BroadcastError{Reason: "unparseable raw transaction: " + err.Error()}
	}

	if err := p.backend.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, classifyBroadcastError(err)
	}

	p.logger.Sugar().Infow("Transaction broadcast", "tx_hash", tx.Hash().Hex())
	return tx.Hash(), nil
}

// WaitForConfirmation polls for a receipt until the transaction is mined.
func (p *EthProvider) WaitForConfirmation(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := p.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, &BroadcastError{Reason: "transaction reverted"}
			}
			return receipt, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "gave up waiting for confirmation of %s", hash.Hex())
		}
	}
}

// GetTransaction fetches the settled transfer details for notifications.
func (p *EthProvider) GetTransaction(ctx context.Context, hash common.Hash) (*TransferDetails, error) {
	tx, _, err := p.backend.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch transaction %s", hash.Hex())
	}

	chainID, err := p.backend.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get chain ID")
	}

	from, err := types.Sender(types.LatestSignerForChainID(chainID), tx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to recover sender of %s", hash.Hex())
	}

	to := common.Address{}
	if tx.To() != nil {
		to = *tx.To()
	}

	return &TransferDetails{
		Value: tx.Value(),
		From:  from,
		To:    to,
	}, nil
}

// HealthCheck verifies the RPC connection by asking for the chain ID.
func (p *EthProvider) HealthCheck(ctx context.Context) error {
	if _, err := p.backend.ChainID(ctx); err != nil {
		return errors.Wrap(err, "chain provider health check failed")
	}
	return nil
}

// classifyBroadcastError maps node rejection text onto a BroadcastError so
// the relay can surface the reason verbatim.
func classifyBroadcastError(err error) *BroadcastError {
	msg := err.Error()
	be := &BroadcastError{Reason: msg}

	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "nonce too low") || strings.Contains(lower, "replacement transaction underpriced"):
		be.Kind = RejectionStaleNonce
	case strings.Contains(lower, "insufficient funds"):
		be.Kind = RejectionInsufficientFunds
	case strings.Contains(lower, "invalid sender") || strings.Contains(lower, "invalid signature"):
		be.Kind = RejectionInvalidSignature
	default:
		be.Kind = RejectionOther
	}
	return be
}
