package types

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// SyncState tracks how fresh a NonceRecord's cached value is relative to the
// network's authoritative transaction count.
type SyncState string

const (
	SyncStateUnsynced   SyncState = "unsynced"
	SyncStateSyncing    SyncState = "syncing"
	SyncStateSynced     SyncState = "synced"
	SyncStateSyncFailed SyncState = "sync_failed"
)

// NonceRecord is the per-address nonce state persisted across restarts.
// CachedNonce is always the NEXT nonce to use, never one already consumed,
// and is monotonically non-decreasing for the lifetime of the record.
type NonceRecord struct {
	Address      common.Address `json:"address"`
	CachedNonce  uint64         `json:"cachedNonce"`
	LastSyncedAt int64          `json:"lastSyncedAt"` // Unix seconds, 0 if never synced
	SyncState    SyncState      `json:"syncState"`
}

// TransactionKind is the kind of operation carried by an envelope.
type TransactionKind string

const (
	KindTransfer TransactionKind = "Transfer"
	KindSwap     TransactionKind = "Swap"
)

// ParseTransactionKind parses a kind label case-insensitively.
func ParseTransactionKind(s string) (TransactionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "transfer":
		return KindTransfer, nil
	case "swap":
		return KindSwap, nil
	default:
		return "", fmt.Errorf("unknown transaction kind: %q", s)
	}
}

// SignedEnvelope bundles a raw signed transaction with the SMS routing
// metadata needed to notify both parties after settlement. It is created
// once per signing operation and consumed exactly once by the relay.
type SignedEnvelope struct {
	Kind            TransactionKind `json:"kind"`
	RawSignatureHex string          `json:"rawSignatureHex"` // 0x-prefixed encoded signed transaction
	SenderMobile    string          `json:"senderMobile"`
	ReceiverMobile  string          `json:"receiverMobile"`
}

// RelayStatus is the terminal status of a relay attempt.
type RelayStatus string

const (
	RelayStatusConfirmed RelayStatus = "confirmed"
	RelayStatusRejected  RelayStatus = "rejected"
)

// RelayOutcome is produced once per relay attempt and never retried.
type RelayOutcome struct {
	Status RelayStatus `json:"status"`
	TxHash common.Hash `json:"txHash,omitempty"` // set on Confirmed
	Reason string      `json:"reason,omitempty"` // set on Rejected
}
