package chain

import "errors"

// RejectionKind classifies why a node refused a broadcast.
type RejectionKind string

const (
	RejectionStaleNonce        RejectionKind = "stale_nonce"
	RejectionInsufficientFunds RejectionKind = "insufficient_funds"
	RejectionInvalidSignature  RejectionKind = "invalid_signature"
	RejectionOther             RejectionKind = "other"
)

// BroadcastError is a chain-level rejection of a transaction, as opposed to
// a transport failure reaching the node. Reason carries the node's message
// verbatim so it can be relayed back to the sender.
type BroadcastError struct {
	Kind   RejectionKind
	Reason string
}

func (e *BroadcastError) Error() string {
	return "broadcast rejected: " + e.Reason
}

// IsBroadcastError reports whether err is a chain-level rejection.
func IsBroadcastError(err error) bool {
	var be *BroadcastError
	return errors.As(err, &be)
}

// AsBroadcastError unwraps err to a chain-level rejection, if it is one.
func AsBroadcastError(err error) (*BroadcastError, bool) {
	var be *BroadcastError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// IsStaleNonce reports whether err is a rejection for an already-used nonce.
func IsStaleNonce(err error) bool {
	var be *BroadcastError
	return errors.As(err, &be) && be.Kind == RejectionStaleNonce
}

// IsInsufficientFunds reports whether err is a rejection for lack of balance.
func IsInsufficientFunds(err error) bool {
	var be *BroadcastError
	return errors.As(err, &be) && be.Kind == RejectionInsufficientFunds
}
