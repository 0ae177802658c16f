package relay

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cellfi-labs/cellfi-go/pkg/chain"
	"github.com/cellfi-labs/cellfi-go/pkg/envelope"
	"github.com/cellfi-labs/cellfi-go/pkg/sms"
	"github.com/cellfi-labs/cellfi-go/pkg/types"
)

// RequestState tracks an inbound message through the relay pipeline.
type RequestState string

const (
	StateReceived        RequestState = "received"
	StateDecoded         RequestState = "decoded"
	StateBroadcasting    RequestState = "broadcasting"
	StateConfirmed       RequestState = "confirmed"
	StateDecodeFailed    RequestState = "decode_failed"
	StateBroadcastFailed RequestState = "broadcast_failed"
)

// DefaultConfirmTimeout bounds how long the gateway waits for a relayed
// transaction to be mined before giving up on the request.
const DefaultConfirmTimeout = 3 * time.Minute

// GatewayConfig holds the configuration for the relay gateway.
type GatewayConfig struct {
	ConfirmTimeout time.Duration
}

// Result is the outcome of relaying one inbound message, with the HTTP
// status code and plain-text body to answer the caller with.
type Result struct {
	Outcome    types.RelayOutcome
	StatusCode int
	Body       string
}

// Gateway executes signed envelopes arriving over the SMS channel. Each
// inbound message gets at most one broadcast attempt. A signed envelope
// is immutable, so resubmitting after an ambiguous failure risks double
// spending the nonce; the sender is told to compose a fresh transfer
// instead.
type Gateway struct {
	provider       chain.IProvider
	dispatcher     sms.IDispatcher
	confirmTimeout time.Duration
	logger         *zap.Logger
}

// NewGateway creates a new relay gateway.
func NewGateway(provider chain.IProvider, dispatcher sms.IDispatcher, config *GatewayConfig, logger *zap.Logger) (*Gateway, error) {
	if provider == nil {
		return nil, fmt.Errorf("chain provider is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("SMS dispatcher is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	confirmTimeout := DefaultConfirmTimeout
	if config != nil && config.ConfirmTimeout > 0 {
		confirmTimeout = config.ConfirmTimeout
	}

	return &Gateway{
		provider:       provider,
		dispatcher:     dispatcher,
		confirmTimeout: confirmTimeout,
		logger:         logger,
	}, nil
}

// Relay decodes and executes one inbound message body.
func (g *Gateway) Relay(ctx context.Context, content string) *Result {
	requestID := uuid.New().String()
	log := g.logger.With(zap.String("request_id", requestID)).Sugar()
	log.Infow("Received relay request", "state", StateReceived)

	env, err := envelope.Decode(content)
	if err != nil {
		log.Warnw("Envelope decode failed", "state", StateDecodeFailed, "error", err)
		// Only the raw text can tell us who to notify at this point.
		if mobile, ok := envelope.ExtractSenderMobile(content); ok {
			g.notify(ctx, log, mobile, sms.FailureMessage(err.Error()))
		}
		return failureResult(http.StatusBadRequest, err.Error())
	}
	log.Infow("Envelope decoded", "state", StateDecoded, "kind", string(env.Kind))

	log.Infow("Broadcasting transaction", "state", StateBroadcasting)
	hash, err := g.provider.Broadcast(ctx, env.RawSignatureHex)
	if err != nil {
		status := http.StatusBadGateway
		if chain.IsBroadcastError(err) {
			status = http.StatusUnprocessableEntity
		}
		reason := broadcastReason(err)
		log.Warnw("Broadcast failed", "state", StateBroadcastFailed, "error", err)
		g.notify(ctx, log, env.SenderMobile, sms.FailureMessage(reason))
		return failureResult(status, reason)
	}

	waitCtx, cancel := context.WithTimeout(ctx, g.confirmTimeout)
	defer cancel()
	if _, err := g.provider.WaitForConfirmation(waitCtx, hash); err != nil {
		status := http.StatusGatewayTimeout
		if chain.IsBroadcastError(err) {
			status = http.StatusUnprocessableEntity
		}
		reason := broadcastReason(err)
		log.Warnw("Confirmation failed", "state", StateBroadcastFailed, "tx_hash", hash.Hex(), "error", err)
		g.notify(ctx, log, env.SenderMobile, sms.FailureMessage(reason))
		return failureResult(status, reason)
	}
	log.Infow("Transaction confirmed", "state", StateConfirmed, "tx_hash", hash.Hex())

	// The transaction is settled from here on. Notification trouble must
	// not turn a confirmed transfer into a reported failure.
	details, err := g.provider.GetTransaction(ctx, hash)
	if err != nil {
		log.Errorw("Failed to fetch confirmed transaction details, skipping notifications", "tx_hash", hash.Hex(), "error", err)
	} else {
		g.notify(ctx, log, env.ReceiverMobile, sms.ReceiverConfirmedMessage(details.Value, details.From, hash))
		g.notify(ctx, log, env.SenderMobile, sms.SenderConfirmedMessage(details.Value, details.To, hash))
	}

	return &Result{
		Outcome:    types.RelayOutcome{Status: types.RelayStatusConfirmed, TxHash: hash},
		StatusCode: http.StatusOK,
		Body:       fmt.Sprintf("%s executed.\nTx Hash: %s", env.Kind, hash.Hex()),
	}
}

// notify sends a best-effort SMS. Delivery failures are logged and dropped.
func (g *Gateway) notify(ctx context.Context, log *zap.SugaredLogger, mobile string, message string) {
	if mobile == "" {
		return
	}
	if _, err := g.dispatcher.Notify(ctx, mobile, message); err != nil {
		log.Errorw("SMS notification failed", "error", err)
	}
}

func failureResult(status int, reason string) *Result {
	return &Result{
		Outcome:    types.RelayOutcome{Status: types.RelayStatusRejected, Reason: reason},
		StatusCode: status,
		Body:       fmt.Sprintf("Transaction failed: %s", reason),
	}
}

// broadcastReason extracts the node's rejection text so the sender sees it
// verbatim, without the wrapping added along the way.
func broadcastReason(err error) string {
	if be, ok := chain.AsBroadcastError(err); ok {
		return be.Reason
	}
	return err.Error()
}
