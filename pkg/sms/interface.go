package sms

import (
	"context"
	"net/http"
)

// IDispatcher defines the interface for sending SMS notifications.
// This interface abstracts the SMS provider implementation to allow for
// easier testing and potential alternative implementations.
type IDispatcher interface {
	// SetHttpClient allows setting a custom HTTP client for the dispatcher.
	// This is useful for testing or when custom HTTP client configuration is needed.
	SetHttpClient(client *http.Client)

	// Notify sends a text message to a single mobile number. Delivery
	// failures are reported as *DeliveryError.
	Notify(ctx context.Context, mobile string, message string) (*DeliveryResult, error)
}

// DeliveryResult describes an accepted message.
type DeliveryResult struct {
	MessageID string
	Remaining string
}

// Compile-time check to ensure VonageClient implements IDispatcher
var _ IDispatcher = (*VonageClient)(nil)
