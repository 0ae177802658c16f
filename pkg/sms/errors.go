package sms

import (
	"errors"
	"fmt"
)

// DeliveryError is a failure to hand a message to the SMS provider or a
// rejection reported in the provider's response.
type DeliveryError struct {
	Mobile string
	Status string
	Reason string
}

func (e *DeliveryError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("SMS delivery to %s failed (status %s): %s", e.Mobile, e.Status, e.Reason)
	}
	return fmt.Sprintf("SMS delivery to %s failed: %s", e.Mobile, e.Reason)
}

// IsDeliveryError reports whether err is an SMS delivery failure.
func IsDeliveryError(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de)
}
