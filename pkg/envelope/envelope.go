package envelope

import (
	"fmt"
	"strings"

	"github.com/cellfi-labs/cellfi-go/pkg/types"
)

// Canonical field labels, in canonical encode order.
const (
	FieldType           = "Type"
	FieldSignature      = "Signature"
	FieldSenderMobile   = "Sender Mobile number"
	FieldReceiverMobile = "Receiver mobile number"
)

// DecodeError names the first missing or malformed envelope field. Decoding
// never fails generically: the relay and its callers rely on the field name.
type DecodeError struct {
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("envelope field %q %s", e.Field, e.Reason)
}

// Encode renders an envelope as the four-line SMS body, always in canonical
// order. Deterministic for a given envelope.
func Encode(env *types.SignedEnvelope) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s : %s\n", FieldType, env.Kind)
	fmt.Fprintf(&b, "%s : %s\n", FieldSignature, env.RawSignatureHex)
	fmt.Fprintf(&b, "%s : %s\n", FieldSenderMobile, env.SenderMobile)
	fmt.Fprintf(&b, "%s : %s", FieldReceiverMobile, env.ReceiverMobile)
	return b.String()
}

// Decode parses an SMS body into an envelope. Labels match
// case-insensitively with surrounding whitespace tolerated, and lines may
// appear in any order. Fields are validated in canonical order so the first
// problem found is deterministic.
func Decode(text string) (*types.SignedEnvelope, error) {
	fields := splitFields(text)

	rawKind, ok := fields[normalizeLabel(FieldType)]
	if !ok {
		return nil, &DecodeError{Field: FieldType, Reason: "is missing"}
	}
	kind, err := types.ParseTransactionKind(rawKind)
	if err != nil {
		return nil, &DecodeError{Field: FieldType, Reason: "must be Transfer or Swap"}
	}

	sig, ok := fields[normalizeLabel(FieldSignature)]
	if !ok {
		return nil, &DecodeError{Field: FieldSignature, Reason: "is missing"}
	}
	if !isHexSignature(sig) {
		return nil, &DecodeError{Field: FieldSignature, Reason: "must be 0x-prefixed hex"}
	}

	sender, ok := fields[normalizeLabel(FieldSenderMobile)]
	if !ok {
		return nil, &DecodeError{Field: FieldSenderMobile, Reason: "is missing"}
	}
	if !isMobileNumber(sender) {
		return nil, &DecodeError{Field: FieldSenderMobile, Reason: "must be digits with an optional leading +"}
	}

	receiver, ok := fields[normalizeLabel(FieldReceiverMobile)]
	if !ok {
		return nil, &DecodeError{Field: FieldReceiverMobile, Reason: "is missing"}
	}
	if !isMobileNumber(receiver) {
		return nil, &DecodeError{Field: FieldReceiverMobile, Reason: "must be digits with an optional leading +"}
	}

	return &types.SignedEnvelope{
		Kind:            kind,
		RawSignatureHex: sig,
		SenderMobile:    sender,
		ReceiverMobile:  receiver,
	}, nil
}

// ExtractSenderMobile pulls a sender mobile number out of text that may
// otherwise be malformed. The relay uses it to send a failure notification
// even when decoding rejects the envelope.
func ExtractSenderMobile(text string) (string, bool) {
	fields := splitFields(text)
	sender, ok := fields[normalizeLabel(FieldSenderMobile)]
	if !ok || !isMobileNumber(sender) {
		return "", false
	}
	return sender, true
}

// splitFields maps normalized labels to trimmed values, one field per line.
// Later duplicates of a label win, matching a last-match grep of the body.
func splitFields(text string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		label, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key := normalizeLabel(label)
		if key == "" {
			continue
		}
		fields[key] = strings.TrimSpace(value)
	}
	return fields
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.Join(strings.Fields(label), " "))
}

func isHexSignature(s string) bool {
	if !strings.HasPrefix(s, "0x") || len(s) == 2 {
		return false
	}
	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func isMobileNumber(s string) bool {
	if s == "" {
		return false
	}
	digits := strings.TrimPrefix(s, "+")
	if digits == "" {
		return false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
