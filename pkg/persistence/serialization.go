package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/cellfi-labs/cellfi-go/pkg/types"
)

// MarshalNonceRecord serializes a NonceRecord to JSON bytes.
func MarshalNonceRecord(record *types.NonceRecord) ([]byte, error) {
	if record == nil {
		return nil, fmt.Errorf("cannot marshal nil NonceRecord")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal NonceRecord to JSON: %w", err)
	}

	return data, nil
}

// UnmarshalNonceRecord deserializes a NonceRecord from JSON bytes.
func UnmarshalNonceRecord(data []byte) (*types.NonceRecord, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var record types.NonceRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to NonceRecord: %w", err)
	}

	return &record, nil
}
