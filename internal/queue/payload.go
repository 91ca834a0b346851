package queue

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EncodePayload serializes an action payload for the payload column.
func EncodePayload(payload []any) (string, error) {
	if payload == nil {
		payload = []any{}
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("queue: encoding payload: %w", err)
	}

	return string(b), nil
}

// DecodePayload parses a stored payload. Numbers decode as json.Number so
// integer identifiers survive the round trip without float rounding.
func DecodePayload(s string) ([]any, error) {
	var payload []any
	if err := decodeJSON(s, &payload); err != nil {
		return nil, fmt.Errorf("queue: decoding payload: %w", err)
	}

	if payload == nil {
		payload = []any{}
	}

	return payload, nil
}

// NormalizePayload converts an arbitrary argument list into the exact shape
// DecodePayload produces (maps, slices, strings, bools, json.Number, nil).
// The engine persists normalized payloads so the in-memory mirror and a
// reload from disk hold identical values.
func NormalizePayload(payload []any) ([]any, error) {
	s, err := EncodePayload(payload)
	if err != nil {
		return nil, err
	}

	return DecodePayload(s)
}

func encodeValue(v any) (string, error) {
	if v == nil {
		return "", nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	return string(b), nil
}

func decodeJSON(s string, dst any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()

	return dec.Decode(dst)
}
