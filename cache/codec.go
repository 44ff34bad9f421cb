package cache

import (
	"context"
	"encoding/json"
	"time"
)

// EncodeJSON marshals v for storage. Marshal failures are reported as
// serialization errors so callers can distinguish them from backend faults.
func EncodeJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &SerializationError{Op: "encode", Err: err}
	}
	return data, nil
}

// DecodeJSON unmarshals cached bytes into v.
func DecodeJSON(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &SerializationError{Op: "decode", Err: err}
	}
	return nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, a Adapter, key string, v any, ttl time.Duration) error {
	data, err := EncodeJSON(v)
	if err != nil {
		return err
	}
	return a.Set(ctx, key, data, ttl)
}

// GetJSON fetches key and decodes it into v. Absence is reported through the
// boolean, not an error.
func GetJSON(ctx context.Context, a Adapter, key string, v any) (bool, error) {
	data, found, err := a.Get(ctx, key)
	if err != nil || !found {
		return found, err
	}
	if err := DecodeJSON(data, v); err != nil {
		return false, err
	}
	return true, nil
}
