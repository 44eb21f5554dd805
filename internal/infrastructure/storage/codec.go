package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// ErrCorrupt marks a stored record whose bytes no longer decode
var ErrCorrupt = errors.New("storage: corrupt record")

// codec uses the std-compatible sonic config: sorted map keys, so the same
// record always encodes to the same bytes
var codec = sonic.ConfigStd

// Encode serializes a record
func Encode(v interface{}) ([]byte, error) {
	data, err := codec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	return data, nil
}

// Decode deserializes a record
func Decode(data []byte, v interface{}) error {
	if err := codec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return nil
}

// GetRecord reads and decodes key into v. found is false when the key does
// not exist.
func GetRecord(ctx context.Context, kv KV, key string, v interface{}) (found bool, err error) {
	data, err := kv.Get(ctx, key)
	if errors.Is(err, ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := Decode(data, v); err != nil {
		return false, err
	}
	return true, nil
}

// PutRecord encodes v and stores it under key
func PutRecord(ctx context.Context, kv KV, key string, v interface{}) error {
	data, err := Encode(v)
	if err != nil {
		return err
	}
	return kv.Put(ctx, key, data)
}
