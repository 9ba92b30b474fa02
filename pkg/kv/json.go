package kv

import (
	"context"
	"encoding/json"
	"fmt"
)

// GetJSON reads key and decodes its JSON value into v. The returned predicate can be passed
// to SetJSONIf.
func GetJSON(ctx context.Context, store Store, partitionKey, key []byte, v interface{}) (Predicate, error) {
	res, err := store.Get(ctx, partitionKey, key)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(res.Value, v); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", partitionKey, key, err)
	}
	return res.Predicate, nil
}

func SetJSON(ctx context.Context, store Store, partitionKey, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", partitionKey, key, err)
	}
	return store.Set(ctx, partitionKey, key, data)
}

// SetJSONIf encodes v and stores it only if pred still holds. A nil pred means insert-if-absent.
func SetJSONIf(ctx context.Context, store Store, partitionKey, key []byte, v interface{}, pred Predicate) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", partitionKey, key, err)
	}
	return store.SetIf(ctx, partitionKey, key, data, pred)
}
