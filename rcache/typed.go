package rcache

import (
	"context"
	"encoding/json"
	"fmt"
)

// GetAs returns the cached value for key decoded from JSON into a T.
func GetAs[T any](ctx context.Context, c Interface, key string) (T, bool, error) {
	var v T
	data, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return v, false, err
	}
	if err = json.Unmarshal(data, &v); err != nil {
		return v, false, fmt.Errorf("cannot decode cached value: %w", err)
	}
	return v, true, nil
}

// PutAs caches the JSON encoding of value for key.
func PutAs[T any](ctx context.Context, c Interface, key string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cannot encode value: %w", err)
	}
	return c.Put(ctx, key, data)
}

// GetOrLoadAs is GetOrLoad for values of type T, stored as JSON.
func GetOrLoadAs[T any](ctx context.Context, c *Cache, key string, load func(context.Context) (T, error)) (T, error) {
	var v T
	data, err := c.GetOrLoad(ctx, key, func(ctx context.Context) ([]byte, error) {
		loaded, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(loaded)
	})
	if err != nil {
		return v, err
	}
	if err = json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("cannot decode cached value: %w", err)
	}
	return v, nil
}
