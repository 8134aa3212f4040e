// Package kvstore provides the short lived key value storage used for
// authorization flows, authorization codes and login throttling.
package kvstore

import (
	"context"
	"encoding/json"
	"time"

	auth "github.com/TKOaly/user-service-sub000"
	"github.com/goliatone/go-errors"
)

// DefaultCleanupInterval is how often the memory store evicts expired keys.
const DefaultCleanupInterval = time.Minute

// Store is a TTL key value store. Every key expires; there is no way to
// store a value forever.
type Store interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Take returns the value and deletes the key atomically. Concurrent
	// callers racing for the same key see at most one success.
	Take(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// Incr increments a counter. The ttl is applied when the counter is
	// created and is not extended by later increments.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Close() error
}

var _ auth.AttemptCounter = Store(nil)

func notFound(key string) error {
	return auth.NewError(auth.ErrNotFound, "key not found or expired", map[string]any{"key": key})
}

func invalidTTL(key string) error {
	return errors.New("ttl must be positive", errors.CategoryBadInput).
		WithMetadata(map[string]any{"key": key})
}

// PutJSON stores v encoded as JSON.
func PutJSON[T any](ctx context.Context, s Store, key string, v T, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to encode value")
	}
	return s.Put(ctx, key, raw, ttl)
}

// GetJSON loads and decodes the value stored under key.
func GetJSON[T any](ctx context.Context, s Store, key string) (T, error) {
	var out T
	raw, err := s.Get(ctx, key)
	if err != nil {
		return out, err
	}
	return decode[T](raw)
}

// TakeJSON is GetJSON followed by an atomic delete.
func TakeJSON[T any](ctx context.Context, s Store, key string) (T, error) {
	var out T
	raw, err := s.Take(ctx, key)
	if err != nil {
		return out, err
	}
	return decode[T](raw)
}

func decode[T any](raw []byte) (T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, errors.Wrap(err, errors.CategoryInternal, "failed to decode value")
	}
	return out, nil
}
