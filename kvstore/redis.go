package kvstore

import (
	"context"
	"errors"
	"time"

	auth "github.com/TKOaly/user-service-sub000"
	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
)

var incrScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RedisStore shares entries between instances through redis. Expiry is
// handled by redis itself.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStore wraps an existing client. Keys are stored as prefix + key.
func NewRedisStore(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) key(k string) string {
	return s.keyPrefix + k
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return invalidTTL(key)
	}
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return unavailable(err, "failed to store key")
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFound(key)
		}
		return nil, unavailable(err, "failed to load key")
	}
	return raw, nil
}

func (s *RedisStore) Take(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.client.GetDel(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFound(key)
		}
		return nil, unavailable(err, "failed to take key")
	}
	return raw, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return unavailable(err, "failed to delete key")
	}
	return nil
}

func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, invalidTTL(key)
	}
	n, err := incrScript.Run(ctx, s.client, []string{s.key(key)}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, unavailable(err, "failed to increment key")
	}
	return n, nil
}

// Close is a no-op; the client is owned by the caller.
func (s *RedisStore) Close() error {
	return nil
}

func unavailable(err error, message string) error {
	return auth.WrapError(auth.ErrBrokerUnavailable, err, message)
}

func invalidCounter(key string, err error) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, "stored value is not a counter").
		WithMetadata(map[string]any{"key": key})
}
