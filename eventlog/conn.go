package eventlog

import (
	"context"
	"sync"

	auth "github.com/TKOaly/user-service-sub000"
	"github.com/redis/go-redis/v9"
)

// Conn is the process wide handle to the broker. The client is created
// and verified on first use; a failed attempt is retried by the next call.
type Conn struct {
	mu        sync.Mutex
	opts      *redis.UniversalOptions
	client    redis.UniversalClient
	newClient func(*redis.UniversalOptions) redis.UniversalClient
}

// NewConn returns a handle that connects lazily using opts.
func NewConn(opts *redis.UniversalOptions) *Conn {
	return &Conn{
		opts:      opts,
		newClient: redis.NewUniversalClient,
	}
}

// NewConnWithClient wraps an already established client.
func NewConnWithClient(client redis.UniversalClient) *Conn {
	return &Conn{client: client}
}

// Client returns the shared client, establishing it if needed.
func (c *Conn) Client(ctx context.Context) (redis.UniversalClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	if c.opts == nil || c.newClient == nil {
		return nil, auth.NewError(auth.ErrBrokerUnavailable, "event log connection is not configured")
	}

	client := c.newClient(c.opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, auth.WrapError(auth.ErrBrokerUnavailable, err, "failed to connect to event log")
	}
	c.client = client
	return client, nil
}

// Close releases the client if one was established.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}
