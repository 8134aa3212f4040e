package eventlog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	auth "github.com/TKOaly/user-service-sub000"
	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
)

const (
	defaultBatchSize = 64
	defaultBlock     = time.Second
)

// Subscription is the handle to a running consumer loop.
type Subscription struct {
	ready     chan struct{}
	done      chan struct{}
	cancel    context.CancelFunc
	readyOnce sync.Once

	mu  sync.Mutex
	err error
}

func newSubscription(cancel context.CancelFunc) *Subscription {
	return &Subscription{
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// Ready is closed once the consumer loop is running.
func (s *Subscription) Ready() <-chan struct{} {
	return s.ready
}

// Done is closed when the consumer loop has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason the loop exited, if it failed.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop cancels the loop and waits until the message in flight, if any, has
// been handled.
func (s *Subscription) Stop(ctx context.Context) error {
	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Subscription) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *Subscription) finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.markReady()
	close(s.done)
}

// Subscribe starts a durable consumer that runs until ctx is done or Stop
// is called. The consumer group is created on first use and starts at the
// beginning of the log; messages already acknowledged by the group are
// never delivered again.
func (g *RedisGateway) Subscribe(ctx context.Context, cfg SubscribeConfig, handler Handler) (*Subscription, error) {
	if cfg.Group == "" || cfg.Consumer == "" {
		return nil, auth.NewError(auth.ErrMalformedRequest, "subscription requires a group and a consumer")
	}
	if handler == nil {
		return nil, auth.NewError(auth.ErrMalformedRequest, "subscription requires a handler")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Block <= 0 {
		cfg.Block = defaultBlock
	}

	client, err := g.conn.Client(ctx)
	if err != nil {
		return nil, err
	}
	if err := g.ensureGroup(ctx, client, cfg.Group); err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	sub := newSubscription(cancel)
	c := &consumer{
		gateway:  g,
		client:   client,
		cfg:      cfg,
		handler:  handler,
		sub:      sub,
		failures: map[string]int{},
	}
	go c.run(loopCtx)

	return sub, nil
}

func (g *RedisGateway) ensureGroup(ctx context.Context, client redis.UniversalClient, group string) error {
	err := client.XGroupCreateMkStream(ctx, g.streamKey(), group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return auth.WrapError(auth.ErrBrokerUnavailable, err, "failed to create consumer group")
	}
	return nil
}

type consumer struct {
	gateway  *RedisGateway
	client   redis.UniversalClient
	cfg      SubscribeConfig
	handler  Handler
	sub      *Subscription
	failures map[string]int
}

func (c *consumer) run(ctx context.Context) {
	logger := c.gateway.logger
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 100 * time.Millisecond
	retry.MaxInterval = 10 * time.Second

	c.sub.markReady()
	logger.Info("subscription started", "group", c.cfg.Group, "consumer", c.cfg.Consumer, "pattern", c.cfg.Pattern)

	for {
		if ctx.Err() != nil {
			c.sub.finish(nil)
			logger.Info("subscription stopped", "group", c.cfg.Group)
			return
		}

		msgs, err := c.read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			if strings.Contains(err.Error(), "NOGROUP") {
				_ = c.gateway.ensureGroup(ctx, c.client, c.cfg.Group)
			}
			wait := retry.NextBackOff()
			logger.Warn("event log read failed", "error", err, "retry_in", wait)
			sleep(ctx, wait)
			continue
		}

		if !c.handleBatch(ctx, msgs) {
			wait := retry.NextBackOff()
			sleep(ctx, wait)
			continue
		}
		retry.Reset()
	}
}

// read returns pending messages of this consumer first, then new ones.
func (c *consumer) read(ctx context.Context) ([]redis.XMessage, error) {
	stream := c.gateway.streamKey()

	pending, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{stream, "0"},
		Count:    c.cfg.BatchSize,
		Block:    -1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if msgs := flatten(pending); len(msgs) > 0 {
		return msgs, nil
	}

	fresh, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{stream, ">"},
		Count:    c.cfg.BatchSize,
		Block:    c.cfg.Block,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	return flatten(fresh), nil
}

// handleBatch processes msgs in order. It stops at the first failure so
// later messages are not applied ahead of the failed one; they stay pending
// and are read again together with it.
func (c *consumer) handleBatch(ctx context.Context, msgs []redis.XMessage) bool {
	logger := c.gateway.logger
	stream := c.gateway.streamKey()

	for _, entry := range msgs {
		if ctx.Err() != nil {
			return true
		}

		msg, ok := decodeEntry(entry)
		if !ok || !MatchSubject(c.cfg.Pattern, msg.Subject) {
			c.ack(ctx, stream, entry.ID)
			continue
		}

		if err := c.handler(ctx, msg); err != nil {
			c.failures[entry.ID]++
			attempts := c.failures[entry.ID]
			if c.cfg.MaxDeliveries > 0 && attempts >= c.cfg.MaxDeliveries {
				logger.Error("dropping message after repeated failures",
					"subject", msg.Subject, "sequence", msg.Sequence, "attempts", attempts, "error", err)
				delete(c.failures, entry.ID)
				c.ack(ctx, stream, entry.ID)
				continue
			}
			logger.Warn("message handler failed", "subject", msg.Subject, "sequence", msg.Sequence,
				"attempts", attempts, "error", err)
			return false
		}

		delete(c.failures, entry.ID)
		c.ack(ctx, stream, entry.ID)
	}
	return true
}

func (c *consumer) ack(ctx context.Context, stream, id string) {
	// an ack lost here only causes a redelivery
	if err := c.client.XAck(context.WithoutCancel(ctx), stream, c.cfg.Group, id).Err(); err != nil {
		c.gateway.logger.Warn("failed to ack message", "id", id, "error", err)
	}
}

func flatten(streams []redis.XStream) []redis.XMessage {
	var out []redis.XMessage
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
