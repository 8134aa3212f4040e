package projection

import (
	"context"
	"sync"

	auth "github.com/TKOaly/user-service-sub000"
	"github.com/TKOaly/user-service-sub000/eventlog"
	"github.com/uptrace/bun"
)

// DefaultConsumerGroup is the durable cursor shared by service instances.
const DefaultConsumerGroup = "user-projection"

// Listener feeds live events from the log into the projection. Events that
// fail to decode or apply are left pending and redelivered; set
// MaxDeliveries on the subscription to drop them eventually.
type Listener struct {
	engine  *Engine
	gateway eventlog.Gateway
	cfg     eventlog.SubscribeConfig
	logger  auth.Logger

	mu  sync.Mutex
	sub *eventlog.Subscription
}

// NewListener builds a listener. Empty Pattern and Group fields of cfg are
// filled with SubjectPattern and DefaultConsumerGroup.
func NewListener(engine *Engine, gateway eventlog.Gateway, cfg eventlog.SubscribeConfig) *Listener {
	if cfg.Pattern == "" {
		cfg.Pattern = SubjectPattern
	}
	if cfg.Group == "" {
		cfg.Group = DefaultConsumerGroup
	}
	if cfg.Consumer == "" {
		cfg.Consumer = cfg.Group + "-0"
	}
	return &Listener{
		engine:  engine,
		gateway: gateway,
		cfg:     cfg,
		logger:  engine.logger,
	}
}

// Start subscribes and blocks until the consumer loop is running. Calling
// Start on a running listener is a no-op.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.runningLocked() {
		return nil
	}

	sub, err := l.gateway.Subscribe(ctx, l.cfg, l.handle)
	if err != nil {
		return err
	}
	l.sub = sub

	select {
	case <-sub.Ready():
	case <-ctx.Done():
		return ctx.Err()
	}
	l.logger.Info("projection listener started", "group", l.cfg.Group, "consumer", l.cfg.Consumer)
	return sub.Err()
}

// Ready is closed once the consumer loop is running. It is nil before Start.
func (l *Listener) Ready() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sub == nil {
		return nil
	}
	return l.sub.Ready()
}

// Done is closed when the consumer loop exits. It is nil before Start.
func (l *Listener) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sub == nil {
		return nil
	}
	return l.sub.Done()
}

// Err returns the reason the consumer loop exited.
func (l *Listener) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sub == nil {
		return nil
	}
	return l.sub.Err()
}

// Stop cancels the consumer and waits for the event in flight.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	sub := l.sub
	l.mu.Unlock()

	if sub == nil {
		return nil
	}
	if err := sub.Stop(ctx); err != nil {
		return err
	}
	l.logger.Info("projection listener stopped", "group", l.cfg.Group)
	return nil
}

// RunPaused stops the listener, runs fn and starts the listener again if it
// was running before. Rebuilds go through here.
func (l *Listener) RunPaused(ctx context.Context, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	running := l.runningLocked()
	l.mu.Unlock()

	if running {
		if err := l.Stop(ctx); err != nil {
			return err
		}
	}

	ferr := fn(ctx)

	if running {
		if err := l.Start(context.WithoutCancel(ctx)); err != nil {
			l.logger.Error("failed to restart projection listener", "error", err)
			if ferr == nil {
				return err
			}
		}
	}
	return ferr
}

func (l *Listener) runningLocked() bool {
	if l.sub == nil {
		return false
	}
	select {
	case <-l.sub.Done():
		return false
	default:
		return true
	}
}

func (l *Listener) handle(ctx context.Context, msg eventlog.Message) error {
	evt, err := DecodeEvent(msg.Payload)
	if err != nil {
		l.logger.Error("undecodable event", "subject", msg.Subject, "sequence", msg.Sequence, "error", err)
		l.engine.metrics.EventFailed()
		return err
	}

	err = l.engine.repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return l.engine.ApplyEvent(ctx, tx, evt, msg.Sequence, msg.Timestamp)
	})
	if err != nil {
		l.logger.Error("failed to apply event", "subject", msg.Subject, "sequence", msg.Sequence, "error", err)
		l.engine.metrics.EventFailed()
		return err
	}
	return nil
}
