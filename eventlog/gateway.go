// Package eventlog is the adapter to the append-only event log that is the
// source of truth for user records.
//
// Every published message receives a global, strictly increasing sequence
// number. Publishing can be made conditional on the last sequence written
// to a subject, which is how concurrent user updates are detected.
package eventlog

import (
	"context"
	"strings"
	"time"
)

// Message is one entry of the log.
type Message struct {
	Subject   string
	Payload   []byte
	Sequence  uint64
	Timestamp time.Time
}

// Ack confirms a durable append.
type Ack struct {
	Subject  string
	Sequence uint64
}

// Handler processes a delivered message. Returning nil acknowledges it,
// returning an error leaves it pending for redelivery.
type Handler func(ctx context.Context, msg Message) error

// SubscribeConfig describes a durable subscription.
type SubscribeConfig struct {
	// Pattern selects subjects, see MatchSubject.
	Pattern string
	// Group is the durable consumer name. Its cursor survives restarts.
	Group string
	// Consumer identifies this process inside the group.
	Consumer string
	// BatchSize caps the number of messages read per round trip.
	BatchSize int64
	// Block is how long a read waits for new messages.
	Block time.Duration
	// MaxDeliveries drops a message after this many failed deliveries.
	// Zero retries forever, which keeps per subject ordering intact.
	MaxDeliveries int
}

// Gateway is the event log contract used by the projection.
type Gateway interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...PublishOption) (Ack, error)
	Subscribe(ctx context.Context, cfg SubscribeConfig, handler Handler) (*Subscription, error)
	Fetch(ctx context.Context, pattern string) ([]Message, error)
	PurgeSubject(ctx context.Context, subject string) error
	LastSequence(ctx context.Context, subject string) (uint64, error)
}

type publishOptions struct {
	expectLast *uint64
	rollup     bool
}

type PublishOption func(*publishOptions)

// ExpectLastSequence makes the append conditional: it fails with a
// conflict unless the last sequence written to the subject is seq. Zero
// means the subject must be empty.
func ExpectLastSequence(seq uint64) PublishOption {
	return func(o *publishOptions) {
		o.expectLast = &seq
	}
}

// Rollup drops the earlier history of the subject once the message is
// appended.
func Rollup() PublishOption {
	return func(o *publishOptions) {
		o.rollup = true
	}
}

// MatchSubject reports whether subject matches pattern. Tokens are dot
// separated; "*" matches exactly one token and a trailing ">" matches one
// or more.
func MatchSubject(pattern, subject string) bool {
	if pattern == "" || pattern == ">" {
		return subject != ""
	}
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")

	for i, p := range pt {
		if p == ">" {
			return i == len(pt)-1 && len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}
