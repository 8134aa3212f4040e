package eventlog

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	auth "github.com/TKOaly/user-service-sub000"
	"github.com/redis/go-redis/v9"
)

const (
	fieldSubject = "subject"
	fieldPayload = "payload"
	fieldTime    = "ts"

	fetchPageSize = 500
)

// publishScript appends one message. KEYS: seq, last, stream, ids.
// ARGV: expected last sequence or "", subject, payload, timestamp, rollup.
var publishScript = redis.NewScript(`
local last = tonumber(redis.call('GET', KEYS[2]) or '0')
if ARGV[1] ~= '' and tonumber(ARGV[1]) ~= last then
  return redis.error_reply('PRECONDITION last sequence is ' .. last)
end
local seq = redis.call('INCR', KEYS[1])
local id = seq .. '-0'
redis.call('XADD', KEYS[3], id, 'subject', ARGV[2], 'payload', ARGV[3], 'ts', ARGV[4])
if ARGV[5] == '1' then
  local ids = redis.call('LRANGE', KEYS[4], 0, -1)
  for _, old in ipairs(ids) do
    redis.call('XDEL', KEYS[3], old)
  end
  redis.call('DEL', KEYS[4])
end
redis.call('RPUSH', KEYS[4], id)
redis.call('SET', KEYS[2], seq)
return seq
`)

// purgeScript removes every message of a subject. KEYS: stream, ids.
var purgeScript = redis.NewScript(`
local ids = redis.call('LRANGE', KEYS[2], 0, -1)
for _, id in ipairs(ids) do
  redis.call('XDEL', KEYS[1], id)
end
redis.call('DEL', KEYS[2])
return #ids
`)

// RedisGateway stores the log in a single redis stream whose entry ids are
// the global sequence numbers.
type RedisGateway struct {
	conn   *Conn
	prefix string
	logger auth.Logger
	now    func() time.Time
}

var _ Gateway = (*RedisGateway)(nil)

type Option func(*RedisGateway)

// WithPrefix sets the key namespace. It is wrapped in a hash tag so every
// key lands in the same cluster slot.
func WithPrefix(prefix string) Option {
	return func(g *RedisGateway) {
		if prefix != "" {
			g.prefix = prefix
		}
	}
}

func WithLogger(l auth.Logger) Option {
	return func(g *RedisGateway) {
		g.logger = auth.NormalizeLogger(l)
	}
}

// WithClock sets the source of message timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *RedisGateway) {
		if now != nil {
			g.now = now
		}
	}
}

func NewRedisGateway(conn *Conn, opts ...Option) *RedisGateway {
	g := &RedisGateway{
		conn:   conn,
		prefix: "users",
		logger: auth.DefaultLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

func (g *RedisGateway) key(parts ...string) string {
	return "{" + g.prefix + "}:" + strings.Join(parts, ":")
}

func (g *RedisGateway) streamKey() string {
	return g.key("stream")
}

func (g *RedisGateway) Publish(ctx context.Context, subject string, payload []byte, opts ...PublishOption) (Ack, error) {
	if subject == "" {
		return Ack{}, auth.NewError(auth.ErrMalformedRequest, "subject is required")
	}
	o := publishOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	client, err := g.conn.Client(ctx)
	if err != nil {
		return Ack{}, err
	}

	expect := ""
	if o.expectLast != nil {
		expect = strconv.FormatUint(*o.expectLast, 10)
	}
	rollup := "0"
	if o.rollup {
		rollup = "1"
	}

	keys := []string{g.key("seq"), g.key("last", subject), g.streamKey(), g.key("ids", subject)}
	seq, err := publishScript.Run(ctx, client, keys,
		expect,
		subject,
		string(payload),
		g.now().UTC().Format(time.RFC3339Nano),
		rollup,
	).Int64()
	if err != nil {
		if strings.Contains(err.Error(), "PRECONDITION") {
			return Ack{}, auth.NewError(auth.ErrConflict, "", map[string]any{
				"subject":  subject,
				"expected": expect,
				"detail":   err.Error(),
			})
		}
		return Ack{}, auth.WrapError(auth.ErrBrokerUnavailable, err, "failed to publish event")
	}

	g.logger.Debug("event published", "subject", subject, "sequence", seq)
	return Ack{Subject: subject, Sequence: uint64(seq)}, nil
}

// Fetch returns every stored message matching pattern in sequence order.
func (g *RedisGateway) Fetch(ctx context.Context, pattern string) ([]Message, error) {
	client, err := g.conn.Client(ctx)
	if err != nil {
		return nil, err
	}

	var out []Message
	start := "-"
	for {
		page, err := client.XRangeN(ctx, g.streamKey(), start, "+", fetchPageSize).Result()
		if err != nil {
			return nil, auth.WrapError(auth.ErrBrokerUnavailable, err, "failed to read event log")
		}
		for _, entry := range page {
			msg, ok := decodeEntry(entry)
			if !ok || !MatchSubject(pattern, msg.Subject) {
				continue
			}
			out = append(out, msg)
		}
		if len(page) < fetchPageSize {
			return out, nil
		}
		seq, _ := parseEntryID(page[len(page)-1].ID)
		start = strconv.FormatUint(seq, 10) + "-1"
	}
}

func (g *RedisGateway) PurgeSubject(ctx context.Context, subject string) error {
	client, err := g.conn.Client(ctx)
	if err != nil {
		return err
	}
	n, err := purgeScript.Run(ctx, client, []string{g.streamKey(), g.key("ids", subject)}).Int64()
	if err != nil {
		return auth.WrapError(auth.ErrBrokerUnavailable, err, "failed to purge subject")
	}
	g.logger.Info("subject purged", "subject", subject, "messages", n)
	return nil
}

// LastSequence returns the sequence of the last message written to
// subject, or zero.
func (g *RedisGateway) LastSequence(ctx context.Context, subject string) (uint64, error) {
	client, err := g.conn.Client(ctx)
	if err != nil {
		return 0, err
	}
	raw, err := client.Get(ctx, g.key("last", subject)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, auth.WrapError(auth.ErrBrokerUnavailable, err, "failed to read last sequence")
	}
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, auth.WrapError(auth.ErrBrokerUnavailable, err, "corrupt last sequence")
	}
	return seq, nil
}

func decodeEntry(entry redis.XMessage) (Message, bool) {
	seq, ok := parseEntryID(entry.ID)
	if !ok {
		return Message{}, false
	}
	subject, _ := entry.Values[fieldSubject].(string)
	payload, _ := entry.Values[fieldPayload].(string)
	if subject == "" {
		return Message{}, false
	}
	msg := Message{
		Subject:  subject,
		Payload:  []byte(payload),
		Sequence: seq,
	}
	if ts, _ := entry.Values[fieldTime].(string); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			msg.Timestamp = t
		}
	}
	return msg, true
}

func parseEntryID(id string) (uint64, bool) {
	head, _, _ := strings.Cut(id, "-")
	seq, err := strconv.ParseUint(head, 10, 64)
	return seq, err == nil
}
