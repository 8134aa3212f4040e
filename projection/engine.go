// Package projection maintains the queryable user read model. Writes never
// touch the read model directly: they are published to the event log and
// applied back by the listener, so every row reflects a position in the log.
package projection

import (
	"context"
	"time"

	auth "github.com/TKOaly/user-service-sub000"
	"github.com/TKOaly/user-service-sub000/eventlog"
	"github.com/TKOaly/user-service-sub000/internal/metrics"
	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// DefaultDurabilityTimeout bounds how long a write waits for the projection
// to reflect its event.
const DefaultDurabilityTimeout = 10 * time.Second

// CreateOptions tune Create.
type CreateOptions struct {
	// ID reuses an existing identifier, for migrations. The user is
	// published as an import event.
	ID *int64
	// WaitForDurability blocks until the new user can be read back.
	WaitForDurability bool
}

// UpdateOptions tune Update.
type UpdateOptions struct {
	Password          *string
	Actor             *int64
	WaitForDurability bool
}

// DeleteOptions tune Delete.
type DeleteOptions struct {
	Actor             *int64
	WaitForDurability bool
}

// Engine is the write and query side of the user projection.
type Engine struct {
	repos   auth.RepositoryManager
	gateway eventlog.Gateway
	ids     *snowflake.Node
	logger  auth.Logger
	metrics *metrics.Metrics

	durabilityTimeout time.Duration
	pollInterval      time.Duration
}

var (
	_ auth.UserFinder         = (*Engine)(nil)
	_ auth.CredentialUpgrader = (*Engine)(nil)
)

type Option func(*Engine)

func WithLogger(l auth.Logger) Option {
	return func(e *Engine) {
		e.logger = auth.NormalizeLogger(l)
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithIDNode sets the snowflake node used to allocate user ids. Instances
// sharing an event log need distinct nodes.
func WithIDNode(node *snowflake.Node) Option {
	return func(e *Engine) {
		if node != nil {
			e.ids = node
		}
	}
}

func WithDurabilityTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.durabilityTimeout = d
		}
	}
}

func NewEngine(repos auth.RepositoryManager, gateway eventlog.Gateway, opts ...Option) (*Engine, error) {
	e := &Engine{
		repos:             repos,
		gateway:           gateway,
		logger:            auth.DefaultLogger(),
		durabilityTimeout: DefaultDurabilityTimeout,
		pollInterval:      10 * time.Millisecond,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.ids == nil {
		node, err := snowflake.NewNode(1)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create id node")
		}
		e.ids = node
	}
	return e, nil
}

// Fetch returns the projected user or a not found error.
func (e *Engine) Fetch(ctx context.Context, id int64) (*auth.User, error) {
	return e.repos.Users().GetByID(ctx, id)
}

// FindByUsername returns nil without error when nobody holds username.
func (e *Engine) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	return e.repos.Users().FindByUsername(ctx, username)
}

// FindByEmail returns nil without error when nobody holds email.
func (e *Engine) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return e.repos.Users().FindByEmail(ctx, email)
}

// Create publishes a new user and returns its id. Username and email are
// reserved first; any failure afterwards releases the reservations.
func (e *Engine) Create(ctx context.Context, fields auth.UserFields, rawCredential string, opts CreateOptions) (int64, error) {
	fields.Normalize()
	if err := validateFields(&fields); err != nil {
		return 0, err
	}

	id, imported, err := e.allocateID(ctx, opts.ID)
	if err != nil {
		return 0, err
	}

	held, err := e.reserve(ctx, id, &fields.Username, &fields.Email)
	if err != nil {
		return 0, err
	}
	if err := e.checkAvailable(ctx, id, &fields.Username, &fields.Email); err != nil {
		e.release(ctx, held)
		return 0, err
	}

	switch {
	case rawCredential != "":
		hashes, err := auth.HashCredential(rawCredential)
		if err != nil {
			e.release(ctx, held)
			return 0, err
		}
		fields.Salt, fields.LegacyHash, fields.PasswordHash = hashes.Salt, hashes.LegacyHash, hashes.PasswordHash
	case imported && (fields.PasswordHash != "" || fields.LegacyHash != ""):
	default:
		e.release(ctx, held)
		return 0, auth.NewError(auth.ErrMalformedRequest, "password is required")
	}

	var evt Event = CreateEvent{ID: id, Fields: fields}
	if imported {
		evt = ImportEvent{ID: id, Fields: fields}
	}

	ack, err := e.publish(ctx, evt, eventlog.ExpectLastSequence(0))
	if err != nil {
		e.release(ctx, held)
		return 0, err
	}
	e.logger.Info("user created", "id", id, "sequence", ack.Sequence, "import", imported)

	if opts.WaitForDurability {
		if err := e.waitApplied(ctx, id, ack.Sequence); err != nil {
			return id, err
		}
		e.release(ctx, held)
	}
	return id, nil
}

// Update publishes the fields of patch that differ from the projected user
// and returns how many changed. The write is conditional on the sequence
// read at the start of the call.
func (e *Engine) Update(ctx context.Context, id int64, patch auth.UserPatch, opts UpdateOptions) (int, error) {
	current, err := e.Fetch(ctx, id)
	if err != nil {
		return 0, err
	}

	patch.Normalize()
	if err := validatePatch(&patch); err != nil {
		return 0, err
	}
	if opts.Password != nil {
		hashes, err := auth.HashCredential(*opts.Password)
		if err != nil {
			return 0, err
		}
		patch.Salt, patch.LegacyHash, patch.PasswordHash = &hashes.Salt, &hashes.LegacyHash, &hashes.PasswordHash
	}

	changes, names := patch.Changes(current)
	if len(names) == 0 {
		return 0, nil
	}

	if err := e.commitSet(ctx, current, changes, opts.Actor, opts.WaitForDurability); err != nil {
		if auth.IsProjectionLag(err) {
			return len(names), err
		}
		return 0, err
	}
	e.logger.Info("user updated", "id", id, "fields", names)
	return len(names), nil
}

// UpgradeCredential stores a modern hash for a user that logged in with a
// legacy one.
func (e *Engine) UpgradeCredential(ctx context.Context, user *auth.User, hashes auth.PasswordHashes) error {
	changes, names := hashes.Patch().Changes(user)
	if len(names) == 0 {
		return nil
	}
	return e.commitSet(ctx, user, changes, &user.ID, false)
}

func (e *Engine) commitSet(ctx context.Context, current *auth.User, changes auth.UserPatch, actor *int64, wait bool) error {
	held, err := e.reserve(ctx, current.ID, changes.Username, changes.Email)
	if err != nil {
		return err
	}
	if err := e.checkAvailable(ctx, current.ID, changes.Username, changes.Email); err != nil {
		e.release(ctx, held)
		return err
	}

	ack, err := e.publish(ctx,
		SetEvent{ID: current.ID, Patch: changes, Subject: actor},
		eventlog.ExpectLastSequence(current.LastAppliedSequence),
	)
	if err != nil {
		e.release(ctx, held)
		return err
	}

	if wait {
		if err := e.waitApplied(ctx, current.ID, ack.Sequence); err != nil {
			return err
		}
		e.release(ctx, held)
	}
	return nil
}

// Delete publishes a delete event and drops the user's history from the
// log. It returns the number of deleted users.
func (e *Engine) Delete(ctx context.Context, id int64, opts DeleteOptions) (int, error) {
	current, err := e.Fetch(ctx, id)
	if err != nil {
		return 0, err
	}

	ack, err := e.publish(ctx, DeleteEvent{ID: id},
		eventlog.ExpectLastSequence(current.LastAppliedSequence),
		eventlog.Rollup(),
	)
	if err != nil {
		return 0, err
	}
	e.logger.Info("user deleted", "id", id, "sequence", ack.Sequence, "actor", opts.Actor)

	if opts.WaitForDurability {
		if err := e.waitRemoved(ctx, id); err != nil {
			return 1, err
		}
	}
	return 1, nil
}

// ApplyEvent folds one event into the projection. It must run inside tx and
// is idempotent: events at or below the user's last applied sequence are
// skipped.
func (e *Engine) ApplyEvent(ctx context.Context, tx bun.IDB, evt Event, sequence uint64, receivedAt time.Time) error {
	users := e.repos.Users()
	id := evt.UserID()

	current, err := users.GetByIDTx(ctx, tx, id)
	if err != nil && !auth.IsNotFound(err) {
		return err
	}
	if current != nil && sequence <= current.LastAppliedSequence {
		e.metrics.EventApplied(string(evt.Kind()), "skipped", sequence)
		return nil
	}
	receivedAt = receivedAt.UTC()

	var applied *auth.User
	switch ev := evt.(type) {
	case CreateEvent:
		applied = newRow(id, ev.Fields, current, receivedAt)
	case ImportEvent:
		applied = newRow(id, ev.Fields, current, receivedAt)
	case SetEvent:
		if current == nil {
			e.logger.Warn("set event for unknown user", "id", id, "sequence", sequence)
			e.metrics.EventApplied(string(evt.Kind()), "orphaned", sequence)
			return nil
		}
		ev.Patch.ApplyTo(current)
		current.UpdatedAt = receivedAt
		applied = current
	case DeleteEvent:
		if current != nil {
			if err := users.DeleteTx(ctx, tx, id); err != nil {
				return err
			}
		}
		if err := e.repos.Reservations().ReleaseForUserTx(ctx, tx, id); err != nil {
			return err
		}
		e.metrics.EventApplied(string(evt.Kind()), "applied", sequence)
		return nil
	case UnknownEvent:
		if current == nil {
			e.metrics.EventApplied("unknown", "orphaned", sequence)
			return nil
		}
		applied = current
	default:
		return auth.NewError(auth.ErrMalformedRequest, "unsupported event type")
	}

	applied.LastAppliedSequence = sequence
	if err := users.UpsertTx(ctx, tx, applied); err != nil {
		return err
	}
	if err := e.repos.Reservations().ReleaseAppliedTx(ctx, tx, applied); err != nil {
		return err
	}

	kind := string(evt.Kind())
	if _, ok := evt.(UnknownEvent); ok {
		kind = "unknown"
	}
	e.metrics.EventApplied(kind, "applied", sequence)
	return nil
}

func newRow(id int64, fields auth.UserFields, current *auth.User, at time.Time) *auth.User {
	u := &auth.User{ID: id, CreatedAt: at, UpdatedAt: at}
	if current != nil {
		u.CreatedAt = current.CreatedAt
	}
	fields.ApplyTo(u)
	return u
}

func (e *Engine) allocateID(ctx context.Context, requested *int64) (int64, bool, error) {
	if requested == nil {
		return e.ids.Generate().Int64(), false, nil
	}

	id := *requested
	if id <= 0 {
		return 0, false, auth.NewError(auth.ErrMalformedRequest, "user id must be positive")
	}
	if _, err := e.Fetch(ctx, id); err == nil {
		return 0, false, auth.NewError(auth.ErrAlreadyInUse, "user id is already in use", map[string]any{"id": id})
	} else if !auth.IsNotFound(err) {
		return 0, false, err
	}
	reserved, err := e.repos.Reservations().HasUser(ctx, id)
	if err != nil {
		return 0, false, err
	}
	if reserved {
		return 0, false, auth.NewError(auth.ErrAlreadyInUse, "user id is already in use", map[string]any{"id": id})
	}
	return id, true, nil
}

// checkAvailable must run after reserve: once the reservation is held, any
// earlier holder of the value is already visible in the projection.
func (e *Engine) checkAvailable(ctx context.Context, id int64, username, email *string) error {
	if username != nil {
		owner, err := e.FindByUsername(ctx, *username)
		if err != nil {
			return err
		}
		if owner != nil && owner.ID != id {
			return auth.NewError(auth.ErrAlreadyInUse, "username is already in use", map[string]any{"field": "username"})
		}
	}
	if email != nil {
		owner, err := e.FindByEmail(ctx, *email)
		if err != nil {
			return err
		}
		if owner != nil && owner.ID != id {
			return auth.NewError(auth.ErrAlreadyInUse, "email is already in use", map[string]any{"field": "email"})
		}
	}
	return nil
}

func (e *Engine) reserve(ctx context.Context, id int64, username, email *string) ([]int64, error) {
	var held []int64
	if username != nil {
		rid, err := e.repos.Reservations().ReserveUsername(ctx, *username, id)
		if err != nil {
			return nil, err
		}
		held = append(held, rid)
	}
	if email != nil {
		rid, err := e.repos.Reservations().ReserveEmail(ctx, *email, id)
		if err != nil {
			e.release(ctx, held)
			return nil, err
		}
		held = append(held, rid)
	}
	return held, nil
}

func (e *Engine) release(ctx context.Context, ids []int64) {
	if len(ids) == 0 {
		return
	}
	if err := e.repos.Reservations().Release(context.WithoutCancel(ctx), ids...); err != nil {
		e.logger.Error("failed to release reservations", "ids", ids, "error", err)
	}
}

func (e *Engine) publish(ctx context.Context, evt Event, opts ...eventlog.PublishOption) (eventlog.Ack, error) {
	payload, err := EncodeEvent(evt)
	if err != nil {
		return eventlog.Ack{}, err
	}
	return e.gateway.Publish(ctx, Subject(evt.UserID()), payload, opts...)
}

// waitApplied polls the projection until the user reflects sequence.
func (e *Engine) waitApplied(ctx context.Context, id int64, sequence uint64) error {
	return e.poll(ctx, id, func() (bool, error) {
		seq, ok, err := e.repos.Users().LastSequence(ctx, id)
		if err != nil {
			return false, err
		}
		return ok && seq >= sequence, nil
	})
}

func (e *Engine) waitRemoved(ctx context.Context, id int64) error {
	return e.poll(ctx, id, func() (bool, error) {
		_, ok, err := e.repos.Users().LastSequence(ctx, id)
		return !ok, err
	})
}

func (e *Engine) poll(ctx context.Context, id int64, done func() (bool, error)) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.pollInterval
	b.MaxInterval = time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		ok, err := done()
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if !ok {
			return struct{}{}, errNotYetApplied
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(e.durabilityTimeout))
	if err == nil {
		return nil
	}
	if err == errNotYetApplied || ctx.Err() != nil {
		return auth.WrapError(auth.ErrProjectionLag, err, "")
	}
	return err
}

var errNotYetApplied = goerrors.New("projection has not caught up", goerrors.CategoryOperation)
