// Package api exposes the session, user and administration endpoints of
// the identity provider.
package api

import (
	"context"

	auth "github.com/TKOaly/user-service-sub000"
	"github.com/TKOaly/user-service-sub000/internal/metrics"
	"github.com/TKOaly/user-service-sub000/middleware/bearer"
	"github.com/TKOaly/user-service-sub000/projection"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
)

// UserEngine is the projection surface the controllers write through.
// *projection.Engine satisfies it.
type UserEngine interface {
	Fetch(ctx context.Context, id int64) (*auth.User, error)
	Create(ctx context.Context, fields auth.UserFields, rawCredential string, opts projection.CreateOptions) (int64, error)
	Update(ctx context.Context, id int64, patch auth.UserPatch, opts projection.UpdateOptions) (int, error)
	Delete(ctx context.Context, id int64, opts projection.DeleteOptions) (int, error)
	Rebuild(ctx context.Context, opts projection.RebuildOptions) (*projection.RebuildReport, error)
}

// Pauser runs fn while live event consumption is stopped.
// *projection.Listener satisfies it.
type Pauser interface {
	RunPaused(ctx context.Context, fn func(ctx context.Context) error) error
}

// CredentialVerifier checks a username and password pair.
type CredentialVerifier interface {
	Verify(ctx context.Context, username, password string) (*auth.User, error)
}

type Config struct {
	Users       UserEngine
	Services    auth.Services
	Credentials CredentialVerifier
	Tokens      *auth.ServiceTokenCodec
	// Listener is paused around rebuilds. Without one the rebuild runs
	// directly, which is only safe when nothing consumes the log.
	Listener Pauser
	Cookie   auth.CookieConfig
}

func (c Config) validate() error {
	switch {
	case c.Users == nil:
		return goerrors.New("api: Users is required", goerrors.CategoryInternal)
	case c.Services == nil:
		return goerrors.New("api: Services is required", goerrors.CategoryInternal)
	case c.Credentials == nil:
		return goerrors.New("api: Credentials is required", goerrors.CategoryInternal)
	case c.Tokens == nil:
		return goerrors.New("api: Tokens is required", goerrors.CategoryInternal)
	}
	return nil
}

// Controller serves the JSON API.
type Controller struct {
	cfg      Config
	logger   auth.Logger
	metrics  *metrics.Metrics
	activity auth.ActivitySink
}

type Option func(*Controller)

func WithLogger(l auth.Logger) Option {
	return func(c *Controller) {
		c.logger = auth.NormalizeLogger(l)
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

func WithActivitySink(sink auth.ActivitySink) Option {
	return func(c *Controller) {
		c.activity = auth.NormalizeActivitySink(sink)
	}
}

func NewController(cfg Config, opts ...Option) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		cfg:      cfg,
		logger:   auth.DefaultLogger(),
		activity: auth.NormalizeActivitySink(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Register mounts every route on r.
func (h *Controller) Register(r fiber.Router) {
	requireToken := bearer.New(bearer.Config{
		Verifier:    h.cfg.Tokens,
		TokenLookup: "header:" + fiber.HeaderAuthorization + ",cookie:" + h.cfg.Cookie.CookieName(),
	})

	r.Post("/authenticate", h.authenticate)

	g := r.Group("/api")
	g.Post("/auth/logout", requireToken, h.logout)

	g.Post("/users", h.register)
	g.Get("/users/me", requireToken, h.me)
	g.Get("/users/:id", requireToken, h.getUser)
	g.Patch("/users/:id", requireToken, h.updateUser)
	g.Delete("/users/:id", requireToken, h.requireAdmin, h.deleteUser)

	g.Get("/services", requireToken, h.requireAdmin, h.listServices)
	g.Post("/services", requireToken, h.requireAdmin, h.createService)
	g.Post("/services/:identifier/permissions", requireToken, h.requireAdmin, h.updatePermissions)

	g.Post("/admin/projection/rebuild", requireToken, h.requireAdmin, h.rebuild)

	if h.metrics != nil {
		r.Get("/metrics", h.metrics.FiberHandler())
	}
}

const principalKey = "api.principal"

// principal loads the user behind the request's service token. A token for
// a deleted user is treated as invalid.
func (h *Controller) principal(c *fiber.Ctx) (*auth.User, error) {
	if u, ok := c.Locals(principalKey).(*auth.User); ok {
		return u, nil
	}

	token := bearer.Token(c)
	if token == nil {
		return nil, auth.NewError(auth.ErrUnauthorized, "missing bearer token")
	}

	user, err := h.cfg.Users.Fetch(c.UserContext(), token.PrincipalID)
	if err != nil {
		if auth.IsNotFound(err) {
			return nil, auth.NewError(auth.ErrUnauthorized, "token principal no longer exists")
		}
		return nil, err
	}
	c.Locals(principalKey, user)
	return user, nil
}

func (h *Controller) requireAdmin(c *fiber.Ctx) error {
	user, err := h.principal(c)
	if err != nil {
		return err
	}
	if !user.IsAdmin() {
		return auth.NewError(auth.ErrForbidden, "admin role required")
	}
	return c.Next()
}

func (h *Controller) record(ctx context.Context, typ auth.ActivityEventType, userID int64, serviceID string) {
	if err := h.activity.Record(ctx, auth.ActivityEvent{
		EventType: typ,
		UserID:    userID,
		ServiceID: serviceID,
	}); err != nil {
		h.logger.Warn("failed to record activity", "event", string(typ), "error", err)
	}
}

func bodyError(err error) error {
	return auth.WrapError(auth.ErrMalformedRequest, err, "request body could not be parsed")
}
