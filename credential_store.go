package auth

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
)

// MaxLoginAttempts is the maximun number of failed attempts a username gets
// in a cool down period
var MaxLoginAttempts = 5

// CoolDownPeriod is the window failed attempts are counted in
var CoolDownPeriod = 24 * time.Hour

// CredentialStore verifies username and password pairs against the projected
// users. Legacy hashes are transparently upgraded on successful login.
type CredentialStore struct {
	users    UserFinder
	upgrader CredentialUpgrader
	attempts AttemptCounter
	activity ActivitySink
	logger   Logger
	now      func() time.Time
}

// CredentialStoreOption configures a CredentialStore.
type CredentialStoreOption func(*CredentialStore)

func WithCredentialUpgrader(u CredentialUpgrader) CredentialStoreOption {
	return func(c *CredentialStore) {
		c.upgrader = u
	}
}

// WithAttemptCounter enables login throttling.
func WithAttemptCounter(a AttemptCounter) CredentialStoreOption {
	return func(c *CredentialStore) {
		c.attempts = a
	}
}

func WithCredentialActivitySink(sink ActivitySink) CredentialStoreOption {
	return func(c *CredentialStore) {
		c.activity = normalizeActivitySink(sink)
	}
}

func WithCredentialLogger(l Logger) CredentialStoreOption {
	return func(c *CredentialStore) {
		c.logger = NormalizeLogger(l)
	}
}

// NewCredentialStore will create a new CredentialStore
func NewCredentialStore(users UserFinder, opts ...CredentialStoreOption) *CredentialStore {
	c := &CredentialStore{
		users:    users,
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Verify returns the user owning username when password matches. Unknown
// users and wrong passwords produce the same error.
func (c *CredentialStore) Verify(ctx context.Context, username, password string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrMismatchedHashAndPassword
	}

	key := attemptKey(username)
	if c.attempts != nil {
		count, err := c.attempts.Incr(ctx, key, CoolDownPeriod)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to track login attempt")
		}
		//if we have too many attempts in the given window, cool off!
		if count > int64(MaxLoginAttempts) {
			c.record(ctx, ActivityEventLoginFailure, 0, map[string]any{"username": username, "reason": "throttled"})
			return nil, ErrTooManyLoginAttempts
		}
	}

	user, err := c.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve user during verification")
	}
	if user == nil || user.Deleted {
		c.record(ctx, ActivityEventLoginFailure, 0, map[string]any{"username": username, "reason": "unknown"})
		return nil, ErrMismatchedHashAndPassword
	}

	legacy := false
	if user.PasswordHash != "" {
		err = ComparePasswordAndHash(password, user.PasswordHash)
	} else {
		legacy = true
		err = CompareLegacyPassword(password, user.Salt, user.LegacyHash)
	}
	if err != nil {
		c.record(ctx, ActivityEventLoginFailure, user.ID, map[string]any{"username": username, "reason": "mismatch"})
		if IsInvalidCredentials(err) {
			return nil, ErrMismatchedHashAndPassword
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to compare credentials")
	}

	if c.attempts != nil {
		if err := c.attempts.Delete(ctx, key); err != nil {
			c.logger.Warn("failed to reset login attempts", "username", username, "error", err)
		}
	}

	if legacy && c.upgrader != nil {
		c.upgrade(ctx, user, password)
	}

	c.record(ctx, ActivityEventLoginSuccess, user.ID, map[string]any{"username": username, "legacy": legacy})
	return user, nil
}

func (c *CredentialStore) upgrade(ctx context.Context, user *User, password string) {
	modern, err := HashPassword(password)
	if err != nil {
		c.logger.Error("failed to hash password for upgrade", "user_id", user.ID, "error", err)
		return
	}
	upgraded := PasswordHashes{
		Salt:         user.Salt,
		LegacyHash:   user.LegacyHash,
		PasswordHash: modern,
	}
	if err := c.upgrader.UpgradeCredential(ctx, user, upgraded); err != nil {
		c.logger.Warn("credential upgrade failed", "user_id", user.ID, "error", err)
		return
	}
	c.logger.Info("upgraded legacy credential", "user_id", user.ID)
}

func (c *CredentialStore) record(ctx context.Context, typ ActivityEventType, userID int64, meta map[string]any) {
	err := c.activity.Record(ctx, ActivityEvent{
		EventType:  typ,
		UserID:     userID,
		Metadata:   meta,
		OccurredAt: c.now(),
	})
	if err != nil {
		c.logger.Warn("activity sink failed", "event", typ, "error", err)
	}
}

func attemptKey(username string) string {
	return "login_attempts:" + strings.ToLower(username)
}
