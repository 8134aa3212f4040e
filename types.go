package auth

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Logger is the logging contract shared by every package in the service.
// Arguments after the message are key/value pairs.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// LoggerProvider hands out named loggers.
type LoggerProvider interface {
	GetLogger(name string) Logger
}

// UserFinder looks up projected users by their unique login name.
type UserFinder interface {
	FindByUsername(ctx context.Context, username string) (*User, error)
}

// CredentialUpgrader persists a freshly computed modern hash for a user that
// authenticated with a legacy one.
type CredentialUpgrader interface {
	UpgradeCredential(ctx context.Context, user *User, hashes PasswordHashes) error
}

// AttemptCounter tracks failed login attempts with an expiry.
type AttemptCounter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Delete(ctx context.Context, key string) error
}

// ServiceStore resolves registered OAuth clients.
type ServiceStore interface {
	GetByIdentifier(ctx context.Context, identifier string) (*Service, error)
}

// ConsentStore records per user, per service privacy policy decisions.
type ConsentStore interface {
	Get(ctx context.Context, userID int64, serviceID string) (ConsentStatus, error)
	Record(ctx context.Context, userID int64, serviceID string, status ConsentStatus) error
}

// PolicyProvider returns the privacy policy text shown for a service.
type PolicyProvider interface {
	PolicyFor(ctx context.Context, service *Service) (string, error)
}

type defLogger struct{}

func DefaultLogger() Logger {
	return defLogger{}
}

func (d defLogger) Error(format string, args ...any) {
	fmt.Print("[ERR] SSO " + render(format, args...))
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Print("[WRN] SSO " + render(format, args...))
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Print("[INF] SSO " + render(format, args...))
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Print("[DBG] SSO " + render(format, args...))
}

func render(msg string, args ...any) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(msg, "\n"))
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, " %v", args[i])
		}
	}
	b.WriteByte('\n')
	return b.String()
}

// NormalizeLogger returns the default logger when l is nil.
func NormalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
