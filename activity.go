package auth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventLoginSuccess      ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure      ActivityEventType = "auth.login.failure"
	ActivityEventConsentAccepted   ActivityEventType = "oauth.consent.accepted"
	ActivityEventConsentDeclined   ActivityEventType = "oauth.consent.declined"
	ActivityEventAuthorizeGranted  ActivityEventType = "oauth.authorize.granted"
	ActivityEventTokenIssued       ActivityEventType = "oauth.token.issued"
	ActivityEventServiceTokenIssue ActivityEventType = "auth.service_token.issued"
	ActivityEventServiceLogout     ActivityEventType = "auth.service_token.removed"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     int64
	ServiceID  string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// NormalizeActivitySink returns a no-op sink when s is nil.
func NormalizeActivitySink(s ActivitySink) ActivitySink {
	return normalizeActivitySink(s)
}
