package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-print"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventLoginSuccess       ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure       ActivityEventType = "auth.login.failure"
	ActivityEventLinkSent           ActivityEventType = "auth.link.sent"
	ActivityEventLogout             ActivityEventType = "auth.logout"
	ActivityEventForcedLogout       ActivityEventType = "auth.logout.forced"
	ActivityEventAccountInactive    ActivityEventType = "auth.account.inactive"
	ActivityEventProfileMigrated    ActivityEventType = "profile.migrated"
	ActivityEventProfileSelfHealed  ActivityEventType = "profile.self_healed"
	ActivityEventProfileSynthesized ActivityEventType = "profile.synthesized"
	ActivityEventProfileFallback    ActivityEventType = "profile.fallback"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	Email      string
	Method     string
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

// recordActivity is best effort: sink failures are logged and dropped.
func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, event ActivityEvent) {
	if sink == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := sink.Record(ctx, event); err != nil && logger != nil {
		logger.Warn("activity sink failed",
			"event", event.EventType,
			"error", err,
			"metadata", print.MaybePrettyJSON(event.Metadata),
		)
	}
}
