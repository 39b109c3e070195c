package activitymap

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-print"

	auth "github.com/goliatone/go-studio-auth"
)

const (
	// MetadataKeyMethod stores the sign-in method (password, link, oauth).
	MetadataKeyMethod = "method"
	// MetadataKeyEmail stores the email the event was about.
	MetadataKeyEmail = "email"
)

const (
	defaultObjectType = "user"
	defaultActorID    = "system"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel          string
	objectType       string
	actorFallback    string
	objectIDResolver func(auth.ActivityEvent) string
}

// Normalize converts an auth.ActivityEvent into a generic normalized shape.
// The channel is the event type's namespace ("auth", "profile") unless one
// is set with WithDefaultChannel.
func Normalize(event auth.ActivityEvent, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := firstNonEmpty(
		strings.TrimSpace(event.UserID),
		strings.TrimSpace(options.actorFallback),
	)

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	channel := strings.TrimSpace(options.channel)
	if channel == "" {
		channel = namespace(event.EventType)
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: strings.TrimSpace(options.objectType),
		ObjectID:   resolveObjectID(event, options.objectIDResolver),
		Channel:    channel,
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
}

// WithDefaultChannel sets the channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithDefaultObjectType sets the default object type for normalized records.
func WithDefaultObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithObjectIDResolver overrides object-id extraction from ActivityEvent.
func WithObjectIDResolver(resolver func(auth.ActivityEvent) string) Option {
	return func(opts *normalizeOptions) {
		opts.objectIDResolver = resolver
	}
}

// WithActorFallback sets the actor id used when the event has no user.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

// Sink normalizes every event and hands it to fn.
func Sink(fn func(context.Context, Normalized) error, opts ...Option) auth.ActivitySink {
	return auth.ActivitySinkFunc(func(ctx context.Context, event auth.ActivityEvent) error {
		if fn == nil {
			return nil
		}
		return fn(ctx, Normalize(event, opts...))
	})
}

// LoggerSink writes normalized events to logger.
func LoggerSink(logger auth.Logger, opts ...Option) auth.ActivitySink {
	if logger == nil {
		logger = auth.DefaultLogger("activity")
	}
	return Sink(func(ctx context.Context, n Normalized) error {
		logger.WithContext(ctx).Info("activity",
			"verb", n.Verb,
			"actor", n.ActorID,
			"channel", n.Channel,
			"metadata", print.MaybePrettyJSON(n.Metadata),
		)
		return nil
	}, opts...)
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
	}
}

func namespace(t auth.ActivityEventType) string {
	head, _, _ := strings.Cut(string(t), ".")
	return head
}

func resolveObjectID(event auth.ActivityEvent, resolver func(auth.ActivityEvent) string) string {
	if resolver != nil {
		return strings.TrimSpace(resolver(event))
	}
	return firstNonEmpty(strings.TrimSpace(event.UserID), auth.NormalizeEmail(event.Email))
}

func normalizeMetadata(event auth.ActivityEvent) map[string]any {
	metadata := cloneMap(event.Metadata)

	if method := strings.TrimSpace(event.Method); method != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[MetadataKeyMethod]; !exists {
			metadata[MetadataKeyMethod] = method
		}
	}

	if email := auth.NormalizeEmail(event.Email); email != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata[MetadataKeyEmail] = email
	}

	return metadata
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
