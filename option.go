package messaging

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/event/v3/transport"
	"github.com/rbaliyan/messaging/store"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Default configuration values.
const (
	DefaultShutdownTimeout = 30 * time.Second // default graceful shutdown timeout
	MinShutdownTimeout     = 1 * time.Second  // minimum shutdown timeout

	// Default message limits
	DefaultMaxSubjectLength   = 255
	DefaultMaxBodySize        = 64 * 1024 // 64 KB
	DefaultMaxAttachmentCount = 10
	DefaultMaxParticipants    = 50
	DefaultMaxUserIDLength    = 255
	DefaultMaxIdempotencyKey  = 255

	// Query limits
	DefaultMaxQueryLimit = 100 // max threads or messages per query
	DefaultQueryLimit    = 20  // default threads or messages per query

	// Concurrency limits
	DefaultMaxConcurrentSends = 10 // max concurrent send operations per service
	DefaultReadParallelism    = 4  // threads marked concurrently by MarkAllRead

	// Stats cache
	DefaultStatsRefreshInterval = 30 * time.Second // TTL for cached stats
)

// options holds service configuration.
type options struct {
	store    store.Store
	logger   *slog.Logger
	resolver ParticipantResolver

	plugins []Plugin

	// Message limits
	maxSubjectLength   int
	maxBodySize        int
	maxAttachmentCount int
	maxParticipants    int

	// Query limits
	maxQueryLimit     int
	defaultQueryLimit int

	// Concurrency limits
	maxConcurrentSends int
	readParallelism    int

	// Shutdown
	shutdownTimeout time.Duration

	// OpenTelemetry
	tracingEnabled bool
	metricsEnabled bool
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Stats cache
	statsRefreshInterval time.Duration

	// Event handling
	eventErrorsFatal      bool
	eventTransport        transport.Transport
	redisClient           redis.UniversalClient
	onEventPublishFailure EventPublishFailureFunc
}

// EventPublishFailureFunc receives events that could not be published,
// such as "ThreadRead", along with the transport error.
type EventPublishFailureFunc func(eventName string, err error)

// safeEventPublishFailure runs the failure callback; a panicking callback is logged, not propagated.
func (o *options) safeEventPublishFailure(eventName string, err error) {
	if o.onEventPublishFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in event publish failure handler",
				"event", eventName,
				"original_error", err,
				"panic", r,
			)
		}
	}()
	o.onEventPublishFailure(eventName, err)
}

func newOptions(opts ...Option) *options {
	o := &options{
		logger:               slog.Default(),
		maxSubjectLength:     DefaultMaxSubjectLength,
		maxBodySize:          DefaultMaxBodySize,
		maxAttachmentCount:   DefaultMaxAttachmentCount,
		maxParticipants:      DefaultMaxParticipants,
		maxQueryLimit:        DefaultMaxQueryLimit,
		defaultQueryLimit:    DefaultQueryLimit,
		maxConcurrentSends:   DefaultMaxConcurrentSends,
		readParallelism:      DefaultReadParallelism,
		shutdownTimeout:      DefaultShutdownTimeout,
		statsRefreshInterval: DefaultStatsRefreshInterval,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.defaultQueryLimit > o.maxQueryLimit {
		o.defaultQueryLimit = o.maxQueryLimit
	}

	if o.onEventPublishFailure == nil {
		o.onEventPublishFailure = func(eventName string, err error) {
			o.logger.Error("failed to publish event", "event", eventName, "error", err)
		}
	}

	return o
}

// Option configures a messaging service.
type Option func(*options)

// --- Core Options ---

// WithStore sets the storage backend (required).
func WithStore(s store.Store) Option {
	return func(o *options) {
		if s != nil {
			o.store = s
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithParticipantResolver sets the resolver used to fill in display names
// a send request leaves empty.
func WithParticipantResolver(r ParticipantResolver) Option {
	return func(o *options) {
		if r != nil {
			o.resolver = r
		}
	}
}

// --- Plugin/Extension Options ---

// WithPlugin registers a plugin with the service.
// Multiple plugins can be registered by calling this option multiple times.
func WithPlugin(p Plugin) Option {
	return func(o *options) {
		if p != nil {
			o.plugins = append(o.plugins, p)
		}
	}
}

// WithPlugins registers multiple plugins at once.
func WithPlugins(plugins ...Plugin) Option {
	return func(o *options) {
		for _, p := range plugins {
			if p != nil {
				o.plugins = append(o.plugins, p)
			}
		}
	}
}

// --- OTel Options ---

// WithTracing enables or disables OpenTelemetry tracing.
// Default is disabled.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables or disables OpenTelemetry metrics.
// Default is disabled.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithOTel enables both OpenTelemetry tracing and metrics.
func WithOTel(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
		o.metricsEnabled = enabled
	}
}

// WithServiceName sets the service name used for telemetry and event bus naming.
// Default is "messaging".
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracerProvider sets a custom OpenTelemetry tracer provider.
// Default uses the global tracer provider from otel.GetTracerProvider().
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets a custom OpenTelemetry meter provider.
// Default uses the global meter provider from otel.GetMeterProvider().
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// --- Message Limit Options ---

// WithMaxBodySize sets the maximum body size in bytes.
// Default is 64 KB.
func WithMaxBodySize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBodySize = n
		}
	}
}

// WithMaxSubjectLength sets the maximum subject length in characters.
// Default is 255.
func WithMaxSubjectLength(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxSubjectLength = n
		}
	}
}

// WithMaxAttachmentCount sets the maximum number of attachment references per message.
// Default is 10.
func WithMaxAttachmentCount(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttachmentCount = n
		}
	}
}

// WithMaxParticipants caps the participant count of a newly created thread.
// Default is 50.
func WithMaxParticipants(n int) Option {
	return func(o *options) {
		if n >= 2 {
			o.maxParticipants = n
		}
	}
}

// --- Query Limit Options ---

// WithMaxQueryLimit sets the maximum number of items per query.
// Any query requesting more than this limit will be capped.
// Default is 100.
func WithMaxQueryLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxQueryLimit = n
		}
	}
}

// WithDefaultQueryLimit sets the number of items per query when no limit
// is specified. It is capped to MaxQueryLimit.
// Default is 20.
func WithDefaultQueryLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.defaultQueryLimit = n
		}
	}
}

// --- Concurrency Options ---

// WithMaxConcurrentSends sets the maximum number of concurrent send operations.
// Default is 10.
func WithMaxConcurrentSends(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrentSends = n
		}
	}
}

// WithReadParallelism sets how many threads MarkAllRead marks at once.
// Default is 4.
func WithReadParallelism(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readParallelism = n
		}
	}
}

// WithShutdownTimeout sets the maximum time to wait for in-flight sends
// during graceful shutdown.
// Default is 30 seconds. Minimum is 1 second.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= MinShutdownTimeout {
			o.shutdownTimeout = d
		}
	}
}

// --- Stats Options ---

// WithStatsRefreshInterval sets the TTL for cached user stats.
// Mutations performed by the service drop the affected entries early.
// Default is 30 seconds.
func WithStatsRefreshInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.statsRefreshInterval = d
		}
	}
}

// --- Event Options ---

// WithEventErrorsFatal makes a failed publish surface as *EventPublishError
// from the operation that committed. Off by default: the failure is only
// handed to the publish failure handler.
func WithEventErrorsFatal(fatal bool) Option {
	return func(o *options) {
		o.eventErrorsFatal = fatal
	}
}

// WithEventTransport binds the service's events to t. It takes precedence
// over WithRedisClient. Without either, events go to a noop transport.
func WithEventTransport(t transport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.eventTransport = t
		}
	}
}

// WithRedisClient publishes events to Redis Streams through client.
// Any redis.UniversalClient works, including cluster clients.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		if client != nil {
			o.redisClient = client
		}
	}
}

// WithEventPublishFailureHandler replaces the default handler, which logs
// the failure at Error level.
func WithEventPublishFailureHandler(fn EventPublishFailureFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.onEventPublishFailure = fn
		}
	}
}

func (o *options) getLimits() MessageLimits {
	return MessageLimits{
		MaxSubjectLength:   o.maxSubjectLength,
		MaxBodySize:        o.maxBodySize,
		MaxAttachmentCount: o.maxAttachmentCount,
		MaxParticipants:    o.maxParticipants,
	}
}

// normalizeList applies the default and maximum page size.
func (o *options) normalizeList(opts store.ListOptions) store.ListOptions {
	if opts.Limit <= 0 {
		opts.Limit = o.defaultQueryLimit
	}
	if opts.Limit > o.maxQueryLimit {
		opts.Limit = o.maxQueryLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return opts
}
