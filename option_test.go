package messaging

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func TestNewOptions(t *testing.T) {
	o := newOptions()

	if o.logger == nil {
		t.Error("expected default logger")
	}
	if o.maxSubjectLength != DefaultMaxSubjectLength {
		t.Errorf("maxSubjectLength = %d, want %d", o.maxSubjectLength, DefaultMaxSubjectLength)
	}
	if o.maxBodySize != DefaultMaxBodySize {
		t.Errorf("maxBodySize = %d, want %d", o.maxBodySize, DefaultMaxBodySize)
	}
	if o.maxQueryLimit != DefaultMaxQueryLimit || o.defaultQueryLimit != DefaultQueryLimit {
		t.Errorf("query limits = %d/%d", o.maxQueryLimit, o.defaultQueryLimit)
	}
	if o.maxConcurrentSends != DefaultMaxConcurrentSends {
		t.Errorf("maxConcurrentSends = %d, want %d", o.maxConcurrentSends, DefaultMaxConcurrentSends)
	}
	if o.readParallelism != DefaultReadParallelism {
		t.Errorf("readParallelism = %d, want %d", o.readParallelism, DefaultReadParallelism)
	}
	if o.shutdownTimeout != DefaultShutdownTimeout {
		t.Errorf("shutdownTimeout = %v, want %v", o.shutdownTimeout, DefaultShutdownTimeout)
	}
	if o.statsRefreshInterval != DefaultStatsRefreshInterval {
		t.Errorf("statsRefreshInterval = %v, want %v", o.statsRefreshInterval, DefaultStatsRefreshInterval)
	}
	if o.onEventPublishFailure == nil {
		t.Error("expected default event failure handler")
	}
}

func TestOptionGuards(t *testing.T) {
	tests := []struct {
		name  string
		opt   Option
		check func(*options) bool
	}{
		{"nil logger ignored", WithLogger(nil), func(o *options) bool { return o.logger != nil }},
		{"nil store ignored", WithStore(nil), func(o *options) bool { return o.store == nil }},
		{"zero body size ignored", WithMaxBodySize(0), func(o *options) bool { return o.maxBodySize == DefaultMaxBodySize }},
		{"one participant ignored", WithMaxParticipants(1), func(o *options) bool { return o.maxParticipants == DefaultMaxParticipants }},
		{"negative sends ignored", WithMaxConcurrentSends(-1), func(o *options) bool { return o.maxConcurrentSends == DefaultMaxConcurrentSends }},
		{"short shutdown ignored", WithShutdownTimeout(time.Millisecond), func(o *options) bool { return o.shutdownTimeout == DefaultShutdownTimeout }},
		{"zero ttl ignored", WithStatsRefreshInterval(0), func(o *options) bool { return o.statsRefreshInterval == DefaultStatsRefreshInterval }},
		{"empty service name ignored", WithServiceName(""), func(o *options) bool { return o.serviceName == "" }},
		{"nil plugin ignored", WithPlugin(nil), func(o *options) bool { return len(o.plugins) == 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(newOptions(tt.opt)) {
				t.Error("option was not guarded")
			}
		})
	}
}

func TestOptionValues(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	o := newOptions(
		WithLogger(logger),
		WithMaxBodySize(1024),
		WithMaxSubjectLength(50),
		WithMaxAttachmentCount(3),
		WithMaxParticipants(5),
		WithMaxQueryLimit(10),
		WithDefaultQueryLimit(50),
		WithMaxConcurrentSends(4),
		WithReadParallelism(8),
		WithShutdownTimeout(5*time.Second),
		WithStatsRefreshInterval(time.Minute),
		WithServiceName("inbox"),
		WithEventErrorsFatal(true),
		WithPlugins(&lifecyclePlugin{}, nil, &lifecyclePlugin{}),
	)

	if o.logger != logger {
		t.Error("logger not set")
	}
	limits := o.getLimits()
	if limits != (MessageLimits{MaxSubjectLength: 50, MaxBodySize: 1024, MaxAttachmentCount: 3, MaxParticipants: 5}) {
		t.Errorf("limits = %+v", limits)
	}
	if o.defaultQueryLimit != 10 {
		t.Errorf("default query limit = %d, want capped to 10", o.defaultQueryLimit)
	}
	if o.maxConcurrentSends != 4 || o.readParallelism != 8 {
		t.Errorf("concurrency = %d/%d", o.maxConcurrentSends, o.readParallelism)
	}
	if o.shutdownTimeout != 5*time.Second || o.statsRefreshInterval != time.Minute {
		t.Errorf("durations = %v/%v", o.shutdownTimeout, o.statsRefreshInterval)
	}
	if o.serviceName != "inbox" || !o.eventErrorsFatal {
		t.Errorf("serviceName=%q fatal=%v", o.serviceName, o.eventErrorsFatal)
	}
	if len(o.plugins) != 2 {
		t.Errorf("plugins = %d, want 2", len(o.plugins))
	}
}

func TestNormalizeList(t *testing.T) {
	o := newOptions(WithMaxQueryLimit(50), WithDefaultQueryLimit(10))

	tests := []struct {
		in, want ListOptions
	}{
		{ListOptions{}, ListOptions{Limit: 10}},
		{ListOptions{Limit: 500}, ListOptions{Limit: 50}},
		{ListOptions{Limit: 5, Offset: -3}, ListOptions{Limit: 5}},
		{ListOptions{Limit: 5, Offset: 7, UnreadOnly: true}, ListOptions{Limit: 5, Offset: 7, UnreadOnly: true}},
	}
	for _, tt := range tests {
		if got := o.normalizeList(tt.in); got != tt.want {
			t.Errorf("normalizeList(%+v) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestEventFailureHandlerRecovers(t *testing.T) {
	o := newOptions(WithEventPublishFailureHandler(func(string, error) {
		panic("boom")
	}))
	// Must not panic.
	o.safeEventPublishFailure("MessageSent", context.Canceled)
}

func TestWithOTel(t *testing.T) {
	o := newOptions(WithOTel(true))
	if !o.tracingEnabled || !o.metricsEnabled {
		t.Error("WithOTel(true) should enable tracing and metrics")
	}

	ctx := context.Background()
	svc, _ := setupTestService(t,
		WithOTel(true),
		WithTracerProvider(tracenoop.NewTracerProvider()),
		WithMeterProvider(metricnoop.NewMeterProvider()),
	)
	msg := mustSend(t, svc.Client("alice"), SendRequest{ReceiverID: "bob", Body: "traced"})
	if _, err := svc.Client("bob").Threads(ctx, ListOptions{}); err != nil {
		t.Fatalf("threads: %v", err)
	}
	if _, err := svc.Client("bob").MarkThreadRead(ctx, msg.ThreadID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
}
