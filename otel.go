package messaging

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/rbaliyan/messaging"
)

// Instrumented operations. Each gets a duration histogram plus count and
// error counters named messaging.<op>.{duration,count,errors}.
const (
	opSend   = "send"
	opRead   = "read"
	opDelete = "delete"
	opList   = "list"
	opGet    = "get"
)

var instrumentedOps = []string{opSend, opRead, opDelete, opList, opGet}

type opInstruments struct {
	latency metric.Float64Histogram
	count   metric.Int64Counter
	errors  metric.Int64Counter
}

// otelInstrumentation holds OpenTelemetry instrumentation for the service.
type otelInstrumentation struct {
	tracingEnabled bool
	tracer         trace.Tracer

	metricsEnabled bool
	ops            map[string]*opInstruments
}

// newOtelInstrumentation creates new OTel instrumentation from options.
func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
	}

	if opts.tracingEnabled {
		tp := opts.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}

	if opts.metricsEnabled {
		mp := opts.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := o.initMetrics(mp); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// initMetrics initializes all metric instruments.
func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)
	o.ops = make(map[string]*opInstruments, len(instrumentedOps))

	for _, op := range instrumentedOps {
		inst := &opInstruments{}
		var err error

		inst.latency, err = meter.Float64Histogram(
			"messaging."+op+".duration",
			metric.WithDescription("Duration of "+op+" operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			return err
		}

		inst.count, err = meter.Int64Counter(
			"messaging."+op+".count",
			metric.WithDescription("Number of "+op+" operations"),
		)
		if err != nil {
			return err
		}

		inst.errors, err = meter.Int64Counter(
			"messaging."+op+".errors",
			metric.WithDescription("Number of "+op+" errors"),
		)
		if err != nil {
			return err
		}

		o.ops[op] = inst
	}
	return nil
}

// startSpan starts a new span if tracing is enabled.
// The returned function ends the span and records err on it.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.tracingEnabled || o.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := o.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// record records duration, count and errors for op.
func (o *otelInstrumentation) record(ctx context.Context, op string, duration time.Duration, err error, attrs ...attribute.KeyValue) {
	if !o.metricsEnabled {
		return
	}
	inst, ok := o.ops[op]
	if !ok {
		return
	}

	set := metric.WithAttributes(attrs...)
	inst.latency.Record(ctx, duration.Seconds(), set)
	inst.count.Add(ctx, 1, set)
	if err != nil {
		inst.errors.Add(ctx, 1, set)
	}
}

// observe wraps an operation with a span and metrics. Call the returned
// function with the operation's final error.
func (o *otelInstrumentation) observe(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, endSpan := o.startSpan(ctx, "messaging."+op, attrs...)
	start := time.Now()
	return ctx, func(err error) {
		endSpan(err)
		o.record(ctx, op, time.Since(start), err)
	}
}
