package logger

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "healthbridge-syncer"

// SpanContext is a span together with the context that carries it.
type SpanContext struct {
	ctx  context.Context
	span trace.Span
}

// StartSpan starts a child span of the trace in ctx. Sync identifiers
// already attached with WithLogFields become span attributes, so a job
// span can be found by integration or job ID.
//
//	sc := logger.StartSpan(ctx, "worker.run_job", trace.WithSpanKind(trace.SpanKindConsumer))
//	defer sc.End()
//	ctx = sc.Context()
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) *SpanContext {
	if attrs := spanAttributes(GetLogFields(ctx)); len(attrs) > 0 {
		opts = append(opts, trace.WithAttributes(attrs...))
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, opts...)
	return &SpanContext{ctx: ctx, span: span}
}

func (sc *SpanContext) Context() context.Context {
	return sc.ctx
}

// End is idempotent.
func (sc *SpanContext) End() {
	if sc.span != nil {
		sc.span.End()
	}
}

// RecordError records err and marks the span failed. Nil is ignored.
func (sc *SpanContext) RecordError(err error) {
	if sc.span == nil || err == nil {
		return
	}
	sc.span.RecordError(err)
	sc.span.SetStatus(codes.Error, err.Error())
}

func spanAttributes(f LogFields) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if f.UserID != nil {
		attrs = append(attrs, attribute.String("syncer.user_id", *f.UserID))
	}
	if f.IntegrationID != nil {
		attrs = append(attrs, attribute.Int64("syncer.integration_id", *f.IntegrationID))
	}
	if f.JobID != nil {
		attrs = append(attrs, attribute.Int64("syncer.job_id", *f.JobID))
	}
	if f.Provider != nil {
		attrs = append(attrs, attribute.String("syncer.provider", *f.Provider))
	}
	if f.DataType != nil {
		attrs = append(attrs, attribute.String("syncer.data_type", *f.DataType))
	}
	return attrs
}
