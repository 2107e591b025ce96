package logger_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"healthbridge.app/syncer/common/logger"
)

var _ = Describe("StartSpan", func() {
	var recorder *tracetest.SpanRecorder

	BeforeEach(func() {
		recorder = tracetest.NewSpanRecorder()
		previous := otel.GetTracerProvider()
		tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
		otel.SetTracerProvider(tp)
		DeferCleanup(func() {
			otel.SetTracerProvider(previous)
			_ = tp.Shutdown(context.Background())
		})
	})

	It("copies sync identifiers from the context onto the span", func() {
		ctx := logger.WithLogFields(context.Background(), logger.LogFields{
			IntegrationID: logger.Ptr(int64(7)),
			JobID:         logger.Ptr(int64(42)),
			Provider:      logger.Ptr("fitbit"),
		})

		sc := logger.StartSpan(ctx, "worker.run_job")
		sc.End()

		spans := recorder.Ended()
		Expect(spans).To(HaveLen(1))
		Expect(spans[0].Name()).To(Equal("worker.run_job"))
		Expect(spans[0].Attributes()).To(ConsistOf(
			attribute.Int64("syncer.integration_id", 7),
			attribute.Int64("syncer.job_id", 42),
			attribute.String("syncer.provider", "fitbit"),
		))
	})

	It("marks the span failed when an error is recorded", func() {
		sc := logger.StartSpan(context.Background(), "sync.run")
		sc.RecordError(nil)
		sc.RecordError(errors.New("upstream 503"))
		sc.End()

		span := recorder.Ended()[0]
		Expect(span.Status().Code).To(Equal(codes.Error))
		Expect(span.Status().Description).To(Equal("upstream 503"))
		Expect(span.Events()).To(HaveLen(1))
	})

	It("parents spans started from its context", func() {
		parent := logger.StartSpan(context.Background(), "parent")
		child := logger.StartSpan(parent.Context(), "child")
		child.End()
		parent.End()

		spans := recorder.Ended()
		Expect(spans).To(HaveLen(2))
		Expect(spans[0].Parent().SpanID()).To(Equal(spans[1].SpanContext().SpanID()))
	})
})
