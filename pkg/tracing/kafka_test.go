package tracing

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func withPropagator(t *testing.T) trace.Tracer {
	t.Helper()
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })
	return sdktrace.NewTracerProvider().Tracer("test")
}

func TestInjectExtract_KafkaHeaders(t *testing.T) {
	tracer := withPropagator(t)
	ctx, span := tracer.Start(context.Background(), "produce")
	defer span.End()

	headers := InjectTraceContext(ctx, []kafka.Header{{Key: "existing", Value: []byte("1")}})
	require.Len(t, headers, 2)

	extracted := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), headers))
	assert.Equal(t, span.SpanContext().TraceID(), extracted.TraceID())
}

func TestInjectExtract_Map(t *testing.T) {
	tracer := withPropagator(t)
	ctx, span := tracer.Start(context.Background(), "intake")
	defer span.End()

	headers := map[string]string{}
	InjectIntoMap(ctx, headers)
	assert.NotEmpty(t, headers["traceparent"])

	extracted := trace.SpanContextFromContext(ExtractFromMap(context.Background(), headers))
	assert.Equal(t, span.SpanContext().TraceID(), extracted.TraceID())
}

func TestLinkStored(t *testing.T) {
	withPropagator(t)
	recorder := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("test")

	intakeCtx, intake := tracer.Start(context.Background(), "intake")
	stored := map[string]string{}
	InjectIntoMap(intakeCtx, stored)
	intake.End()

	runCtx, run := tracer.Start(context.Background(), "batch.process")
	LinkStored(runCtx, stored)
	LinkStored(runCtx, map[string]string{"hbx_enrollment_id": "E1"})
	run.End()

	ended := recorder.Ended()
	require.Len(t, ended, 2)
	links := ended[1].Links()
	require.Len(t, links, 1)
	assert.Equal(t, intake.SpanContext().SpanID(), links[0].SpanContext.SpanID())
}
