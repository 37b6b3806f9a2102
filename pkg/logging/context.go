package logging

import (
	"context"
)

type contextKey string

const (
	TraceIDKey     contextKey = "trace_id"
	MessageIDKey   contextKey = "message_id"
	ServiceNameKey contextKey = "service_name"
	BatchIDKey     contextKey = "batch_id"
	EnrollmentKey  contextKey = "hbx_enrollment_id"
)

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func WithMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, MessageIDKey, messageID)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ServiceNameKey, serviceName)
}

// WithBatchID tags every log line emitted while a batch run is in progress.
func WithBatchID(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, BatchIDKey, batchID)
}

// WithEnrollmentID tags log lines about one resolved action.
func WithEnrollmentID(ctx context.Context, enrollmentID string) context.Context {
	return context.WithValue(ctx, EnrollmentKey, enrollmentID)
}

func stringValue(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

func GetServiceName(ctx context.Context) string {
	return stringValue(ctx, ServiceNameKey)
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 10)

	for _, key := range []contextKey{TraceIDKey, MessageIDKey, ServiceNameKey, BatchIDKey, EnrollmentKey} {
		if v := stringValue(ctx, key); v != "" {
			fields = append(fields, string(key), v)
		}
	}

	return fields
}
