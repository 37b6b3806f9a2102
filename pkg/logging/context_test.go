package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetLogFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetLogFields(ctx))

	ctx = WithTraceID(ctx, "t-1")
	ctx = WithBatchID(ctx, "b-1")
	ctx = WithEnrollmentID(ctx, "e-1")

	assert.Equal(t, []interface{}{"trace_id", "t-1", "batch_id", "b-1", "hbx_enrollment_id", "e-1"}, GetLogFields(ctx))
	assert.Equal(t, "", GetServiceName(ctx))
	assert.Equal(t, "t-1", GetTraceID(ctx))
}
