package cel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvaluator(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	assert.NotNil(t, eval)
}

func TestValidateExpression(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name      string
		expr      string
		wantError bool
	}{
		{
			name: "single event predicate",
			expr: `events[0].is_termination && !events[0].is_cancel`,
		},
		{
			name: "pair comparison",
			expr: `size >= 2 && events[0].enrollment_id != events[1].enrollment_id`,
		},
		{
			name:      "invalid syntax",
			expr:      `events[0].is_termination &&`,
			wantError: true,
		},
		{
			name:      "undefined variable",
			expr:      `payload.status == "active"`,
			wantError: true,
		},
		{
			name: "bare fact is checked at evaluation",
			expr: `events[0].is_cancel`,
		},
		{
			name:      "non boolean result",
			expr:      `size + 1`,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eval.ValidateExpression(tt.expr)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEvaluateWindow(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	term := map[string]interface{}{
		"is_termination": true,
		"enrollment_id":  "A",
		"day_after_end":  "2021-04-01",
		"active_year":    int64(2021),
	}
	start := map[string]interface{}{
		"is_termination": false,
		"enrollment_id":  "B",
		"start":          "2021-04-01",
		"active_year":    int64(2021),
	}

	tests := []struct {
		name   string
		expr   string
		events []map[string]interface{}
		want   bool
	}{
		{
			name:   "plan change shape",
			expr:   `size >= 2 && events[0].is_termination && !events[1].is_termination && events[1].start == events[0].day_after_end`,
			events: []map[string]interface{}{term, start},
			want:   true,
		},
		{
			name:   "reversed order does not match",
			expr:   `size >= 2 && events[0].is_termination && !events[1].is_termination`,
			events: []map[string]interface{}{start, term},
			want:   false,
		},
		{
			name:   "short window guarded by size",
			expr:   `size >= 2 && events[1].is_termination`,
			events: []map[string]interface{}{term},
			want:   false,
		},
		{
			name:   "integer facts",
			expr:   `events[0].active_year == 2021`,
			events: []map[string]interface{}{term},
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := eval.EvaluateWindow(context.Background(), tt.expr, tt.events)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateWindow_MissingKey(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	_, err = eval.EvaluateWindow(context.Background(), `events[0].unknown == "x"`, []map[string]interface{}{{"a": 1}})
	assert.Error(t, err)
}

func TestEvaluateWindow_NonBooleanFact(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	_, err = eval.EvaluateWindow(context.Background(), `events[0].action`, []map[string]interface{}{{"action": "initial"}})
	assert.Error(t, err)
}

func TestCompileExpression_Caches(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	_, err = eval.CompileExpression(`size == 1`)
	require.NoError(t, err)
	_, err = eval.CompileExpression(`size == 1`)
	require.NoError(t, err)

	assert.Len(t, eval.programs, 1)
}

func TestRetain_DropsProgramsOutsideTheTable(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	_, err = eval.CompileExpression(`size == 1`)
	require.NoError(t, err)
	_, err = eval.CompileExpression(`size == 2`)
	require.NoError(t, err)
	require.Equal(t, 2, eval.Cached())

	eval.Retain(`size == 2`)
	assert.Equal(t, 1, eval.Cached())

	got, err := eval.EvaluateWindow(context.Background(), `size == 2`, []map[string]interface{}{{}, {}})
	require.NoError(t, err)
	assert.True(t, got)

	eval.Retain()
	assert.Zero(t, eval.Cached())
}
