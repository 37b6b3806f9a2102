package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateMessageEnvelope(t *testing.T) {
	valid := NewMessageEnvelopeBuilder().
		WithSource("enroll").
		WithHeader("submitted_timestamp", "2021-03-01T10:00:00Z").
		WithBody("<enrollment_event/>").
		Build()

	tests := []struct {
		name    string
		mutate  func(m *MessageEnvelope)
		field   string
		wantErr bool
	}{
		{name: "valid", mutate: func(m *MessageEnvelope) {}},
		{name: "missing source", mutate: func(m *MessageEnvelope) { m.Source = "" }, field: "source", wantErr: true},
		{name: "missing id", mutate: func(m *MessageEnvelope) { m.ID = "" }, field: "id", wantErr: true},
		{name: "no body or payload", mutate: func(m *MessageEnvelope) { m.Body = "" }, field: "body", wantErr: true},
		{name: "payload only", mutate: func(m *MessageEnvelope) {
			m.Body = ""
			m.Payload = map[string]interface{}{"batch_id": "b-1"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := valid
			msg.Headers = map[string]string{}
			tt.mutate(&msg)

			err := ValidateMessageEnvelope(&msg)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestBuilder_Defaults(t *testing.T) {
	before := time.Now().UTC()
	msg := NewMessageEnvelopeBuilder().WithSource("s").Build()

	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.Timestamp.Before(before))
	assert.Equal(t, "", msg.Header("missing"))

}

func TestBuilder_BuildCopiesHeaders(t *testing.T) {
	b := NewMessageEnvelopeBuilder().WithSource("s").WithHeader("a", "1")
	first := b.Build()
	first.Headers["a"] = "changed"

	second := b.WithID("fixed").Build()
	assert.Equal(t, "1", second.Header("a"))
	assert.Equal(t, "fixed", second.ID)
}
