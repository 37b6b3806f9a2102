package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageEnvelopeBuilder assembles an envelope field by field. Build
// copies the result, so one builder may be reused as a template.
type MessageEnvelopeBuilder struct {
	env MessageEnvelope
}

func NewMessageEnvelopeBuilder() *MessageEnvelopeBuilder {
	return &MessageEnvelopeBuilder{env: MessageEnvelope{Headers: map[string]string{}}}
}

func (b *MessageEnvelopeBuilder) WithID(id string) *MessageEnvelopeBuilder {
	b.env.ID = id
	return b
}

func (b *MessageEnvelopeBuilder) WithSource(source string) *MessageEnvelopeBuilder {
	b.env.Source = source
	return b
}

func (b *MessageEnvelopeBuilder) WithRoutingKey(key string) *MessageEnvelopeBuilder {
	b.env.RoutingKey = key
	return b
}

func (b *MessageEnvelopeBuilder) WithHeader(name, value string) *MessageEnvelopeBuilder {
	b.env.Headers[name] = value
	return b
}

func (b *MessageEnvelopeBuilder) WithHeaders(headers map[string]string) *MessageEnvelopeBuilder {
	for k, v := range headers {
		b.env.Headers[k] = v
	}
	return b
}

func (b *MessageEnvelopeBuilder) WithBody(body string) *MessageEnvelopeBuilder {
	b.env.Body = body
	return b
}

func (b *MessageEnvelopeBuilder) WithPayload(payload map[string]interface{}) *MessageEnvelopeBuilder {
	b.env.Payload = payload
	return b
}

func (b *MessageEnvelopeBuilder) WithTraceID(traceID string) *MessageEnvelopeBuilder {
	b.env.Metadata.TraceID = traceID
	return b
}

// Build fills in a random ID and the current time when they were not set.
func (b *MessageEnvelopeBuilder) Build() MessageEnvelope {
	env := b.env
	env.Headers = make(map[string]string, len(b.env.Headers))
	for k, v := range b.env.Headers {
		env.Headers[k] = v
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	return env
}
