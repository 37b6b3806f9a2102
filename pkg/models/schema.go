package models

import "fmt"

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

var envelopeRules = []struct {
	field   string
	message string
	ok      func(*MessageEnvelope) bool
}{
	{"id", "message ID is required", func(m *MessageEnvelope) bool { return m.ID != "" }},
	{"source", "message source is required", func(m *MessageEnvelope) bool { return m.Source != "" }},
	{"timestamp", "message timestamp is required", func(m *MessageEnvelope) bool { return !m.Timestamp.IsZero() }},
	{"body", "message must carry a body or a payload", func(m *MessageEnvelope) bool { return m.Body != "" || len(m.Payload) > 0 }},
}

// ValidateMessageEnvelope reports the first rule msg breaks.
func ValidateMessageEnvelope(msg *MessageEnvelope) error {
	if msg == nil {
		return &ValidationError{Field: "envelope", Message: "message envelope cannot be nil"}
	}
	for _, r := range envelopeRules {
		if !r.ok(msg) {
			return &ValidationError{Field: r.field, Message: r.message}
		}
	}
	return nil
}
