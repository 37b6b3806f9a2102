package models

import "time"

// MessageEnvelope is the unit every broker topic carries. Enrollment event
// notifications travel as an XML Body plus Headers; internal commands and
// broadcasts use Payload.
type MessageEnvelope struct {
	ID         string                 `json:"id"`
	Source     string                 `json:"source"`
	Timestamp  time.Time              `json:"timestamp"`
	RoutingKey string                 `json:"routing_key,omitempty"`
	Headers    map[string]string      `json:"headers,omitempty"`
	Body       string                 `json:"body,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Metadata   Metadata               `json:"metadata"`
}

type Metadata struct {
	TraceID    string                 `json:"trace_id,omitempty"`
	Retry      *RetryInfo             `json:"retry,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// RetryInfo is stamped on envelopes dead-lettered to a retry topic.
type RetryInfo struct {
	SourceTopic string    `json:"source_topic"`
	Reason      string    `json:"reason"`
	Attempts    int       `json:"attempts"`
	FailedAt    time.Time `json:"failed_at"`
}

func (msg *MessageEnvelope) Header(name string) string {
	if msg.Headers == nil {
		return ""
	}
	return msg.Headers[name]
}
