package audit

import "time"

const (
	LevelInfo  = "info"
	LevelError = "error"
)

// EventKeyProcessed marks the records that count as "already processed".
const EventKeyProcessed = "event_processed"

// Record is one terminal outcome of an enrollment event.
type Record struct {
	ID               string                 `json:"id"`
	HbxEnrollmentID  string                 `json:"hbx_enrollment_id"`
	EnrollmentAction string                 `json:"enrollment_action"`
	EventKey         string                 `json:"event_key"`
	Level            string                 `json:"level"`
	StatusCode       int                    `json:"status_code"`
	Headers          map[string]string      `json:"headers"`
	Details          map[string]interface{} `json:"details,omitempty"`
	BatchID          string                 `json:"batch_id,omitempty"`
	TransactionID    string                 `json:"transaction_id,omitempty"`
	ReceivedAt       *time.Time             `json:"received_at,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

// Query filters audit records; empty fields match everything.
type Query struct {
	HbxEnrollmentID  string
	EnrollmentAction string
	EventKey         string
	BatchID          string
	Limit            int
	Offset           int
}
