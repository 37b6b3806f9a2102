package batch

import (
	"time"

	"enrollsync/internal/notification"
)

type State string

const (
	StateOpen                State = "open"
	StatePendingTransmission State = "pending_transmission"
	StateClosed              State = "closed"
	StateError               State = "error"
)

type Event string

const (
	EventProcess   Event = "process"
	EventTransmit  Event = "transmit"
	EventException Event = "exception"
)

// Key identifies the stream a batch collects: one subscriber's coverage of
// one benefit kind, per employer (empty for the individual market).
type Key struct {
	SubscriberID string                    `json:"subscriber_id"`
	EmployerID   string                    `json:"employer_id"`
	BenefitKind  notification.CoverageType `json:"benefit_kind"`
}

func KeyOf(v notification.View) Key {
	return Key{SubscriberID: v.SubscriberID, EmployerID: v.EmployerID, BenefitKind: v.CoverageType}
}

type Batch struct {
	ID               string    `json:"id"`
	Key              Key       `json:"key"`
	State            State     `json:"state"`
	TransactionCount int       `json:"transaction_count"`
	LastError        string    `json:"last_error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`

	// PendingSibling is set on listings of open batches when another batch
	// with the same key is still pending transmission.
	PendingSibling bool `json:"pending_sibling,omitempty"`
}

// Transaction is one stored enrollment event message.
type Transaction struct {
	ID         string            `json:"id"`
	BatchID    string            `json:"batch_id"`
	Sequence   int64             `json:"sequence"`
	MessageID  string            `json:"message_id"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	EventTime  time.Time         `json:"event_time"`
	OutcomeKey string            `json:"outcome_key,omitempty"`
	StatusCode int               `json:"status_code,omitempty"`
	AckedAt    *time.Time        `json:"acked_at,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Raw converts t into codec input; the transaction id becomes the event's
// transaction id so audit records and acks point back at this row.
func (t Transaction) Raw() notification.Raw {
	return notification.Raw{
		TransactionID: t.ID,
		BatchID:       t.BatchID,
		Headers:       t.Headers,
		Body:          t.Body,
		ReceivedAt:    t.CreatedAt,
	}
}

type ListFilter struct {
	State  State
	Limit  int
	Offset int
}
