package outcome

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"enrollsync/internal/audit"
	"enrollsync/internal/broker"
	"enrollsync/internal/config"
	"enrollsync/internal/constants"
	"enrollsync/internal/logger"
	"enrollsync/internal/notification"
	"enrollsync/internal/resolver"
	"enrollsync/pkg/metrics"
	"enrollsync/pkg/models"
)

// ProcessedMarker is told about every enrollment action that was resolved.
type ProcessedMarker interface {
	MarkProcessed(ctx context.Context, hbxEnrollmentID string, action notification.Action) error
}

// TransactionAcker records the terminal outcome on the stored transaction.
type TransactionAcker interface {
	AckTransaction(ctx context.Context, transactionID, eventKey string, status int) error
}

// Outcome is one terminal result for one event.
type Outcome struct {
	Kind    Kind
	Action  *resolver.Action
	Err     error
	Details map[string]interface{}
}

// Publisher is the single place terminal outcomes are written. Each event
// gets one audit record and one broadcast, then its transaction is acked
// and the event released.
type Publisher struct {
	store     audit.Store
	index     ProcessedMarker
	producer  broker.Producer
	acker     TransactionAcker
	topic     string
	service   string
	component string
	logger    logger.Logger
	now       func() time.Time
}

func NewPublisher(store audit.Store, index ProcessedMarker, producer broker.Producer, acker TransactionAcker, topic string, cfg config.BroadcastConfig, log logger.Logger) *Publisher {
	service := cfg.Service
	if service == "" {
		service = "enrollsync"
	}
	component := cfg.Component
	if component == "" {
		component = "enrollment_events"
	}
	return &Publisher{
		store:     store,
		index:     index,
		producer:  producer,
		acker:     acker,
		topic:     topic,
		service:   service,
		component: component,
		logger:    log,
		now:       time.Now,
	}
}

// Dropped implements notification.Dropper.
func (p *Publisher) Dropped(ctx context.Context, e *notification.Event) error {
	kind, ok := FromDropReason(e.DropReason())
	if !ok {
		return fmt.Errorf("event %s dropped without a reason", e)
	}
	return p.Record(ctx, e, Outcome{Kind: kind})
}

// Resolved records success for every event the action consumed.
func (p *Publisher) Resolved(ctx context.Context, action resolver.Action) error {
	for _, e := range action.Events {
		if err := p.Record(ctx, e, Outcome{Kind: Resolved, Action: &action}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) Unresolved(ctx context.Context, r resolver.Result) error {
	if r.Unresolved == nil {
		return nil
	}
	return p.Record(ctx, r.Unresolved, Outcome{Kind: FromUnresolved(r.Reason)})
}

// Failed records kind for each event; used for ordering cycles and for
// persist or publish failures of a resolved action.
func (p *Publisher) Failed(ctx context.Context, events []*notification.Event, kind Kind, cause error) error {
	for _, e := range events {
		if err := p.Record(ctx, e, Outcome{Kind: kind, Err: cause}); err != nil {
			return err
		}
	}
	return nil
}

// Record writes the outcome for e. Settled events are skipped, so calling
// it twice for the same event is harmless.
func (p *Publisher) Record(ctx context.Context, e *notification.Event, o Outcome) error {
	if e.Settled() {
		return nil
	}

	class := Classify(o.Kind)
	v := e.View()
	rec := p.record(v, class, o)

	created, err := p.store.Append(ctx, rec)
	if err != nil {
		return fmt.Errorf("audit %s for %s: %w", class.EventKey, e, err)
	}
	if !created {
		p.logger.DebugwCtx(ctx, "Audit record already present, broadcasting again",
			"transaction_id", v.TransactionID,
			"event_key", class.EventKey,
		)
	}

	if o.Kind == Resolved && p.index != nil {
		if err := p.index.MarkProcessed(ctx, v.HbxEnrollmentID, v.Action); err != nil {
			return fmt.Errorf("mark %s processed: %w", e, err)
		}
	}

	if err := p.broadcast(ctx, v, class, rec.Headers, o); err != nil {
		return err
	}

	if p.acker != nil && v.TransactionID != "" {
		if err := p.acker.AckTransaction(ctx, v.TransactionID, class.EventKey, class.Status); err != nil {
			return fmt.Errorf("ack transaction %s: %w", v.TransactionID, err)
		}
	}

	metrics.IncOutcome(class.EventKey, class.Level)
	e.Settle()
	e.Release()
	return nil
}

func (p *Publisher) record(v notification.View, class Classification, o Outcome) audit.Record {
	details := make(map[string]interface{}, len(o.Details)+3)
	for k, val := range o.Details {
		details[k] = val
	}
	if o.Err != nil {
		details["error"] = o.Err.Error()
	}
	if o.Action != nil {
		details["action_id"] = o.Action.ID
		details["action_kind"] = string(o.Action.Kind)
		details["rule"] = o.Action.Rule
	}

	rec := audit.Record{
		HbxEnrollmentID:  v.HbxEnrollmentID,
		EnrollmentAction: string(v.Action),
		EventKey:         class.EventKey,
		Level:            class.Level,
		StatusCode:       class.Status,
		Headers:          p.headers(v, class),
		Details:          details,
		BatchID:          v.BatchID,
		TransactionID:    v.TransactionID,
		CreatedAt:        p.now().UTC(),
	}
	if !v.ReceivedAt.IsZero() {
		received := v.ReceivedAt
		rec.ReceivedAt = &received
	}
	return rec
}

func (p *Publisher) headers(v notification.View, class Classification) map[string]string {
	h := make(map[string]string, len(v.Headers)+7)
	for k, val := range v.Headers {
		h[k] = val
	}
	h[constants.HeaderStatusCode] = strconv.Itoa(class.Status)
	h[constants.HeaderLevel] = class.Level
	h[constants.HeaderEventKey] = class.EventKey
	setIf(h, constants.HeaderBatchID, v.BatchID)
	setIf(h, constants.HeaderTransactionID, v.TransactionID)
	setIf(h, constants.HeaderEnrollmentID, v.HbxEnrollmentID)
	setIf(h, constants.HeaderEnrollmentAction, string(v.Action))
	return h
}

func (p *Publisher) broadcast(ctx context.Context, v notification.View, class Classification, headers map[string]string, o Outcome) error {
	builder := models.NewMessageEnvelopeBuilder().
		WithSource(p.service).
		WithRoutingKey(RoutingKey(class.Level, p.service, p.component, class.EventKey)).
		WithHeaders(headers).
		WithBody(v.Body)
	if o.Action != nil {
		builder = builder.WithPayload(map[string]interface{}{
			"action_id":   o.Action.ID,
			"action_kind": string(o.Action.Kind),
		})
	}

	if err := p.producer.Publish(ctx, p.topic, builder.Build()); err != nil {
		return fmt.Errorf("broadcast %s for %s: %w", class.EventKey, v.TransactionID, err)
	}
	return nil
}

// BroadcastBatchFailure announces that a batch run aborted and the batch
// moved to error.
func (p *Publisher) BroadcastBatchFailure(ctx context.Context, batchID string, cause error) error {
	const eventKey = "batch_failed"
	msg := models.NewMessageEnvelopeBuilder().
		WithSource(p.service).
		WithRoutingKey(RoutingKey(audit.LevelError, p.service, p.component, eventKey)).
		WithHeader(constants.HeaderLevel, audit.LevelError).
		WithHeader(constants.HeaderEventKey, eventKey).
		WithHeader(constants.HeaderStatusCode, "500").
		WithHeader(constants.HeaderBatchID, batchID).
		WithPayload(map[string]interface{}{
			"batch_id": batchID,
			"error":    errorText(cause),
		}).
		Build()

	if err := p.producer.Publish(ctx, p.topic, msg); err != nil {
		return fmt.Errorf("broadcast failure of batch %s: %w", batchID, err)
	}
	metrics.IncOutcome(eventKey, audit.LevelError)
	return nil
}

// RoutingKey builds "{level}.{service}.{component}.{event_key}".
func RoutingKey(level, service, component, eventKey string) string {
	return strings.Join([]string{level, service, component, eventKey}, ".")
}

func setIf(h map[string]string, k, v string) {
	if v != "" {
		h[k] = v
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
