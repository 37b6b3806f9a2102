package batch

import (
	"context"
	"fmt"

	"enrollsync/internal/broker"
	"enrollsync/internal/logger"
	apperrors "enrollsync/pkg/errors"
	"enrollsync/pkg/metrics"
	"enrollsync/pkg/models"
)

const payloadBatchID = "batch_id"

// CutService hands batches to the processor: every process transition is
// followed by one message on the process topic.
type CutService struct {
	repo     Repository
	producer broker.Producer
	topic    string
	limit    int
	source   string
	logger   logger.Logger
}

func NewCutService(repo Repository, producer broker.Producer, topic string, limit int, source string, log logger.Logger) *CutService {
	return &CutService{repo: repo, producer: producer, topic: topic, limit: limit, source: source, logger: log}
}

// Cut dispatches every open batch that may be processed and returns how many
// were dispatched. A batch whose message cannot be published is moved to
// error and the sweep continues.
func (s *CutService) Cut(ctx context.Context) (int, error) {
	open, err := s.repo.ListOpen(ctx, s.limit)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for i := range open {
		b := open[i]
		if !MayProcess(b) {
			metrics.BatchesCutTotal.WithLabelValues("deferred").Inc()
			continue
		}
		if err := s.dispatch(ctx, &b); err != nil {
			if ctx.Err() != nil {
				return dispatched, ctx.Err()
			}
			metrics.BatchesCutTotal.WithLabelValues("failed").Inc()
			s.logger.ErrorwCtx(ctx, "Failed to dispatch batch",
				"batch_id", b.ID,
				"error", err,
			)
			continue
		}
		metrics.BatchesCutTotal.WithLabelValues("dispatched").Inc()
		dispatched++
	}

	s.logger.InfowCtx(ctx, "Cut finished",
		"open", len(open),
		"dispatched", dispatched,
	)
	return dispatched, nil
}

// Retrigger re-dispatches a batch that ended in error.
func (s *CutService) Retrigger(ctx context.Context, id string) (*Batch, error) {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.State != StateError {
		return nil, apperrors.ErrInvalidTransition.
			WithDetail("batch_id", id).
			WithDetail("message", fmt.Sprintf("only batches in error can be retriggered, batch is %s", b.State))
	}
	if err := s.dispatch(ctx, b); err != nil {
		return nil, err
	}
	s.logger.InfowCtx(ctx, "Batch retriggered", "batch_id", id)
	return b, nil
}

func (s *CutService) dispatch(ctx context.Context, b *Batch) error {
	if err := fire(ctx, s.repo, b, EventProcess, ""); err != nil {
		return err
	}

	if err := s.producer.Publish(ctx, s.topic, ProcessMessage(s.source, *b)); err != nil {
		cause := fmt.Errorf("publish process message: %w", err)
		if ferr := fire(ctx, s.repo, b, EventException, cause.Error()); ferr != nil {
			s.logger.ErrorwCtx(ctx, "Failed to move undispatched batch to error",
				"batch_id", b.ID,
				"error", ferr,
			)
		}
		return cause
	}
	return nil
}

// ProcessMessage is the command that tells a processor to run b. It is keyed
// by the batch key so batches of one key stay on one partition.
func ProcessMessage(source string, b Batch) models.MessageEnvelope {
	return models.NewMessageEnvelopeBuilder().
		WithSource(source).
		WithRoutingKey(fmt.Sprintf("%s/%s/%s", b.Key.SubscriberID, b.Key.BenefitKind, b.Key.EmployerID)).
		WithPayload(map[string]interface{}{payloadBatchID: b.ID}).
		Build()
}

// ProcessBatchID extracts the batch id from a process message.
func ProcessBatchID(msg models.MessageEnvelope) string {
	id, _ := msg.Payload[payloadBatchID].(string)
	return id
}
