package batch

import (
	"context"
	"fmt"
	"time"

	"enrollsync/internal/logger"
	apperrors "enrollsync/pkg/errors"
	"enrollsync/pkg/logging"
	"enrollsync/pkg/metrics"
	"enrollsync/pkg/models"
	"enrollsync/pkg/tracing"
)

// Runner runs the reconciliation pipeline over a batch's transactions.
type Runner interface {
	Run(ctx context.Context, b Batch, txs []Transaction) error
}

type FailureBroadcaster interface {
	BroadcastBatchFailure(ctx context.Context, batchID string, cause error) error
}

// Processor consumes process messages. A failed run leaves the batch in
// error for an operator to retrigger and the message is acknowledged. Only a
// batch that could not be moved out of pending_transmission makes Handle
// return an error, so that the broker delivers the message again.
type Processor struct {
	repo     Repository
	runner   Runner
	failures FailureBroadcaster
	logger   logger.Logger
}

func NewProcessor(repo Repository, runner Runner, failures FailureBroadcaster, log logger.Logger) *Processor {
	return &Processor{repo: repo, runner: runner, failures: failures, logger: log}
}

func (p *Processor) Handle(ctx context.Context, msg models.MessageEnvelope) error {
	batchID := ProcessBatchID(msg)
	if batchID == "" {
		p.logger.WarnwCtx(ctx, "Process message without batch id", "message_id", msg.ID)
		return nil
	}
	ctx = logging.WithBatchID(ctx, batchID)
	ctx, span := tracing.GetTracer("batch-processor").Start(ctx, "batch.process")
	defer span.End()

	b, err := p.repo.Get(ctx, batchID)
	if apperrors.IsNotFound(err) {
		p.logger.WarnwCtx(ctx, "Process message for unknown batch")
		return nil
	}
	if err != nil {
		return err
	}
	if b.State != StatePendingTransmission {
		p.logger.InfowCtx(ctx, "Ignoring process message for batch that is not pending",
			"state", b.State,
		)
		return nil
	}

	start := time.Now()
	runErr := p.run(ctx, b)
	if runErr == nil {
		if err := p.settle(ctx, b, EventTransmit, ""); err != nil {
			return err
		}
		metrics.ObserveBatchDuration(time.Since(start), "closed")
		p.logger.InfowCtx(ctx, "Batch transmitted", "duration", time.Since(start))
		return nil
	}

	span.RecordError(runErr)
	metrics.ObserveBatchDuration(time.Since(start), "error")
	p.logger.ErrorwCtx(ctx, "Batch run failed", "error", runErr)

	if err := p.settle(ctx, b, EventException, runErr.Error()); err != nil {
		return err
	}
	if err := p.failures.BroadcastBatchFailure(ctx, b.ID, runErr); err != nil {
		p.logger.ErrorwCtx(ctx, "Failed to broadcast batch failure", "error", err)
	}
	return nil
}

// settle fires ev on the pending batch. A conflict means another delivery
// already moved it. Any other failure is returned: a batch stuck in
// pending_transmission keeps every later batch of its key from being cut.
func (p *Processor) settle(ctx context.Context, b *Batch, ev Event, lastError string) error {
	err := fire(ctx, p.repo, b, ev, lastError)
	if err == nil {
		return nil
	}
	if apperrors.IsConflict(err) {
		p.logger.WarnwCtx(ctx, "Batch already left pending transmission", "event", ev, "error", err)
		return nil
	}
	p.logger.ErrorwCtx(ctx, "Failed to settle batch", "event", ev, "error", err)
	return fmt.Errorf("settle batch %s on %s: %w", b.ID, ev, err)
}

func (p *Processor) run(ctx context.Context, b *Batch) error {
	txs, err := p.repo.PendingTransactions(ctx, b.ID)
	if err != nil {
		return err
	}
	metrics.BatchTransactionsProcessed.Observe(float64(len(txs)))
	if len(txs) == 0 {
		return nil
	}
	for _, tx := range txs {
		tracing.LinkStored(ctx, tx.Headers)
	}
	return p.runner.Run(ctx, *b, txs)
}
