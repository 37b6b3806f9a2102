// Package pipeline runs one batch of enrollment events through filtering,
// ordering, action resolution and outcome recording.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"enrollsync/internal/batch"
	"enrollsync/internal/broker"
	"enrollsync/internal/constants"
	"enrollsync/internal/filters"
	"enrollsync/internal/logger"
	"enrollsync/internal/notification"
	"enrollsync/internal/ordering"
	"enrollsync/internal/outcome"
	"enrollsync/internal/policy"
	"enrollsync/internal/resolver"
	"enrollsync/pkg/logging"
	"enrollsync/pkg/models"
	"enrollsync/pkg/tracing"
)

type ActionResolver interface {
	ResolveAll(ctx context.Context, chunks []ordering.Chunk) ([]resolver.Result, error)
}

// Recorder receives every terminal outcome of a run.
type Recorder interface {
	notification.Dropper
	Resolved(ctx context.Context, action resolver.Action) error
	Unresolved(ctx context.Context, r resolver.Result) error
	Failed(ctx context.Context, events []*notification.Event, kind outcome.Kind, cause error) error
}

type Deps struct {
	Policies    policy.Repository
	Processed   filters.ProcessedIndex
	Carrier     filters.CarrierTerminationChecker
	Resolver    ActionResolver
	Recorder    Recorder
	Producer    broker.Producer
	ActionTopic string
	Source      string
}

// Runner implements batch.Runner.
type Runner struct {
	deps   Deps
	logger logger.Logger
}

func NewRunner(deps Deps, log logger.Logger) *Runner {
	return &Runner{deps: deps, logger: log}
}

// Run processes txs as one sequence. Every event ends with exactly one
// recorded outcome unless an infrastructure error aborts the run, which is
// then returned.
func (r *Runner) Run(ctx context.Context, b batch.Batch, txs []batch.Transaction) error {
	ctx, span := tracing.GetTracer("pipeline").Start(ctx, "pipeline.run")
	defer span.End()

	events := make([]*notification.Event, 0, len(txs))
	for i, tx := range txs {
		e, err := notification.ParseEvent(tx.Raw(), i)
		if err != nil {
			r.logger.WarnwCtx(ctx, "Stored transaction is malformed",
				"transaction_id", tx.ID,
				"error", err,
			)
			if err := r.deps.Recorder.Dropped(ctx, e); err != nil {
				return err
			}
			continue
		}
		events = append(events, e)
	}

	cache := policy.NewRunCache(r.deps.Policies)
	chain := filters.NewPipeline(filters.Deps{
		Policies:  cache,
		Processed: r.deps.Processed,
		Carrier:   r.deps.Carrier,
		Dropper:   r.deps.Recorder,
	}, r.logger)

	buckets, err := chain.Run(ctx, events)
	if err != nil {
		span.RecordError(err)
		return err
	}

	run := &bucketRun{
		Runner:    r,
		engine:    ordering.NewEngine(cache, r.deps.Recorder, r.logger),
		projector: policy.NewProjector(cache),
		batchID:   b.ID,
	}
	for _, bucket := range buckets {
		if err := run.process(ctx, bucket); err != nil {
			span.RecordError(err)
			return err
		}
	}
	return nil
}

type bucketRun struct {
	*Runner
	engine    *ordering.Engine
	projector *policy.Projector
	batchID   string
}

func (r *bucketRun) process(ctx context.Context, bucket filters.Bucket) error {
	ordered, err := r.engine.Order(ctx, bucket)
	var cycle *ordering.CycleError
	if errors.As(err, &cycle) {
		r.logger.ErrorwCtx(ctx, "Bucket cannot be ordered, skipping it",
			"bucket", bucket.ID.String(),
			"events", len(cycle.Events),
		)
		return r.deps.Recorder.Failed(ctx, notification.Live(bucket.Events), outcome.OrderingCycle, err)
	}
	if err != nil {
		return fmt.Errorf("order bucket %s: %w", bucket.ID, err)
	}

	results, err := r.deps.Resolver.ResolveAll(ctx, ordering.Chunks(ordered))
	if err != nil {
		return fmt.Errorf("resolve bucket %s: %w", bucket.ID, err)
	}

	for _, res := range results {
		if res.Action == nil {
			if err := r.deps.Recorder.Unresolved(ctx, res); err != nil {
				return err
			}
			continue
		}
		if err := r.apply(ctx, *res.Action); err != nil {
			return err
		}
	}
	return nil
}

// apply publishes the action, projects it onto the policies and records
// success. Publishing comes first so that a projection that was never
// published cannot make a retried run drop the events as already applied.
func (r *bucketRun) apply(ctx context.Context, action resolver.Action) error {
	ctx = logging.WithEnrollmentID(ctx, action.HbxEnrollmentID)

	if publishable(action) {
		if err := r.publish(ctx, action); err != nil {
			if ferr := r.deps.Recorder.Failed(ctx, action.Events, outcome.PublishFailed, err); ferr != nil {
				r.logger.ErrorwCtx(ctx, "Failed to record publish failure", "error", ferr)
			}
			return err
		}
	} else {
		r.logger.InfowCtx(ctx, "Silent action not published",
			"action_id", action.ID,
			"kind", action.Kind,
		)
	}

	if err := r.projector.Apply(ctx, action.Events); err != nil {
		err = fmt.Errorf("persist action %s: %w", action.ID, err)
		if ferr := r.deps.Recorder.Failed(ctx, action.Events, outcome.PersistFailed, err); ferr != nil {
			r.logger.ErrorwCtx(ctx, "Failed to record persist failure", "error", ferr)
		}
		return err
	}

	return r.deps.Recorder.Resolved(ctx, action)
}

func (r *bucketRun) publish(ctx context.Context, action resolver.Action) error {
	body, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("encode action %s: %w", action.ID, err)
	}

	msg := models.NewMessageEnvelopeBuilder().
		WithID(action.ID).
		WithSource(r.deps.Source).
		WithRoutingKey(action.HbxEnrollmentID).
		WithHeader(constants.HeaderBatchID, r.batchID).
		WithHeader(constants.HeaderEnrollmentID, action.HbxEnrollmentID).
		WithBody(string(body)).
		Build()

	if err := r.deps.Producer.Publish(ctx, r.deps.ActionTopic, msg); err != nil {
		return fmt.Errorf("publish action %s: %w", action.ID, err)
	}
	return nil
}

// publishable is false when every event of the action is silent.
func publishable(action resolver.Action) bool {
	for _, e := range action.Events {
		if !e.View().IsSilent() {
			return true
		}
	}
	return false
}
