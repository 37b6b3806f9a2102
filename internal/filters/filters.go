// Package filters reduces a batch of enrollment events before ordering.
// Filters run in a fixed order over the whole batch and only ever drop
// events; every drop is reported through a notification.Dropper.
package filters

import (
	"context"
	"fmt"

	"enrollsync/internal/logger"
	"enrollsync/internal/notification"
	"enrollsync/internal/policy"
)

type PolicyLookup interface {
	// Policy returns nil when no policy is persisted for the enrollment.
	Policy(ctx context.Context, hbxEnrollmentID string) (*policy.Policy, error)
}

// ProcessedIndex answers whether a processed audit record exists for the
// enrollment and action.
type ProcessedIndex interface {
	IsProcessed(ctx context.Context, hbxEnrollmentID string, action notification.Action) (bool, error)
}

type CarrierTerminationChecker interface {
	CarrierTerminated(v notification.View, p *policy.Policy) bool
}

type CarrierTerminationFunc func(v notification.View, p *policy.Policy) bool

func (f CarrierTerminationFunc) CarrierTerminated(v notification.View, p *policy.Policy) bool {
	return f(v, p)
}

// CarrierTerminatedOn treats a termination as already applied when the
// carrier feed recorded the same end date on the policy.
var CarrierTerminatedOn = CarrierTerminationFunc(func(v notification.View, p *policy.Policy) bool {
	if p == nil || p.CarrierTerminatedOn == nil || v.SubscriberEnd == nil {
		return false
	}
	return p.CarrierTerminatedOn.Equal(*v.SubscriberEnd)
})

type Filter interface {
	Name() string
	Apply(ctx context.Context, events []*notification.Event) error
}

type Deps struct {
	Policies  PolicyLookup
	Processed ProcessedIndex
	Carrier   CarrierTerminationChecker
	Dropper   notification.Dropper
}

// Bucket is the set of surviving events that must be ordered together.
type Bucket struct {
	ID     notification.BucketID
	Events []*notification.Event
}

type Pipeline struct {
	filters []Filter
	logger  logger.Logger
}

// NewPipeline returns the standard filter chain.
func NewPipeline(deps Deps, log logger.Logger) *Pipeline {
	if deps.Carrier == nil {
		deps.Carrier = CarrierTerminatedOn
	}
	return NewPipelineWith(log,
		&AlreadyProcessed{Policies: deps.Policies, Index: deps.Processed, Dropper: deps.Dropper},
		&CarrierProcessed{Policies: deps.Policies, Checker: deps.Carrier, Dropper: deps.Dropper},
		&TerminationWithoutEndDate{Dropper: deps.Dropper},
		&AlreadyProcessedTermination{Policies: deps.Policies, Dropper: deps.Dropper},
		&Reduce{Dropper: deps.Dropper},
	)
}

func NewPipelineWith(log logger.Logger, filters ...Filter) *Pipeline {
	return &Pipeline{filters: filters, logger: log}
}

// Run applies every filter in order and groups the survivors by bucket.
func (p *Pipeline) Run(ctx context.Context, events []*notification.Event) ([]Bucket, error) {
	for _, f := range p.filters {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		before := len(notification.Live(events))
		if err := f.Apply(ctx, events); err != nil {
			return nil, fmt.Errorf("filter %s: %w", f.Name(), err)
		}
		after := len(notification.Live(events))

		if before != after {
			p.logger.DebugwCtx(ctx, "Filter dropped events",
				"filter", f.Name(),
				"dropped", before-after,
				"remaining", after,
			)
		}
	}

	return GroupByBucket(events), nil
}

// GroupByBucket groups live events by bucket id. Buckets appear in the order
// their first event appears and keep the input order inside.
func GroupByBucket(events []*notification.Event) []Bucket {
	var buckets []Bucket
	index := make(map[notification.BucketID]int)

	for _, e := range events {
		if e.Dropped() {
			continue
		}
		id := e.View().BucketID()
		i, ok := index[id]
		if !ok {
			i = len(buckets)
			index[id] = i
			buckets = append(buckets, Bucket{ID: id})
		}
		buckets[i].Events = append(buckets[i].Events, e)
	}

	return buckets
}

func liveTerminations(events []*notification.Event) []*notification.Event {
	var out []*notification.Event
	for _, e := range events {
		if !e.Dropped() && e.View().IsTermination() {
			out = append(out, e)
		}
	}
	return out
}
