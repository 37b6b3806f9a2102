// Package ordering orders the events of one bucket, removes artifact events
// and cuts the result into chunks for action resolution.
package ordering

import (
	"context"
	"fmt"

	"enrollsync/internal/filters"
	"enrollsync/internal/logger"
	"enrollsync/internal/notification"
	"enrollsync/internal/policy"
)

type Lookup interface {
	// Policy returns nil when no policy is persisted for the enrollment.
	Policy(ctx context.Context, hbxEnrollmentID string) (*policy.Policy, error)
	PlanYears(ctx context.Context, employerID string) ([]policy.PlanYear, error)
}

type Engine struct {
	lookup  Lookup
	dropper notification.Dropper
	logger  logger.Logger
}

func NewEngine(lookup Lookup, dropper notification.Dropper, log logger.Logger) *Engine {
	return &Engine{lookup: lookup, dropper: dropper, logger: log}
}

// Order drops bogus terminations, sorts the bucket and drops renewal
// termination artifacts. A *CycleError is returned when the bucket cannot
// be ordered; no event is dropped by the sort itself.
func (e *Engine) Order(ctx context.Context, bucket filters.Bucket) ([]*notification.Event, error) {
	if err := e.dropBogusTerms(ctx, bucket.Events); err != nil {
		return nil, err
	}
	if err := e.dropBogusPlanYears(ctx, bucket.Events); err != nil {
		return nil, err
	}

	ordered, err := Sort(bucket.ID, notification.Live(bucket.Events))
	if err != nil {
		return nil, err
	}

	if err := e.dropRenewalTermArtifacts(ctx, ordered); err != nil {
		return nil, err
	}

	live := notification.Live(ordered)
	e.logger.DebugwCtx(ctx, "Ordered bucket",
		"bucket", bucket.ID.String(),
		"input", len(bucket.Events),
		"ordered", len(live),
	)
	return live, nil
}

// dropBogusTerms drops terminations of enrollments that are neither started
// in this bucket nor persisted.
func (e *Engine) dropBogusTerms(ctx context.Context, events []*notification.Event) error {
	for _, ev := range events {
		v := ev.View()
		if ev.Dropped() || !v.IsTermination() || hasStarterFor(events, ev) {
			continue
		}

		p, err := e.lookup.Policy(ctx, v.HbxEnrollmentID)
		if err != nil {
			return fmt.Errorf("failed to load policy %s: %w", v.HbxEnrollmentID, err)
		}
		if p != nil {
			continue
		}
		if err := notification.DropWith(ctx, e.dropper, ev, notification.DropBogusTerm); err != nil {
			return err
		}
	}
	return nil
}

// dropBogusPlanYears drops shop terminations whose start date falls outside
// every plan year of the employer.
func (e *Engine) dropBogusPlanYears(ctx context.Context, events []*notification.Event) error {
	for _, ev := range events {
		v := ev.View()
		if ev.Dropped() || !v.IsTermination() || !v.IsShop() {
			continue
		}

		years, err := e.lookup.PlanYears(ctx, v.EmployerID)
		if err != nil {
			return fmt.Errorf("failed to load plan years for employer %s: %w", v.EmployerID, err)
		}
		if hasPlanYearFor(years, v.SubscriberStart) {
			continue
		}
		if err := notification.DropWith(ctx, e.dropper, ev, notification.DropBogusPlanYear); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) dropRenewalTermArtifacts(ctx context.Context, ordered []*notification.Event) error {
	for i, term := range ordered {
		if term.Dropped() || !term.View().IsTermination() {
			continue
		}
		for j, other := range ordered {
			if i == j || other.Dropped() {
				continue
			}
			if !IsRenewalTerminationArtifact(term.View(), other.View()) {
				continue
			}
			if err := notification.DropWith(ctx, e.dropper, term, notification.DropBogusRenewalTerm); err != nil {
				return err
			}
			break
		}
	}
	return nil
}
