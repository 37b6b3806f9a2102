package filters

import (
	"context"
	"fmt"

	"enrollsync/internal/notification"
)

// AlreadyProcessed drops events whose enrollment and action already have a
// processed audit record, except a termination that moves the persisted end
// date earlier.
type AlreadyProcessed struct {
	Policies PolicyLookup
	Index    ProcessedIndex
	Dropper  notification.Dropper
}

func (f *AlreadyProcessed) Name() string { return "already_processed" }

func (f *AlreadyProcessed) Apply(ctx context.Context, events []*notification.Event) error {
	for _, e := range events {
		if e.Dropped() {
			continue
		}
		v := e.View()

		if v.IsTermination() && v.SubscriberEnd != nil {
			p, err := f.Policies.Policy(ctx, v.HbxEnrollmentID)
			if err != nil {
				return fmt.Errorf("failed to load policy %s: %w", v.HbxEnrollmentID, err)
			}
			if p != nil && p.EndsAfter(*v.SubscriberEnd) {
				continue
			}
		}

		processed, err := f.Index.IsProcessed(ctx, v.HbxEnrollmentID, v.Action)
		if err != nil {
			return fmt.Errorf("failed to check processed index for %s: %w", e, err)
		}
		if processed {
			if err := notification.DropWith(ctx, f.Dropper, e, notification.DropAlreadyProcessed); err != nil {
				return err
			}
		}
	}
	return nil
}

// CarrierProcessed drops terminations the carrier feed already applied.
type CarrierProcessed struct {
	Policies PolicyLookup
	Checker  CarrierTerminationChecker
	Dropper  notification.Dropper
}

func (f *CarrierProcessed) Name() string { return "carrier_processed" }

func (f *CarrierProcessed) Apply(ctx context.Context, events []*notification.Event) error {
	for _, e := range liveTerminations(events) {
		v := e.View()
		p, err := f.Policies.Policy(ctx, v.HbxEnrollmentID)
		if err != nil {
			return fmt.Errorf("failed to load policy %s: %w", v.HbxEnrollmentID, err)
		}
		if f.Checker.CarrierTerminated(v, p) {
			if err := notification.DropWith(ctx, f.Dropper, e, notification.DropCarrierProcessed); err != nil {
				return err
			}
		}
	}
	return nil
}

// TerminationWithoutEndDate drops terminations that carry no end date.
type TerminationWithoutEndDate struct {
	Dropper notification.Dropper
}

func (f *TerminationWithoutEndDate) Name() string { return "termination_without_end_date" }

func (f *TerminationWithoutEndDate) Apply(ctx context.Context, events []*notification.Event) error {
	for _, e := range liveTerminations(events) {
		if e.View().HasEndDate() {
			continue
		}
		if err := notification.DropWith(ctx, f.Dropper, e, notification.DropNoEndDate); err != nil {
			return err
		}
	}
	return nil
}

// AlreadyProcessedTermination drops terminations of canceled policies and
// of terminated policies unless the new end date is earlier.
type AlreadyProcessedTermination struct {
	Policies PolicyLookup
	Dropper  notification.Dropper
}

func (f *AlreadyProcessedTermination) Name() string { return "already_processed_termination" }

func (f *AlreadyProcessedTermination) Apply(ctx context.Context, events []*notification.Event) error {
	for _, e := range liveTerminations(events) {
		v := e.View()
		p, err := f.Policies.Policy(ctx, v.HbxEnrollmentID)
		if err != nil {
			return fmt.Errorf("failed to load policy %s: %w", v.HbxEnrollmentID, err)
		}
		if p == nil {
			continue
		}

		superseded := v.SubscriberEnd != nil && p.EndsAfter(*v.SubscriberEnd)
		if p.IsCanceled() || (p.IsTerminated() && !superseded) {
			if err := notification.DropWith(ctx, f.Dropper, e, notification.DropAlreadyTerminated); err != nil {
				return err
			}
		}
	}
	return nil
}
