package policy

import (
	"context"
	"fmt"
	"time"

	"enrollsync/internal/notification"
)

// Projector folds the events of a resolved action into the policies read
// model. Events are applied in order.
type Projector struct {
	cache *RunCache
	now   func() time.Time
}

func NewProjector(cache *RunCache) *Projector {
	return &Projector{cache: cache, now: time.Now}
}

func (p *Projector) Apply(ctx context.Context, events []*notification.Event) error {
	for _, e := range events {
		v := e.View()
		current, err := p.cache.Policy(ctx, v.HbxEnrollmentID)
		if err != nil {
			return fmt.Errorf("load policy %s: %w", v.HbxEnrollmentID, err)
		}
		if err := p.cache.Save(ctx, Project(current, v, p.now().UTC())); err != nil {
			return err
		}
	}
	return nil
}

// Project returns the policy that results from applying v to current, which
// may be nil for an enrollment that has never been seen.
func Project(current *Policy, v notification.View, now time.Time) Policy {
	var next Policy
	if current != nil {
		next = *current
	}
	next.HbxEnrollmentID = v.HbxEnrollmentID
	next.SubscriberID = v.SubscriberID
	next.EmployerID = v.EmployerID
	next.CoverageType = v.CoverageType
	next.UpdatedAt = now

	if v.IsTermination() {
		if current == nil {
			next.ProductID = v.ProductID
			next.PolicyStart = v.SubscriberStart
		}
		next.State = StateTerminated
		if v.IsCancel() {
			next.State = StateCanceled
		}
		next.PolicyEnd = copyTime(v.SubscriberEnd)
		return next
	}

	next.ProductID = v.ProductID
	next.State = StateSubmitted
	next.PolicyStart = v.SubscriberStart
	next.PolicyEnd = copyTime(v.SubscriberEnd)
	return next
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
