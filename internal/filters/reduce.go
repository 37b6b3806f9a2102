package filters

import (
	"context"

	"enrollsync/internal/notification"
)

// Reduce collapses duplicate events and removes conflicting cancels.
//
// Events collide when they share an enrollment id and normalized action.
// Of two colliding terminations the silent one wins; of two coverage
// starters the passive renewal wins; otherwise the first seen wins. A
// winner that arrives later takes the loser's place in the scan order.
//
// Afterwards, a cancel and a non-termination for the same enrollment in the
// same bucket are both dropped as reduced.
type Reduce struct {
	Dropper notification.Dropper
}

func (f *Reduce) Name() string { return "reduce" }

type reduceKey struct {
	enrollmentID string
	action       notification.Action
}

func (f *Reduce) Apply(ctx context.Context, events []*notification.Event) error {
	kept, err := f.dedupe(ctx, events)
	if err != nil {
		return err
	}
	return f.dropConflicts(ctx, kept)
}

func (f *Reduce) dedupe(ctx context.Context, events []*notification.Event) ([]*notification.Event, error) {
	var kept []*notification.Event
	index := make(map[reduceKey]int)

	for _, e := range events {
		if e.Dropped() {
			continue
		}
		v := e.View()
		k := reduceKey{enrollmentID: v.HbxEnrollmentID, action: v.NormalizedAction()}

		i, seen := index[k]
		if !seen {
			index[k] = len(kept)
			kept = append(kept, e)
			continue
		}

		loser := e
		if prefer(kept[i].View(), v) {
			loser = kept[i]
			kept[i] = e
		}
		if err := notification.DropWith(ctx, f.Dropper, loser, notification.DropDuplicate); err != nil {
			return nil, err
		}
	}

	return kept, nil
}

// prefer reports whether candidate should replace current.
func prefer(current, candidate notification.View) bool {
	switch {
	case current.IsTermination() && candidate.IsTermination():
		return candidate.IsSilent() && !current.IsSilent()
	case current.IsCoverageStarter() && candidate.IsCoverageStarter():
		return candidate.IsPassiveRenewal() && !current.IsPassiveRenewal()
	default:
		return false
	}
}

func (f *Reduce) dropConflicts(ctx context.Context, kept []*notification.Event) error {
	conflicted := make(map[*notification.Event]bool)

	for i := 0; i < len(kept); i++ {
		a := kept[i].View()
		for j := i + 1; j < len(kept); j++ {
			b := kept[j].View()
			if a.BucketID() != b.BucketID() || a.HbxEnrollmentID != b.HbxEnrollmentID {
				continue
			}
			if (a.IsCancel() && !b.IsTermination()) || (b.IsCancel() && !a.IsTermination()) {
				conflicted[kept[i]] = true
				conflicted[kept[j]] = true
			}
		}
	}

	for _, e := range kept {
		if !conflicted[e] {
			continue
		}
		if err := notification.DropWith(ctx, f.Dropper, e, notification.DropReduced); err != nil {
			return err
		}
	}
	return nil
}
