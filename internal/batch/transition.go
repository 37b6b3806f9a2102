package batch

import (
	"context"

	"enrollsync/pkg/metrics"
)

// fire applies ev to b through the state machine and persists the result
// with a compare-and-set on b's current state. b is updated on success.
func fire(ctx context.Context, repo Repository, b *Batch, ev Event, lastError string) error {
	to, err := MayTransition(b.State, ev)
	if err != nil {
		return err
	}
	if err := repo.Transition(ctx, b.ID, b.State, to, lastError); err != nil {
		return err
	}
	metrics.IncBatchTransition(string(ev), string(b.State), string(to))
	b.State = to
	if to == StateError {
		b.LastError = lastError
	}
	return nil
}
