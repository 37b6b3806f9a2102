package notification

import "context"

// Dropper records the terminal outcome of an event that was just dropped.
type Dropper interface {
	Dropped(ctx context.Context, e *Event) error
}

// DropperFunc adapts a function to Dropper.
type DropperFunc func(ctx context.Context, e *Event) error

func (f DropperFunc) Dropped(ctx context.Context, e *Event) error {
	return f(ctx, e)
}

// DropWith marks e with reason and hands it to d. Events that are already
// dropped or settled are left untouched and d is not called.
func DropWith(ctx context.Context, d Dropper, e *Event, reason DropReason) error {
	if !e.Drop(reason) {
		return nil
	}
	return d.Dropped(ctx, e)
}
