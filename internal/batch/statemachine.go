package batch

import (
	"fmt"

	apperrors "enrollsync/pkg/errors"
)

var transitions = map[State]map[Event]State{
	StateOpen:                {EventProcess: StatePendingTransmission},
	StateError:               {EventProcess: StatePendingTransmission},
	StatePendingTransmission: {EventTransmit: StateClosed, EventException: StateError},
}

// MayTransition returns the state reached by firing ev in from.
func MayTransition(from State, ev Event) (State, error) {
	if to, ok := transitions[from][ev]; ok {
		return to, nil
	}
	return "", apperrors.ErrInvalidTransition.
		WithDetail("from", string(from)).
		WithDetail("event", string(ev)).
		WithCause(fmt.Errorf("no %s transition from %s", ev, from))
}

// MayProcess reports whether b can be handed to the processor now.
func MayProcess(b Batch) bool {
	return b.State == StateOpen && !b.PendingSibling
}
