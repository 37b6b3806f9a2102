package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "enrollsync/pkg/errors"
)

func TestMayTransition_Lifecycle(t *testing.T) {
	state := StateOpen

	steps := []struct {
		event Event
		want  State
	}{
		{EventProcess, StatePendingTransmission},
		{EventException, StateError},
		{EventProcess, StatePendingTransmission},
		{EventTransmit, StateClosed},
	}
	for _, step := range steps {
		next, err := MayTransition(state, step.event)
		require.NoError(t, err, "%s --%s-->", state, step.event)
		assert.Equal(t, step.want, next)
		state = next
	}
}

func TestMayTransition_RejectsEverythingElse(t *testing.T) {
	allowed := map[State]map[Event]bool{
		StateOpen:                {EventProcess: true},
		StateError:               {EventProcess: true},
		StatePendingTransmission: {EventTransmit: true, EventException: true},
	}
	states := []State{StateOpen, StatePendingTransmission, StateClosed, StateError, State("bogus")}
	events := []Event{EventProcess, EventTransmit, EventException, Event("bogus")}

	for _, s := range states {
		for _, ev := range events {
			_, err := MayTransition(s, ev)
			if allowed[s][ev] {
				assert.NoError(t, err, "%s --%s-->", s, ev)
				continue
			}
			assert.ErrorIs(t, err, apperrors.ErrInvalidTransition, "%s --%s--> should be rejected", s, ev)
		}
	}
}

func TestMayProcess(t *testing.T) {
	assert.True(t, MayProcess(Batch{State: StateOpen}))
	assert.False(t, MayProcess(Batch{State: StateOpen, PendingSibling: true}))
	assert.False(t, MayProcess(Batch{State: StateError}))
	assert.False(t, MayProcess(Batch{State: StatePendingTransmission}))
}
