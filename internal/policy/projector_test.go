package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enrollsync/internal/notification"
	nt "enrollsync/internal/notification/notificationtest"
)

func TestProject(t *testing.T) {
	now := time.Date(2021, time.March, 1, 0, 0, 0, 0, time.UTC)
	end := notification.Date(2021, time.June, 30)

	t.Run("starter creates a submitted policy", func(t *testing.T) {
		p := Project(nil, nt.View(nt.WithProduct("P9")), now)
		assert.Equal(t, StateSubmitted, p.State)
		assert.Equal(t, "P9", p.ProductID)
		assert.Nil(t, p.PolicyEnd)
		assert.Equal(t, now, p.UpdatedAt)
	})

	t.Run("termination keeps product and start", func(t *testing.T) {
		current := &Policy{HbxEnrollmentID: "E1", ProductID: "P1", State: StateSubmitted,
			PolicyStart: notification.Date(2021, time.January, 1)}
		p := Project(current, nt.View(append(nt.Term("E1", 2021, time.June, 30), nt.WithProduct("P2"))...), now)
		assert.Equal(t, StateTerminated, p.State)
		assert.Equal(t, "P1", p.ProductID)
		require.NotNil(t, p.PolicyEnd)
		assert.True(t, p.PolicyEnd.Equal(end))
		assert.Equal(t, StateSubmitted, current.State)
	})

	t.Run("cancel", func(t *testing.T) {
		p := Project(nil, nt.View(nt.Term("E1", 2021, time.January, 1)...), now)
		assert.True(t, p.IsCanceled())
	})

	t.Run("reinstate reopens", func(t *testing.T) {
		current := &Policy{HbxEnrollmentID: "E1", State: StateTerminated, PolicyEnd: &end}
		p := Project(current, nt.View(nt.WithAction(notification.ActionReinstate)), now)
		assert.Equal(t, StateSubmitted, p.State)
		assert.Nil(t, p.PolicyEnd)
	})
}

func TestProjector_ApplyWritesThroughCache(t *testing.T) {
	repo := &countingRepo{policies: map[string]Policy{}}
	cache := NewRunCache(repo)
	ctx := context.Background()

	events := []*notification.Event{
		nt.Event(0),
		nt.Event(1, nt.Term("E1", 2021, time.June, 30)...),
	}
	require.NoError(t, NewProjector(cache).Apply(ctx, events))

	assert.Equal(t, StateTerminated, repo.policies["E1"].State)
	p, err := cache.Policy(ctx, "E1")
	require.NoError(t, err)
	assert.True(t, p.IsTerminated())
	assert.Equal(t, 1, repo.findCalls)
}
