package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enrollsync/internal/notification"
	apperrors "enrollsync/pkg/errors"
)

type countingRepo struct {
	policies  map[string]Policy
	years     map[string][]PlanYear
	findCalls int
	yearCalls int
	err       error
}

func (r *countingRepo) FindPolicy(_ context.Context, id string) (*Policy, error) {
	r.findCalls++
	if r.err != nil {
		return nil, r.err
	}
	p, ok := r.policies[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &p, nil
}

func (r *countingRepo) FindPlanYears(_ context.Context, employerID string) ([]PlanYear, error) {
	r.yearCalls++
	return r.years[employerID], nil
}

func (r *countingRepo) SavePolicy(_ context.Context, p Policy) error {
	r.policies[p.HbxEnrollmentID] = p
	return nil
}

func TestRunCache_MemoizesHitsAndMisses(t *testing.T) {
	repo := &countingRepo{policies: map[string]Policy{"E1": {HbxEnrollmentID: "E1", State: StateSubmitted}}}
	c := NewRunCache(repo)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, err := c.Policy(ctx, "E1")
		require.NoError(t, err)
		require.NotNil(t, p)

		missing, err := c.Policy(ctx, "E404")
		require.NoError(t, err)
		assert.Nil(t, missing)
	}
	assert.Equal(t, 2, repo.findCalls)

	c.Forget("E1")
	_, err := c.Policy(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, 3, repo.findCalls)
}

func TestRunCache_PropagatesErrors(t *testing.T) {
	boom := errors.New("connection refused")
	c := NewRunCache(&countingRepo{err: boom})

	_, err := c.Policy(context.Background(), "E1")
	assert.ErrorIs(t, err, boom)
}

func TestRunCache_PlanYears(t *testing.T) {
	py := PlanYear{EmployerID: "EMP1", Start: notification.Date(2021, time.January, 1), End: notification.Date(2021, time.December, 31)}
	repo := &countingRepo{years: map[string][]PlanYear{"EMP1": {py}}}
	c := NewRunCache(repo)

	for i := 0; i < 2; i++ {
		years, err := c.PlanYears(context.Background(), "EMP1")
		require.NoError(t, err)
		assert.Equal(t, []PlanYear{py}, years)
	}
	assert.Equal(t, 1, repo.yearCalls)
}

func TestPolicy_EndsAfter(t *testing.T) {
	end := notification.Date(2021, time.June, 30)
	p := &Policy{PolicyEnd: &end}

	assert.True(t, p.EndsAfter(notification.Date(2021, time.March, 31)))
	assert.False(t, p.EndsAfter(end))
	assert.False(t, (&Policy{}).EndsAfter(end))
}

func TestPlanYear_Covers(t *testing.T) {
	py := PlanYear{Start: notification.Date(2021, time.July, 1), End: notification.Date(2022, time.June, 30)}

	assert.True(t, py.Covers(py.Start))
	assert.True(t, py.Covers(py.End))
	assert.False(t, py.Covers(notification.Date(2021, time.June, 30)))
}
