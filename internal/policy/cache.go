package policy

import (
	"context"

	apperrors "enrollsync/pkg/errors"
)

// RunCache memoizes repository reads for the duration of one batch run. It
// is created per run and dropped with it; it is not safe for concurrent use.
type RunCache struct {
	repo      Repository
	policies  map[string]*Policy
	planYears map[string][]PlanYear
}

func NewRunCache(repo Repository) *RunCache {
	return &RunCache{
		repo:      repo,
		policies:  make(map[string]*Policy),
		planYears: make(map[string][]PlanYear),
	}
}

// Policy returns the persisted policy for hbxEnrollmentID, or nil when none
// exists. Misses are cached too.
func (c *RunCache) Policy(ctx context.Context, hbxEnrollmentID string) (*Policy, error) {
	if p, ok := c.policies[hbxEnrollmentID]; ok {
		return p, nil
	}
	p, err := c.repo.FindPolicy(ctx, hbxEnrollmentID)
	if err != nil && !apperrors.IsNotFound(err) {
		return nil, err
	}
	c.policies[hbxEnrollmentID] = p
	return p, nil
}

func (c *RunCache) PlanYears(ctx context.Context, employerID string) ([]PlanYear, error) {
	if years, ok := c.planYears[employerID]; ok {
		return years, nil
	}
	years, err := c.repo.FindPlanYears(ctx, employerID)
	if err != nil {
		return nil, err
	}
	c.planYears[employerID] = years
	return years, nil
}

// Forget drops the cached policy so the next lookup reads the repository.
func (c *RunCache) Forget(hbxEnrollmentID string) {
	delete(c.policies, hbxEnrollmentID)
}

// Save writes p through to the repository and keeps it as the cached value,
// so later events in the same run see the projected state.
func (c *RunCache) Save(ctx context.Context, p Policy) error {
	if err := c.repo.SavePolicy(ctx, p); err != nil {
		return err
	}
	c.policies[p.HbxEnrollmentID] = &p
	return nil
}
