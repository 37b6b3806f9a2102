package policy

import (
	"context"
	"fmt"

	"enrollsync/internal/config"
	"enrollsync/pkg/circuitbreaker"
	apperrors "enrollsync/pkg/errors"
)

// CircuitBreakerRepository guards the read paths of a Repository. Writes go
// straight through since a rejected write must surface as a persist failure.
type CircuitBreakerRepository struct {
	repo Repository
	cb   *circuitbreaker.Breaker
}

func NewCircuitBreakerRepository(repo Repository, cfg config.CircuitBreakerConfig) Repository {
	if !cfg.Enabled {
		return repo
	}

	return &CircuitBreakerRepository{
		repo: repo,
		cb: circuitbreaker.New("postgres-policies", circuitbreaker.Settings{
			MaxRequests:  cfg.MaxRequests,
			Interval:     cfg.Interval,
			Timeout:      cfg.Timeout,
			FailureRatio: cfg.FailureRatio,
			MinRequests:  cfg.MinRequests,
		}),
	}
}

// FindPolicy does not count a missing policy as a breaker failure.
func (r *CircuitBreakerRepository) FindPolicy(ctx context.Context, hbxEnrollmentID string) (*Policy, error) {
	var notFound error
	p, err := circuitbreaker.Do(ctx, r.cb, func() (*Policy, error) {
		p, err := r.repo.FindPolicy(ctx, hbxEnrollmentID)
		if apperrors.IsNotFound(err) {
			notFound = err
			return nil, nil
		}
		return p, err
	})
	if err != nil {
		return nil, r.wrap(err)
	}
	if notFound != nil {
		return nil, notFound
	}
	return p, nil
}

func (r *CircuitBreakerRepository) FindPlanYears(ctx context.Context, employerID string) ([]PlanYear, error) {
	years, err := circuitbreaker.Do(ctx, r.cb, func() ([]PlanYear, error) {
		return r.repo.FindPlanYears(ctx, employerID)
	})
	if err != nil {
		return nil, r.wrap(err)
	}
	return years, nil
}

func (r *CircuitBreakerRepository) SavePolicy(ctx context.Context, p Policy) error {
	return r.repo.SavePolicy(ctx, p)
}

func (r *CircuitBreakerRepository) State() string {
	return r.cb.State().String()
}

func (r *CircuitBreakerRepository) wrap(err error) error {
	if r.cb.IsOpen() {
		return fmt.Errorf("circuit breaker is open for %s: %w", r.cb.Name(), err)
	}
	return err
}
