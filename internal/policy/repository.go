package policy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"enrollsync/internal/notification"
	apperrors "enrollsync/pkg/errors"
	"enrollsync/pkg/metrics"
)

type Repository interface {
	FindPolicy(ctx context.Context, hbxEnrollmentID string) (*Policy, error)
	FindPlanYears(ctx context.Context, employerID string) ([]PlanYear, error)
	SavePolicy(ctx context.Context, p Policy) error
}

type PostgresRepository struct {
	db      *sql.DB
	service string
}

func NewRepository(db *sql.DB, service string) *PostgresRepository {
	return &PostgresRepository{db: db, service: service}
}

func (r *PostgresRepository) FindPolicy(ctx context.Context, hbxEnrollmentID string) (*Policy, error) {
	query := `
		SELECT hbx_enrollment_id, subscriber_id, employer_id, coverage_type, product_id,
		       state, policy_start, policy_end, carrier_terminated_on, updated_at
		FROM policies
		WHERE hbx_enrollment_id = $1
	`

	start := time.Now()
	var (
		p                  Policy
		coverage, state    string
		end, carrierTermed sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, hbxEnrollmentID).Scan(
		&p.HbxEnrollmentID,
		&p.SubscriberID,
		&p.EmployerID,
		&coverage,
		&p.ProductID,
		&state,
		&p.PolicyStart,
		&end,
		&carrierTermed,
		&p.UpdatedAt,
	)
	r.observe("find_policy", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound.WithDetail("hbx_enrollment_id", hbxEnrollmentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query policy %s: %w", hbxEnrollmentID, err)
	}

	p.CoverageType = notification.CoverageType(coverage)
	p.State = State(state)
	p.PolicyStart = notification.Truncate(p.PolicyStart)
	p.PolicyEnd = nullDate(end)
	p.CarrierTerminatedOn = nullDate(carrierTermed)
	return &p, nil
}

func (r *PostgresRepository) FindPlanYears(ctx context.Context, employerID string) ([]PlanYear, error) {
	query := `
		SELECT id, employer_id, start_date, end_date
		FROM employer_plan_years
		WHERE employer_id = $1
		ORDER BY start_date ASC
	`

	start := time.Now()
	rows, err := r.db.QueryContext(ctx, query, employerID)
	r.observe("find_plan_years", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query plan years: %w", err)
	}
	defer rows.Close()

	var years []PlanYear
	for rows.Next() {
		var py PlanYear
		if err := rows.Scan(&py.ID, &py.EmployerID, &py.Start, &py.End); err != nil {
			return nil, fmt.Errorf("failed to scan plan year: %w", err)
		}
		py.Start = notification.Truncate(py.Start)
		py.End = notification.Truncate(py.End)
		years = append(years, py)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return years, nil
}

// SavePolicy inserts p or overwrites the row with the same enrollment id.
// The carrier termination date is owned by the carrier feed and kept.
func (r *PostgresRepository) SavePolicy(ctx context.Context, p Policy) error {
	query := `
		INSERT INTO policies (hbx_enrollment_id, subscriber_id, employer_id, coverage_type,
		                      product_id, state, policy_start, policy_end, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (hbx_enrollment_id) DO UPDATE SET
			subscriber_id = EXCLUDED.subscriber_id,
			employer_id = EXCLUDED.employer_id,
			coverage_type = EXCLUDED.coverage_type,
			product_id = EXCLUDED.product_id,
			state = EXCLUDED.state,
			policy_start = EXCLUDED.policy_start,
			policy_end = EXCLUDED.policy_end,
			updated_at = NOW()
	`

	var end sql.NullTime
	if p.PolicyEnd != nil {
		end = sql.NullTime{Time: *p.PolicyEnd, Valid: true}
	}

	start := time.Now()
	_, err := r.db.ExecContext(ctx, query,
		p.HbxEnrollmentID,
		p.SubscriberID,
		p.EmployerID,
		string(p.CoverageType),
		p.ProductID,
		string(p.State),
		p.PolicyStart,
		end,
	)
	r.observe("save_policy", start, err)
	if err != nil {
		return fmt.Errorf("failed to save policy %s: %w", p.HbxEnrollmentID, err)
	}
	return nil
}

func (r *PostgresRepository) observe(operation string, start time.Time, err error) {
	metrics.ObservePostgresQuery(r.service, operation, start, err)
}

func nullDate(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	d := notification.Truncate(t.Time)
	return &d
}
