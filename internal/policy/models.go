package policy

import (
	"time"

	"enrollsync/internal/notification"
)

type State string

const (
	StateSubmitted  State = "submitted"
	StateTerminated State = "terminated"
	StateCanceled   State = "canceled"
)

// Policy is the persisted read model of one enrollment.
type Policy struct {
	HbxEnrollmentID     string
	SubscriberID        string
	EmployerID          string
	CoverageType        notification.CoverageType
	ProductID           string
	State               State
	PolicyStart         time.Time
	PolicyEnd           *time.Time
	CarrierTerminatedOn *time.Time
	UpdatedAt           time.Time
}

func (p *Policy) IsCanceled() bool {
	return p.State == StateCanceled
}

func (p *Policy) IsTerminated() bool {
	return p.State == StateTerminated
}

// EndsAfter reports whether the policy has an end date later than end, i.e.
// a termination ending on end would shorten the coverage.
func (p *Policy) EndsAfter(end time.Time) bool {
	return p.PolicyEnd != nil && end.Before(*p.PolicyEnd)
}

// PlanYear is one employer-sponsored coverage period; both dates inclusive.
type PlanYear struct {
	ID         int64
	EmployerID string
	Start      time.Time
	End        time.Time
}

func (py PlanYear) Covers(d time.Time) bool {
	return !d.Before(py.Start) && !d.After(py.End)
}
