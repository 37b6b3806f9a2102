package notification

import (
	"fmt"
	"time"
)

// BucketID groups notifications that must be ordered relative to each other.
type BucketID struct {
	SubscriberID string
	CoverageType CoverageType
	EmployerID   string
}

func (b BucketID) String() string {
	employer := b.EmployerID
	if employer == "" {
		employer = "ivl"
	}
	return fmt.Sprintf("%s/%s/%s", b.SubscriberID, b.CoverageType, employer)
}

// View is the parsed, immutable form of one enrollment event transaction.
// Dates are calendar dates at UTC midnight.
type View struct {
	TransactionID   string
	BatchID         string
	HbxEnrollmentID string
	SubscriberID    string
	MemberIDs       []string
	ProductID       string
	ActiveYear      int
	CoverageType    CoverageType
	EmployerID      string
	Action          Action
	SubscriberStart time.Time
	SubscriberEnd   *time.Time
	SubmittedAt     time.Time
	Publishable     bool
	Headers         map[string]string
	Body            string
	ReceivedAt      time.Time
}

func (v View) IsShop() bool {
	return v.EmployerID != ""
}

func (v View) IsTermination() bool {
	return v.Action == ActionTerminate
}

// IsCancel reports a termination that ends on the day coverage starts.
func (v View) IsCancel() bool {
	return v.IsTermination() && v.SubscriberEnd != nil && v.SubscriberEnd.Equal(v.SubscriberStart)
}

func (v View) IsCoverageStarter() bool {
	return v.Action.IsCoverageStarter()
}

func (v View) IsPassiveRenewal() bool {
	return v.Action == ActionAutoRenew
}

func (v View) IsSilent() bool {
	return !v.Publishable
}

func (v View) NormalizedAction() Action {
	return v.Action.Normalized()
}

func (v View) BucketID() BucketID {
	return BucketID{
		SubscriberID: v.SubscriberID,
		CoverageType: v.CoverageType,
		EmployerID:   v.EmployerID,
	}
}

func (v View) HasEndDate() bool {
	return v.SubscriberEnd != nil
}

// DayAfterEnd is the first day without coverage; zero when there is no end date.
func (v View) DayAfterEnd() time.Time {
	if v.SubscriberEnd == nil {
		return time.Time{}
	}
	return v.SubscriberEnd.AddDate(0, 0, 1)
}

// Date returns the calendar date y-m-d at UTC midnight.
func Date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Truncate drops the clock component of t, keeping its calendar date.
func Truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	return Date(y, m, d)
}
