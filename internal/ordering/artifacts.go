package ordering

import (
	"time"

	"enrollsync/internal/notification"
	"enrollsync/internal/policy"
)

// IsRenewalTerminationArtifact reports whether term only closes the prior
// plan year ahead of other: term ends the day before other starts and other
// starts coverage in the plan year right after term's.
func IsRenewalTerminationArtifact(term, other notification.View) bool {
	if !term.IsTermination() || !term.HasEndDate() || !other.IsCoverageStarter() {
		return false
	}
	return term.DayAfterEnd().Equal(other.SubscriberStart) && other.ActiveYear == term.ActiveYear+1
}

// hasPlanYearFor reports whether some plan year covers start, or the one
// before it ended the day before start.
func hasPlanYearFor(years []policy.PlanYear, start time.Time) bool {
	for _, py := range years {
		if py.Covers(start) || py.End.AddDate(0, 0, 1).Equal(start) {
			return true
		}
	}
	return false
}

func hasStarterFor(events []*notification.Event, term *notification.Event) bool {
	id := term.View().HbxEnrollmentID
	for _, e := range events {
		if e == term || e.Dropped() {
			continue
		}
		if v := e.View(); v.HbxEnrollmentID == id && v.IsCoverageStarter() {
			return true
		}
	}
	return false
}
