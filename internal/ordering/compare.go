package ordering

import "enrollsync/internal/notification"

// Compare reports whether a must precede b (-1), follow it (+1) or whether
// the two are unordered (0). Rules are tried in order and the first that
// separates the events decides:
//
//  1. on the same enrollment a termination follows a coverage starter
//  2. earlier plan year first
//  3. earlier submission first
//  4. earlier subscriber start first
//  5. a set end date before an open end, otherwise earlier end first
func Compare(a, b notification.View) int {
	if a.HbxEnrollmentID == b.HbxEnrollmentID {
		switch {
		case a.IsTermination() && b.IsCoverageStarter():
			return 1
		case a.IsCoverageStarter() && b.IsTermination():
			return -1
		}
	}

	if c := compareInt(a.ActiveYear, b.ActiveYear); c != 0 {
		return c
	}
	if c := a.SubmittedAt.Compare(b.SubmittedAt); c != 0 {
		return c
	}
	if c := a.SubscriberStart.Compare(b.SubscriberStart); c != 0 {
		return c
	}

	switch {
	case a.SubscriberEnd == nil && b.SubscriberEnd == nil:
		return 0
	case a.SubscriberEnd == nil:
		return 1
	case b.SubscriberEnd == nil:
		return -1
	default:
		return a.SubscriberEnd.Compare(*b.SubscriberEnd)
	}
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
