package resolver

import (
	"enrollsync/internal/notification"
)

const factDateLayout = "2006-01-02"

// Facts exposes the derived facts of v to rule expressions. Dates are
// ISO-8601 strings so that they compare correctly as strings; a missing end
// date is the empty string.
func Facts(v notification.View) map[string]interface{} {
	end, dayAfterEnd := "", ""
	if v.SubscriberEnd != nil {
		end = v.SubscriberEnd.Format(factDateLayout)
		dayAfterEnd = v.DayAfterEnd().Format(factDateLayout)
	}

	return map[string]interface{}{
		"enrollment_id":       v.HbxEnrollmentID,
		"subscriber_id":       v.SubscriberID,
		"product_id":          v.ProductID,
		"coverage_type":       string(v.CoverageType),
		"employer_id":         v.EmployerID,
		"action":              v.Action.Name(),
		"action_uri":          string(v.Action),
		"active_year":         int64(v.ActiveYear),
		"start":               v.SubscriberStart.Format(factDateLayout),
		"end":                 end,
		"day_after_end":       dayAfterEnd,
		"has_end":             v.HasEndDate(),
		"member_count":        int64(len(v.MemberIDs)),
		"is_shop":             v.IsShop(),
		"is_termination":      v.IsTermination(),
		"is_cancel":           v.IsCancel(),
		"is_coverage_starter": v.IsCoverageStarter(),
		"is_passive_renewal":  v.IsPassiveRenewal(),
		"is_silent":           v.IsSilent(),
	}
}
