package resolver

// DefaultRules is the rule table used when no rules are configured.
func DefaultRules() []Rule {
	rules := []Rule{
		{
			Name:     "plan_change",
			Kind:     KindPlanChange,
			Size:     2,
			Priority: 100,
			Expression: `events[0].is_termination && !events[0].is_cancel && events[1].is_coverage_starter &&
				events[0].enrollment_id != events[1].enrollment_id &&
				events[0].active_year == events[1].active_year &&
				events[1].start == events[0].day_after_end &&
				events[0].product_id != events[1].product_id`,
			Description: "termination followed by a same-year enrollment in another product starting the next day",
		},
		{
			Name:     "change_members",
			Kind:     KindChangeMembers,
			Size:     2,
			Priority: 100,
			Expression: `events[0].is_termination && !events[0].is_cancel && events[1].is_coverage_starter &&
				events[0].enrollment_id != events[1].enrollment_id &&
				events[0].active_year == events[1].active_year &&
				events[1].start == events[0].day_after_end &&
				events[0].product_id == events[1].product_id`,
			Description: "termination followed by a same-product enrollment starting the next day",
		},
		{
			Name:     "active_renewal_replaces_passive",
			Kind:     KindActiveRenew,
			Size:     2,
			Priority: 90,
			Expression: `events[0].action == "auto_renew" && events[1].action == "active_renew" &&
				events[0].active_year == events[1].active_year`,
			Description: "an active renewal supersedes the passive renewal for the same year",
		},
		{
			Name:       "reinstate",
			Kind:       KindReinstate,
			Size:       1,
			Priority:   50,
			Expression: `events[0].action == "reinstate_enrollment"`,
		},
		{
			Name:       "cancel",
			Kind:       KindCancel,
			Size:       1,
			Priority:   40,
			Expression: `events[0].is_cancel`,
		},
		{
			Name:       "terminate",
			Kind:       KindTerminate,
			Size:       1,
			Priority:   30,
			Expression: `events[0].is_termination && events[0].has_end`,
		},
		{
			Name:       "renew",
			Kind:       KindRenew,
			Size:       1,
			Priority:   20,
			Expression: `events[0].action == "auto_renew"`,
		},
		{
			Name:       "active_renew",
			Kind:       KindActiveRenew,
			Size:       1,
			Priority:   20,
			Expression: `events[0].action == "active_renew"`,
		},
		{
			Name:       "add",
			Kind:       KindAdd,
			Size:       1,
			Priority:   20,
			Expression: `events[0].action == "initial"`,
		},
		{
			Name:       "product_change",
			Kind:       KindPlanChange,
			Size:       1,
			Priority:   10,
			Expression: `events[0].action == "change_product"`,
		},
		{
			Name:     "member_change",
			Kind:     KindChangeMembers,
			Size:     1,
			Priority: 10,
			Expression: `events[0].action in ["change_member_add", "change_member_terminate",
				"change_relationship", "change_financial_assistance"]`,
		},
	}
	for i := range rules {
		rules[i].Enabled = true
	}
	return rules
}
