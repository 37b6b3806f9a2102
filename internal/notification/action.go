package notification

import "strings"

const ActionPrefix = "urn:openhbx:terms:v1:enrollment#"

// Action is an enrollment action URI.
type Action string

const (
	ActionInitial                   Action = ActionPrefix + "initial"
	ActionAutoRenew                 Action = ActionPrefix + "auto_renew"
	ActionActiveRenew               Action = ActionPrefix + "active_renew"
	ActionTerminate                 Action = ActionPrefix + "terminate_enrollment"
	ActionReinstate                 Action = ActionPrefix + "reinstate_enrollment"
	ActionChangeProduct             Action = ActionPrefix + "change_product"
	ActionChangeMemberAdd           Action = ActionPrefix + "change_member_add"
	ActionChangeMemberTerminate     Action = ActionPrefix + "change_member_terminate"
	ActionChangeRelationship        Action = ActionPrefix + "change_relationship"
	ActionChangeFinancialAssistance Action = ActionPrefix + "change_financial_assistance"
)

// Name returns the fragment after '#', e.g. "auto_renew".
func (a Action) Name() string {
	s := string(a)
	if i := strings.LastIndexByte(s, '#'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func (a Action) Known() bool {
	switch a {
	case ActionInitial, ActionAutoRenew, ActionActiveRenew, ActionTerminate, ActionReinstate,
		ActionChangeProduct, ActionChangeMemberAdd, ActionChangeMemberTerminate,
		ActionChangeRelationship, ActionChangeFinancialAssistance:
		return true
	}
	return false
}

func (a Action) IsCoverageStarter() bool {
	return a == ActionInitial || a == ActionAutoRenew || a == ActionActiveRenew
}

// Normalized collapses every coverage starter to ActionInitial so that
// duplicate detection treats them as the same action.
func (a Action) Normalized() Action {
	if a.IsCoverageStarter() {
		return ActionInitial
	}
	return a
}

// ParseAction accepts either a full URI or the bare fragment.
func ParseAction(s string) Action {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "#") {
		return Action(s)
	}
	return Action(ActionPrefix + s)
}

type CoverageType string

const (
	CoverageHealth CoverageType = "health"
	CoverageDental CoverageType = "dental"
)

func (c CoverageType) Valid() bool {
	return c == CoverageHealth || c == CoverageDental
}
