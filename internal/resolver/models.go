package resolver

import (
	"time"

	"enrollsync/internal/notification"
)

// Kind is the business operation an action performs on a policy.
type Kind string

const (
	KindAdd           Kind = "add"
	KindTerminate     Kind = "terminate"
	KindCancel        Kind = "cancel"
	KindReinstate     Kind = "reinstate"
	KindPlanChange    Kind = "plan_change"
	KindChangeMembers Kind = "change_members"
	KindRenew         Kind = "renew"
	KindActiveRenew   Kind = "active_renew"
)

var kinds = map[Kind]bool{
	KindAdd:           true,
	KindTerminate:     true,
	KindCancel:        true,
	KindReinstate:     true,
	KindPlanChange:    true,
	KindChangeMembers: true,
	KindRenew:         true,
	KindActiveRenew:   true,
}

func (k Kind) Valid() bool {
	return kinds[k]
}

// MaxRuleSize is the widest window a rule may inspect.
const MaxRuleSize = 3

// Rule matches the first Size events of a window with a CEL expression.
type Rule struct {
	ID          string    `json:"id" bson:"_id,omitempty"`
	Name        string    `json:"name" bson:"name"`
	Kind        Kind      `json:"kind" bson:"kind"`
	Size        int       `json:"size" bson:"size"`
	Expression  string    `json:"expression" bson:"expression"`
	Priority    int       `json:"priority" bson:"priority"`
	Enabled     bool      `json:"enabled" bson:"enabled"`
	Description string    `json:"description,omitempty" bson:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" bson:"updated_at"`
}

// Action is one resolved enrollment operation together with the events it
// consumed.
type Action struct {
	ID              string                    `json:"id"`
	Kind            Kind                      `json:"kind"`
	Rule            string                    `json:"rule"`
	HbxEnrollmentID string                    `json:"hbx_enrollment_id"`
	SubscriberID    string                    `json:"subscriber_id"`
	CoverageType    notification.CoverageType `json:"coverage_type"`
	EmployerID      string                    `json:"employer_id,omitempty"`
	TransactionIDs  []string                  `json:"transaction_ids"`
	ResolvedAt      time.Time                 `json:"resolved_at"`

	Events []*notification.Event `json:"-"`
}

// UnresolvedReason explains why an event produced no action.
type UnresolvedReason int

const (
	NoEventFound UnresolvedReason = iota + 1
	NotYetImplemented
)

func (r UnresolvedReason) String() string {
	switch r {
	case NoEventFound:
		return "no_event_found"
	case NotYetImplemented:
		return "not_yet_implemented"
	default:
		return "unknown"
	}
}

// Result is either a resolved Action or an unresolved event with a reason.
type Result struct {
	Action     *Action
	Unresolved *notification.Event
	Reason     UnresolvedReason
}
