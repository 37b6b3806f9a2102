package models

import "time"

// ConfigUpdateEvent is published on the config update topic whenever the
// management service changes a rule table. Consumers filter on EventType
// and ServiceType before acting.
type ConfigUpdateEvent struct {
	EventType   string                 `json:"event_type"`
	ServiceType string                 `json:"service_type"`
	RuleID      string                 `json:"rule_id,omitempty"`
	Action      string                 `json:"action"`
	Timestamp   time.Time              `json:"timestamp"`
	ChangedBy   string                 `json:"changed_by,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

const (
	EventTypeActionRuleUpdated = "action_rule_updated"
	ServiceTypeResolver        = "resolver"
)

// Action values of a ConfigUpdateEvent.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionToggle = "toggle"
	ActionReload = "reload"
)
