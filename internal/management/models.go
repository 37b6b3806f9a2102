package management

import (
	"time"

	"enrollsync/internal/resolver"
)

type CreateRuleRequest struct {
	Name        string        `json:"name" binding:"required"`
	Kind        resolver.Kind `json:"kind" binding:"required"`
	Size        int           `json:"size" binding:"required"`
	Expression  string        `json:"expression" binding:"required"`
	Priority    int           `json:"priority"`
	Enabled     *bool         `json:"enabled"`
	Description string        `json:"description"`
}

type UpdateRuleRequest struct {
	Name        *string        `json:"name"`
	Kind        *resolver.Kind `json:"kind"`
	Size        *int           `json:"size"`
	Expression  *string        `json:"expression"`
	Priority    *int           `json:"priority"`
	Enabled     *bool          `json:"enabled"`
	Description *string        `json:"description"`
}

// RuleChange is one entry of the action rule change log.
type RuleChange struct {
	ID        string                 `json:"id"`
	RuleID    string                 `json:"rule_id"`
	Action    string                 `json:"action"`
	OldValue  map[string]interface{} `json:"old_value,omitempty"`
	NewValue  map[string]interface{} `json:"new_value,omitempty"`
	ChangedBy string                 `json:"changed_by"`
	IPAddress string                 `json:"ip_address,omitempty"`
	ChangedAt time.Time              `json:"changed_at"`
}

type CutResult struct {
	Dispatched int       `json:"dispatched"`
	CutAt      time.Time `json:"cut_at"`
}
