package management

import (
	"fmt"

	"enrollsync/internal/batch"
	"enrollsync/internal/resolver"
	pkgerrors "enrollsync/pkg/errors"
)

func ruleFromRequest(req CreateRuleRequest) resolver.Rule {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return resolver.Rule{
		Name:        req.Name,
		Kind:        req.Kind,
		Size:        req.Size,
		Expression:  req.Expression,
		Priority:    req.Priority,
		Enabled:     enabled,
		Description: req.Description,
	}
}

func applyUpdate(rule *resolver.Rule, req UpdateRuleRequest) {
	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Kind != nil {
		rule.Kind = *req.Kind
	}
	if req.Size != nil {
		rule.Size = *req.Size
	}
	if req.Expression != nil {
		rule.Expression = *req.Expression
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if req.Description != nil {
		rule.Description = *req.Description
	}
}

var listableStates = map[batch.State]bool{
	batch.StateOpen:                true,
	batch.StatePendingTransmission: true,
	batch.StateClosed:              true,
	batch.StateError:               true,
}

func validateBatchState(s string) (batch.State, error) {
	if s == "" {
		return "", nil
	}
	state := batch.State(s)
	if !listableStates[state] {
		return "", pkgerrors.ErrValidation.WithDetail("message", fmt.Sprintf("unknown batch state %q", s))
	}
	return state, nil
}
