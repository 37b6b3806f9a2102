package config_handler

import (
	"context"
	"encoding/json"

	"enrollsync/internal/logger"
	"enrollsync/pkg/models"
)

type RuleReloader interface {
	ReloadRules(ctx context.Context, skipJitter ...bool) error
}

// Handler reloads the action rule table when a config update event for its
// service arrives on the config update topic.
type Handler struct {
	expectedEventType   string
	expectedServiceType string
	reloader            RuleReloader
	logger              logger.Logger
}

func NewHandler(expectedEventType, expectedServiceType string, reloader RuleReloader, log logger.Logger) *Handler {
	return &Handler{
		expectedEventType:   expectedEventType,
		expectedServiceType: expectedServiceType,
		reloader:            reloader,
		logger:              log,
	}
}

// NewRuleHandler is the handler the batch processor subscribes with.
func NewRuleHandler(reloader RuleReloader, log logger.Logger) *Handler {
	return NewHandler(models.EventTypeActionRuleUpdated, models.ServiceTypeResolver, reloader, log)
}

// HandleConfigUpdateEvent ignores events addressed to other services and
// undecodable payloads; only a failed reload is returned to the consumer.
func (h *Handler) HandleConfigUpdateEvent(ctx context.Context, envelope models.MessageEnvelope) error {
	eventType, _ := envelope.Payload["event_type"].(string)
	if eventType == "" {
		h.logger.WarnwCtx(ctx, "Config event missing event_type", "id", envelope.ID)
		return nil
	}
	if eventType != h.expectedEventType {
		return nil
	}

	serviceType, _ := envelope.Payload["service_type"].(string)
	if serviceType == "" {
		h.logger.WarnwCtx(ctx, "Config event missing service_type", "id", envelope.ID)
		return nil
	}
	if serviceType != h.expectedServiceType {
		return nil
	}

	event, err := decodeEvent(envelope.Payload)
	if err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to decode config event", "error", err, "id", envelope.ID)
		return nil
	}

	h.logger.InfowCtx(ctx, "Received config update event",
		"event_type", event.EventType,
		"action", event.Action,
		"rule_id", event.RuleID,
		"changed_by", event.ChangedBy,
	)

	// Every replica receives the event; jitter spreads the Mongo reads.
	if err := h.reloader.ReloadRules(ctx); err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to reload rules after config update", "error", err)
		return err
	}

	h.logger.InfowCtx(ctx, "Rules reloaded after config update", "action", event.Action)
	return nil
}

func decodeEvent(payload map[string]interface{}) (models.ConfigUpdateEvent, error) {
	var event models.ConfigUpdateEvent
	raw, err := json.Marshal(payload)
	if err != nil {
		return event, err
	}
	err = json.Unmarshal(raw, &event)
	return event, err
}
