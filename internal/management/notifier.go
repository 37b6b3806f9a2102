package management

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"enrollsync/internal/broker"
	"enrollsync/internal/constants"
	"enrollsync/pkg/models"
)

// ConfigEventProducer tells the batch processors that the action rule table
// changed. A nil producer or an empty topic disables it.
type ConfigEventProducer struct {
	producer broker.Producer
	topic    string
}

func NewConfigEventProducer(producer broker.Producer, topic string) *ConfigEventProducer {
	return &ConfigEventProducer{
		producer: producer,
		topic:    topic,
	}
}

func (p *ConfigEventProducer) PublishActionRuleEvent(ctx context.Context, action, ruleID, changedBy string) error {
	event := models.ConfigUpdateEvent{
		EventType:   models.EventTypeActionRuleUpdated,
		ServiceType: models.ServiceTypeResolver,
		RuleID:      ruleID,
		Action:      action,
		Timestamp:   time.Now().UTC(),
		ChangedBy:   changedBy,
	}
	return p.publishEvent(ctx, event)
}

func (p *ConfigEventProducer) publishEvent(ctx context.Context, event models.ConfigUpdateEvent) error {
	if p == nil || p.producer == nil || p.topic == "" {
		return nil
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal config event: %w", err)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(eventJSON, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal event data: %w", err)
	}

	envelope := models.NewMessageEnvelopeBuilder().
		WithSource(constants.ServiceManagement).
		WithRoutingKey(event.ServiceType).
		WithPayload(payload).
		Build()

	return p.producer.Publish(ctx, p.topic, envelope)
}
