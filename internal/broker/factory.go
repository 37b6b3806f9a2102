package broker

import (
	"fmt"

	"enrollsync/internal/config"
	"enrollsync/internal/logger"
)

// NewProducer and NewConsumer hide the broker implementation from the
// services. Only kafka is supported.
func NewProducer(cfg config.BrokerConfig, log logger.Logger) (Producer, error) {
	if cfg.Type != "kafka" {
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
	return NewKafkaProducer(cfg.Kafka, log), nil
}

func NewConsumer(cfg config.BrokerConfig, log logger.Logger) (Consumer, error) {
	if cfg.Type != "kafka" {
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
	return NewKafkaConsumer(cfg.Kafka, log), nil
}
