package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"enrollsync/internal/config"
	"enrollsync/internal/constants"
	"enrollsync/internal/logger"
	"enrollsync/pkg/logging"
	"enrollsync/pkg/metrics"
	"enrollsync/pkg/models"
	"enrollsync/pkg/tracing"
)

// KafkaProducer writes envelopes synchronously with acks from all
// in-sync replicas.
type KafkaProducer struct {
	writer *kafka.Writer
	logger logger.Logger
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	return &KafkaProducer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			BatchTimeout:           constants.KafkaBatchTimeout,
			WriteTimeout:           constants.KafkaWriteTimeout,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		logger: log,
	}
}

// Publish keys the record by routing key, falling back to the envelope ID,
// so that everything about one subject lands on one partition.
func (p *KafkaProducer) Publish(ctx context.Context, topic string, msg models.MessageEnvelope) error {
	record, err := encode(ctx, topic, msg)
	if err != nil {
		return err
	}

	service := logging.GetServiceName(ctx)
	start := time.Now()
	err = p.writer.WriteMessages(ctx, record)
	metrics.ObserveKafkaWriteDuration(service, topic, time.Since(start))
	if err != nil {
		return fmt.Errorf("failed to write kafka message to %s: %w", topic, err)
	}

	metrics.IncKafkaMessagesWritten(service, topic)
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// encode turns msg into a Kafka record. Envelope headers become record
// headers and the current trace context is injected last, so it wins over
// any traceparent the envelope carried. An envelope without a trace id
// inherits the one carried by ctx.
func encode(ctx context.Context, topic string, msg models.MessageEnvelope) (kafka.Message, error) {
	if msg.Metadata.TraceID == "" {
		msg.Metadata.TraceID = logging.GetTraceID(ctx)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal message %s: %w", msg.ID, err)
	}

	key := msg.RoutingKey
	if key == "" {
		key = msg.ID
	}

	headers := make([]kafka.Header, 0, len(msg.Headers)+2)
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	return kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   body,
		Headers: tracing.InjectTraceContext(ctx, headers),
		Time:    time.Now(),
	}, nil
}
