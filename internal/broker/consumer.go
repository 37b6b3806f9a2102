package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"enrollsync/internal/config"
	"enrollsync/internal/constants"
	"enrollsync/internal/logger"
	apperrors "enrollsync/pkg/errors"
	"enrollsync/pkg/logging"
	"enrollsync/pkg/metrics"
	"enrollsync/pkg/models"
	"enrollsync/pkg/retry"
	"enrollsync/pkg/tracing"
)

const fetchBackoff = time.Second

// KafkaConsumer handles one message at a time per topic and commits its
// offset only after the handler succeeded, gave up after retries, or the
// message went to the DLQ. Delivery is therefore at-least-once.
type KafkaConsumer struct {
	cfg         config.KafkaConfig
	logger      logger.Logger
	dlq         Producer
	serviceName string

	mu      sync.Mutex
	readers []*kafka.Reader
	wg      sync.WaitGroup
}

// NewKafkaConsumer dead-letters exhausted messages only when cfg names a
// DLQ topic; otherwise they are logged and committed.
func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger) *KafkaConsumer {
	c := &KafkaConsumer{
		cfg:         cfg,
		logger:      log,
		serviceName: "unknown",
	}
	if cfg.DLQTopic != "" {
		c.dlq = NewKafkaProducer(cfg, log)
	}
	return c
}

func (c *KafkaConsumer) SetServiceName(name string) {
	c.serviceName = name
}

// Consume blocks until ctx is canceled. Every call opens its own reader,
// so one consumer can serve several topics.
func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	reader := c.newReader(topic)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.loop(logging.WithServiceName(ctx, c.serviceName), reader, topic, handler)
	}()

	<-ctx.Done()
	return ctx.Err()
}

func (c *KafkaConsumer) newReader(topic string) *kafka.Reader {
	c.logger.Infow("Creating Kafka reader",
		"topic", topic,
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID,
		"service_name", c.serviceName,
	)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.cfg.GroupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	c.mu.Lock()
	c.readers = append(c.readers, reader)
	c.mu.Unlock()
	return reader
}

func (c *KafkaConsumer) loop(ctx context.Context, reader *kafka.Reader, topic string, handler HandlerFunc) {
	c.logger.InfowCtx(ctx, "Started consuming", "topic", topic)

	for {
		m, err := reader.FetchMessage(ctx)
		if ctx.Err() != nil {
			c.logger.InfowCtx(ctx, "Stopped consuming", "topic", topic, "reason", "context canceled")
			return
		}
		if err != nil {
			c.logger.ErrorwCtx(ctx, "Error fetching kafka message", "error", err, "topic", topic)
			time.Sleep(fetchBackoff)
			continue
		}
		metrics.IncKafkaMessagesRead(c.serviceName, topic)

		c.handle(ctx, m, topic, handler)
		c.commit(ctx, reader, m, topic)
	}
}

// handle never returns an error: whatever happens, the caller commits.
func (c *KafkaConsumer) handle(ctx context.Context, m kafka.Message, topic string, handler HandlerFunc) {
	var envelope models.MessageEnvelope
	if err := json.Unmarshal(m.Value, &envelope); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to unmarshal message",
			"error", err,
			"topic", topic,
			"offset", m.Offset,
		)
		return
	}

	ctx, span := tracing.StartSpanFromKafkaMessage(ctx, "kafka.consume "+topic, m.Headers)
	defer span.End()

	if envelope.Metadata.TraceID != "" {
		ctx = logging.WithTraceID(ctx, envelope.Metadata.TraceID)
	}
	ctx = logging.WithMessageID(ctx, envelope.ID)

	err := c.invokeWithRetry(ctx, envelope, handler, topic)
	if err == nil {
		return
	}
	span.RecordError(err)
	c.logger.ErrorwCtx(ctx, "Failed to process message after retries", "error", err, "topic", topic)

	if c.dlq == nil {
		c.logger.WarnwCtx(ctx, "No DLQ configured, committing message to avoid blocking", "topic", topic)
		return
	}
	if err := c.deadLetter(ctx, envelope, err, topic); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to send message to DLQ", "error", err, "topic", topic)
	}
}

func (c *KafkaConsumer) retryPolicy() retry.Policy {
	r := c.cfg.Retry
	return retry.Policy{
		MaxAttempts:     r.MaxAttempts,
		InitialInterval: r.InitialInterval,
		MaxInterval:     r.MaxInterval,
		Multiplier:      r.Multiplier,
		MaxElapsedTime:  r.MaxElapsedTime,
	}.Merge(retry.DefaultPolicy())
}

// invokeWithRetry turns a handler panic into a fatal error so that it is
// dead-lettered without further attempts.
func (c *KafkaConsumer) invokeWithRetry(ctx context.Context, envelope models.MessageEnvelope, handler HandlerFunc, topic string) error {
	policy := c.retryPolicy()

	call := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = apperrors.RecoverPanic(r)
				c.logger.ErrorwCtx(ctx, "Panic recovered during message processing", "error", err, "topic", topic)
			}
		}()
		return handler(ctx, envelope)
	}

	return retry.Do(ctx, policy, call, func(attempt int, err error, next time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(c.serviceName, topic).Inc()
		c.logger.WarnwCtx(ctx, "Retrying message processing",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"next_delay", next,
			"error", err,
			"topic", topic,
		)
	})
}

func (c *KafkaConsumer) deadLetter(ctx context.Context, envelope models.MessageEnvelope, cause error, sourceTopic string) error {
	envelope.Metadata.Retry = deadLetterInfo(envelope.Metadata.Retry, sourceTopic, cause, time.Now().UTC())

	if err := c.dlq.Publish(ctx, c.cfg.DLQTopic, envelope); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	metrics.DLQMessagesTotal.WithLabelValues(c.serviceName, sourceTopic, "max_retries_exceeded").Inc()
	c.logger.InfowCtx(ctx, "Message sent to DLQ",
		"source_topic", sourceTopic,
		"dlq_topic", c.cfg.DLQTopic,
		"attempts", envelope.Metadata.Retry.Attempts,
		"reason", cause.Error(),
	)
	return nil
}

// deadLetterInfo stamps a dead-lettered envelope; Attempts counts how many
// times the same message went through the retry topic.
func deadLetterInfo(prev *models.RetryInfo, sourceTopic string, cause error, now time.Time) *models.RetryInfo {
	attempts := 1
	if prev != nil {
		attempts = prev.Attempts + 1
	}
	return &models.RetryInfo{
		SourceTopic: sourceTopic,
		Reason:      cause.Error(),
		Attempts:    attempts,
		FailedAt:    now,
	}
}

// commit uses a context detached from shutdown; an offset for a handled
// message is still worth saving.
func (c *KafkaConsumer) commit(ctx context.Context, reader *kafka.Reader, m kafka.Message, topic string) {
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.KafkaWriteTimeout)
	defer cancel()
	if err := reader.CommitMessages(commitCtx, m); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to commit message", "error", err, "topic", topic)
	}
}

// Close stops every reader, waits for in-flight handlers and closes the
// DLQ producer. The first error wins.
func (c *KafkaConsumer) Close() error {
	var errs []error

	c.mu.Lock()
	for _, r := range c.readers {
		errs = append(errs, r.Close())
	}
	c.mu.Unlock()

	c.wg.Wait()
	if c.dlq != nil {
		errs = append(errs, c.dlq.Close())
	}

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
