package broker

import (
	"context"
	"fmt"
	"time"

	"enrollsync/internal/config"
	"enrollsync/internal/constants"
	"enrollsync/internal/logger"
	"enrollsync/pkg/metrics"
	"enrollsync/pkg/models"
)

// Requeuer drains the retry topic and puts each message back on the topic it
// failed on once RequeueDelay has passed since the failure.
type Requeuer struct {
	consumer    Consumer
	producer    Producer
	topic       string
	delay       time.Duration
	maxRequeues int
	logger      logger.Logger
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewRequeuer(consumer Consumer, producer Producer, cfg config.KafkaConfig, log logger.Logger) *Requeuer {
	delay := cfg.RequeueDelay
	if delay <= 0 {
		delay = constants.DefaultRequeueDelay
	}
	return &Requeuer{
		consumer:    consumer,
		producer:    producer,
		topic:       cfg.DLQTopic,
		delay:       delay,
		maxRequeues: cfg.MaxRequeues,
		logger:      log,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

func (r *Requeuer) Run(ctx context.Context) error {
	if r.topic == "" {
		return fmt.Errorf("requeuer needs a dlq topic")
	}
	return r.consumer.Consume(ctx, r.topic, r.handle)
}

func (r *Requeuer) handle(ctx context.Context, msg models.MessageEnvelope) error {
	info := msg.Metadata.Retry
	if info == nil || info.SourceTopic == "" {
		r.logger.WarnwCtx(ctx, "Dropping retry message without a source topic",
			"message_id", msg.ID,
		)
		return nil
	}

	if r.maxRequeues > 0 && info.Attempts > r.maxRequeues {
		metrics.DLQMessagesTotal.WithLabelValues("requeuer", info.SourceTopic, "requeue_exhausted").Inc()
		r.logger.ErrorwCtx(ctx, "Giving up on message after repeated failures",
			"message_id", msg.ID,
			"source_topic", info.SourceTopic,
			"attempts", info.Attempts,
			"reason", info.Reason,
		)
		return nil
	}

	if wait := info.FailedAt.Add(r.delay).Sub(r.now()); wait > 0 {
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}

	if err := r.producer.Publish(ctx, info.SourceTopic, msg); err != nil {
		return fmt.Errorf("requeue to %s: %w", info.SourceTopic, err)
	}

	metrics.RequeuedMessagesTotal.WithLabelValues("requeuer", info.SourceTopic).Inc()
	r.logger.InfowCtx(ctx, "Requeued message",
		"message_id", msg.ID,
		"source_topic", info.SourceTopic,
		"attempts", info.Attempts,
	)
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
