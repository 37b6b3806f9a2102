package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enrollsync/internal/config"
	"enrollsync/internal/logger"
	"enrollsync/pkg/models"
)

type recordingProducer struct {
	mu     sync.Mutex
	topics []string
	sent   []models.MessageEnvelope
	err    error
}

func (p *recordingProducer) Publish(_ context.Context, topic string, msg models.MessageEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.sent = append(p.sent, msg)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func newTestRequeuer(p Producer, now time.Time) (*Requeuer, *[]time.Duration) {
	r := NewRequeuer(nil, p, config.KafkaConfig{
		DLQTopic:     "enrollment-retry",
		RequeueDelay: 30 * time.Second,
		MaxRequeues:  3,
	}, logger.NopLogger())
	var waits []time.Duration
	r.now = func() time.Time { return now }
	r.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return r, &waits
}

func retryEnvelope(source string, attempts int, failedAt time.Time) models.MessageEnvelope {
	msg := models.NewMessageEnvelopeBuilder().WithSource("batch-processor").Build()
	msg.Metadata.Retry = &models.RetryInfo{
		SourceTopic: source,
		Reason:      "boom",
		Attempts:    attempts,
		FailedAt:    failedAt,
	}
	return msg
}

func TestRequeuer_WaitsOutTheDelay(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	p := &recordingProducer{}
	r, waits := newTestRequeuer(p, now)

	require.NoError(t, r.handle(context.Background(), retryEnvelope("batch-process", 1, now.Add(-10*time.Second))))

	assert.Equal(t, []time.Duration{20 * time.Second}, *waits)
	assert.Equal(t, []string{"batch-process"}, p.topics)
	assert.Equal(t, 1, p.sent[0].Metadata.Retry.Attempts)
}

func TestRequeuer_OverdueMessageIsRepublishedAtOnce(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	p := &recordingProducer{}
	r, waits := newTestRequeuer(p, now)

	require.NoError(t, r.handle(context.Background(), retryEnvelope("enrollment-events", 2, now.Add(-time.Hour))))
	assert.Empty(t, *waits)
	assert.Equal(t, []string{"enrollment-events"}, p.topics)
}

func TestRequeuer_DropsExhaustedAndUnroutable(t *testing.T) {
	now := time.Now()
	p := &recordingProducer{}
	r, _ := newTestRequeuer(p, now)

	require.NoError(t, r.handle(context.Background(), retryEnvelope("batch-process", 4, now)))
	require.NoError(t, r.handle(context.Background(), models.NewMessageEnvelopeBuilder().Build()))
	assert.Empty(t, p.sent)
}

func TestRequeuer_PublishErrorIsReturned(t *testing.T) {
	now := time.Now()
	boom := errors.New("broker down")
	r, _ := newTestRequeuer(&recordingProducer{err: boom}, now)

	err := r.handle(context.Background(), retryEnvelope("batch-process", 1, now.Add(-time.Minute)))
	assert.ErrorIs(t, err, boom)
}

func TestDeadLetterInfo_CountsAttempts(t *testing.T) {
	now := time.Now()
	first := deadLetterInfo(nil, "batch-process", errors.New("x"), now)
	assert.Equal(t, 1, first.Attempts)
	assert.Equal(t, "batch-process", first.SourceTopic)

	second := deadLetterInfo(first, "batch-process", errors.New("y"), now)
	assert.Equal(t, 2, second.Attempts)
	assert.Equal(t, "y", second.Reason)
}

func TestKafkaConsumer_RetryPolicyDefaults(t *testing.T) {
	c := NewKafkaConsumer(config.KafkaConfig{Retry: config.RetryConfig{MaxAttempts: 5}}, logger.NopLogger())
	p := c.retryPolicy()
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, time.Second, p.InitialInterval)
	assert.Nil(t, c.dlq)
}
