package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enrollsync/internal/logger"
	"enrollsync/internal/notification"
	nt "enrollsync/internal/notification/notificationtest"
	apperrors "enrollsync/pkg/errors"
	"enrollsync/pkg/models"
)

type recordingDropper struct {
	events []*notification.Event
}

func (d *recordingDropper) Dropped(_ context.Context, e *notification.Event) error {
	d.events = append(d.events, e)
	return nil
}

func eventMessage(id string, opts ...nt.Option) models.MessageEnvelope {
	return models.NewMessageEnvelopeBuilder().
		WithID(id).
		WithSource("enroll").
		WithBody(nt.XML(nt.View(opts...))).
		Build()
}

func TestIntake_FilesEventsByKey(t *testing.T) {
	repo := newMemoryRepo()
	dropper := &recordingDropper{}
	intake := NewIntakeService(repo, dropper, logger.NopLogger())
	ctx := context.Background()

	require.NoError(t, intake.Accept(ctx, eventMessage("m1")))
	require.NoError(t, intake.Accept(ctx, eventMessage("m2", nt.Term("E1", 2021, time.March, 31)...)))
	require.NoError(t, intake.Accept(ctx, eventMessage("m1")))
	require.NoError(t, intake.Accept(ctx, eventMessage("m3", nt.WithCoverage(notification.CoverageDental))))

	open, err := repo.ListOpen(ctx, 0)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, Key{SubscriberID: "S1", BenefitKind: notification.CoverageHealth}, open[0].Key)
	assert.Equal(t, 2, open[0].TransactionCount)
	assert.Equal(t, notification.CoverageDental, open[1].Key.BenefitKind)
	assert.Empty(t, dropper.events)
}

func TestIntake_MalformedGoesStraightToOutcome(t *testing.T) {
	repo := newMemoryRepo()
	dropper := &recordingDropper{}
	intake := NewIntakeService(repo, dropper, logger.NopLogger())

	msg := models.NewMessageEnvelopeBuilder().WithSource("enroll").WithBody("<enrollment_event>").Build()
	require.NoError(t, intake.Accept(context.Background(), msg))

	require.Len(t, dropper.events, 1)
	assert.Equal(t, notification.DropMalformed, dropper.events[0].DropReason())
	assert.Empty(t, repo.batches)
}

func TestIntake_RedeliveredMalformedKeepsItsKey(t *testing.T) {
	dropper := &recordingDropper{}
	intake := NewIntakeService(newMemoryRepo(), dropper, logger.NopLogger())

	msg := models.NewMessageEnvelopeBuilder().WithID("m-bad").WithSource("enroll").WithBody("<enrollment_event>").Build()
	other := models.NewMessageEnvelopeBuilder().WithID("m-other").WithSource("enroll").WithBody("<enrollment_event>").Build()
	require.NoError(t, intake.Accept(context.Background(), msg))
	require.NoError(t, intake.Accept(context.Background(), msg))
	require.NoError(t, intake.Accept(context.Background(), other))

	require.Len(t, dropper.events, 3)
	first := dropper.events[0].View().TransactionID
	require.NotEmpty(t, first)
	assert.Equal(t, first, dropper.events[1].View().TransactionID)
	assert.NotEqual(t, first, dropper.events[2].View().TransactionID)
}

func TestIntake_StorageErrorIsReturned(t *testing.T) {
	repo := newMemoryRepo()
	repo.appendErr = errors.New("connection reset")
	intake := NewIntakeService(repo, &recordingDropper{}, logger.NopLogger())

	err := intake.Accept(context.Background(), eventMessage("m1"))
	assert.ErrorIs(t, err, repo.appendErr)
}

func TestCut_DispatchesOpenBatchesWithoutPendingSibling(t *testing.T) {
	repo := newMemoryRepo()
	key := Key{SubscriberID: "S1", BenefitKind: notification.CoverageHealth}
	repo.add(Batch{ID: "pending", Key: key, State: StatePendingTransmission})
	repo.add(Batch{ID: "blocked", Key: key, State: StateOpen})
	repo.add(Batch{ID: "free", Key: Key{SubscriberID: "S2", BenefitKind: notification.CoverageHealth}, State: StateOpen})
	producer := &memoryProducer{}

	cut := NewCutService(repo, producer, "batch-process", 0, "test", logger.NopLogger())
	n, err := cut.Cut(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.Equal(t, StateOpen, repo.state("blocked"))
	assert.Equal(t, StatePendingTransmission, repo.state("free"))
	require.Len(t, producer.sent, 1)
	assert.Equal(t, "batch-process", producer.topics[0])
	assert.Equal(t, "free", ProcessBatchID(producer.sent[0]))
	assert.Equal(t, "S2/health/", producer.sent[0].RoutingKey)
}

func TestCut_PublishFailureMovesBatchToError(t *testing.T) {
	repo := newMemoryRepo()
	repo.add(Batch{ID: "b1", Key: Key{SubscriberID: "S1"}, State: StateOpen})
	producer := &memoryProducer{err: errors.New("kafka down")}

	n, err := NewCutService(repo, producer, "batch-process", 0, "test", logger.NopLogger()).Cut(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, StateError, repo.state("b1"))
	assert.Contains(t, repo.batches["b1"].LastError, "kafka down")
}

func TestRetrigger(t *testing.T) {
	repo := newMemoryRepo()
	repo.add(Batch{ID: "failed", Key: Key{SubscriberID: "S1"}, State: StateError})
	repo.add(Batch{ID: "closed", Key: Key{SubscriberID: "S2"}, State: StateClosed})
	producer := &memoryProducer{}
	cut := NewCutService(repo, producer, "batch-process", 0, "test", logger.NopLogger())
	ctx := context.Background()

	b, err := cut.Retrigger(ctx, "failed")
	require.NoError(t, err)
	assert.Equal(t, StatePendingTransmission, b.State)
	assert.Len(t, producer.sent, 1)

	_, err = cut.Retrigger(ctx, "closed")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	_, err = cut.Retrigger(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

type stubRunner struct {
	err  error
	runs [][]Transaction
}

func (r *stubRunner) Run(_ context.Context, _ Batch, txs []Transaction) error {
	r.runs = append(r.runs, txs)
	return r.err
}

type recordingFailures struct {
	batches []string
}

func (f *recordingFailures) BroadcastBatchFailure(_ context.Context, batchID string, _ error) error {
	f.batches = append(f.batches, batchID)
	return nil
}

func pendingBatchWithEvents(t *testing.T, repo *memoryRepo) string {
	t.Helper()
	ctx := context.Background()
	intake := NewIntakeService(repo, &recordingDropper{}, logger.NopLogger())
	require.NoError(t, intake.Accept(ctx, eventMessage("m1")))
	require.NoError(t, intake.Accept(ctx, eventMessage("m2", nt.WithAction(notification.ActionChangeProduct))))

	_, err := NewCutService(repo, &memoryProducer{}, "p", 0, "test", logger.NopLogger()).Cut(ctx)
	require.NoError(t, err)
	for id, b := range repo.batches {
		if b.State == StatePendingTransmission {
			return id
		}
	}
	t.Fatal("no pending batch")
	return ""
}

func TestProcessor_SuccessClosesBatch(t *testing.T) {
	repo := newMemoryRepo()
	id := pendingBatchWithEvents(t, repo)
	runner := &stubRunner{}
	failures := &recordingFailures{}

	p := NewProcessor(repo, runner, failures, logger.NopLogger())
	require.NoError(t, p.Handle(context.Background(), ProcessMessage("test", Batch{ID: id})))

	assert.Equal(t, StateClosed, repo.state(id))
	require.Len(t, runner.runs, 1)
	assert.Len(t, runner.runs[0], 2)
	assert.Empty(t, failures.batches)
}

func TestProcessor_FailureAcksAndMovesToError(t *testing.T) {
	repo := newMemoryRepo()
	id := pendingBatchWithEvents(t, repo)
	runner := &stubRunner{err: errors.New("publish failed")}
	failures := &recordingFailures{}

	p := NewProcessor(repo, runner, failures, logger.NopLogger())
	require.NoError(t, p.Handle(context.Background(), ProcessMessage("test", Batch{ID: id})))

	assert.Equal(t, StateError, repo.state(id))
	assert.Equal(t, "publish failed", repo.batches[id].LastError)
	assert.Equal(t, []string{id}, failures.batches)
}

func openSiblingBlocked(t *testing.T, repo *memoryRepo) bool {
	t.Helper()
	open, err := repo.ListOpen(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, open, 1)
	return open[0].PendingSibling
}

func TestProcessor_CloseFailureIsRetried(t *testing.T) {
	repo := newMemoryRepo()
	id := pendingBatchWithEvents(t, repo)
	intake := NewIntakeService(repo, &recordingDropper{}, logger.NopLogger())
	require.NoError(t, intake.Accept(context.Background(), eventMessage("m3")))

	repo.transitionErr = map[State]error{StateClosed: errors.New("connection reset")}
	p := NewProcessor(repo, &stubRunner{}, &recordingFailures{}, logger.NopLogger())
	msg := ProcessMessage("test", Batch{ID: id})

	err := p.Handle(context.Background(), msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, StatePendingTransmission, repo.state(id))
	assert.True(t, openSiblingBlocked(t, repo))

	repo.transitionErr = nil
	require.NoError(t, p.Handle(context.Background(), msg))
	assert.Equal(t, StateClosed, repo.state(id))
	assert.False(t, openSiblingBlocked(t, repo))
}

func TestProcessor_ErrorTransitionFailureIsRetried(t *testing.T) {
	repo := newMemoryRepo()
	id := pendingBatchWithEvents(t, repo)
	failures := &recordingFailures{}
	repo.transitionErr = map[State]error{StateError: errors.New("connection reset")}

	p := NewProcessor(repo, &stubRunner{err: errors.New("publish failed")}, failures, logger.NopLogger())
	msg := ProcessMessage("test", Batch{ID: id})

	require.Error(t, p.Handle(context.Background(), msg))
	assert.Equal(t, StatePendingTransmission, repo.state(id))
	assert.Empty(t, failures.batches)

	repo.transitionErr = nil
	require.NoError(t, p.Handle(context.Background(), msg))
	assert.Equal(t, StateError, repo.state(id))
	assert.Equal(t, []string{id}, failures.batches)
}

func TestProcessor_ConcurrentSettleIsAcknowledged(t *testing.T) {
	repo := newMemoryRepo()
	id := pendingBatchWithEvents(t, repo)
	repo.transitionErr = map[State]error{StateClosed: apperrors.ErrConflict}

	p := NewProcessor(repo, &stubRunner{}, &recordingFailures{}, logger.NopLogger())
	require.NoError(t, p.Handle(context.Background(), ProcessMessage("test", Batch{ID: id})))
}

func TestProcessor_IgnoresStaleMessages(t *testing.T) {
	repo := newMemoryRepo()
	repo.add(Batch{ID: "closed", State: StateClosed})
	runner := &stubRunner{}
	p := NewProcessor(repo, runner, &recordingFailures{}, logger.NopLogger())
	ctx := context.Background()

	require.NoError(t, p.Handle(ctx, ProcessMessage("test", Batch{ID: "closed"})))
	require.NoError(t, p.Handle(ctx, ProcessMessage("test", Batch{ID: "missing"})))
	require.NoError(t, p.Handle(ctx, models.NewMessageEnvelopeBuilder().Build()))
	assert.Empty(t, runner.runs)
}

func TestProcessor_RerunSkipsAcknowledgedTransactions(t *testing.T) {
	repo := newMemoryRepo()
	id := pendingBatchWithEvents(t, repo)
	txs, _ := repo.Transactions(context.Background(), id)
	require.NoError(t, repo.AckTransaction(context.Background(), txs[0].ID, "event_processed", 200))

	runner := &stubRunner{}
	p := NewProcessor(repo, runner, &recordingFailures{}, logger.NopLogger())
	require.NoError(t, p.Handle(context.Background(), ProcessMessage("test", Batch{ID: id})))

	require.Len(t, runner.runs, 1)
	require.Len(t, runner.runs[0], 1)
	assert.Equal(t, txs[1].ID, runner.runs[0][0].ID)
}

type countingCutter struct {
	mu    sync.Mutex
	calls int
}

func (c *countingCutter) Cut(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return 0, nil
}

func TestCutScheduler(t *testing.T) {
	_, err := NewCutScheduler(&countingCutter{}, "not a cron", logger.NopLogger())
	require.Error(t, err)

	cutter := &countingCutter{}
	s, err := NewCutScheduler(cutter, "*/5 * * * *", logger.NopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var waits []time.Duration
	s.wait = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		if len(waits) > 3 {
			cancel()
			return context.Canceled
		}
		return nil
	}

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, 3, cutter.calls)
	for _, w := range waits {
		assert.LessOrEqual(t, w, 5*time.Minute)
	}
}
