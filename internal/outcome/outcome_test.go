package outcome

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enrollsync/internal/audit"
	"enrollsync/internal/config"
	"enrollsync/internal/logger"
	"enrollsync/internal/notification"
	nt "enrollsync/internal/notification/notificationtest"
	"enrollsync/internal/resolver"
	"enrollsync/pkg/models"
)

type fakeStore struct {
	records []audit.Record
	seen    map[string]bool
	err     error
}

func (s *fakeStore) Append(_ context.Context, rec audit.Record) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if s.seen == nil {
		s.seen = map[string]bool{}
	}
	key := rec.TransactionID + "/" + rec.EventKey
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	s.records = append(s.records, rec)
	return true, nil
}

func (s *fakeStore) HasProcessed(context.Context, string, string) (bool, error) { return false, nil }

func (s *fakeStore) Query(context.Context, audit.Query) ([]audit.Record, error) {
	return s.records, nil
}

type fakeProducer struct {
	sent []models.MessageEnvelope
	err  error
}

func (p *fakeProducer) Publish(_ context.Context, _ string, msg models.MessageEnvelope) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, msg)
	return nil
}

func (p *fakeProducer) Close() error { return nil }

type fakeMarker struct{ marked []string }

func (m *fakeMarker) MarkProcessed(_ context.Context, id string, action notification.Action) error {
	m.marked = append(m.marked, id+":"+action.Name())
	return nil
}

type fakeAcker struct{ acked map[string]string }

func (a *fakeAcker) AckTransaction(_ context.Context, txID, key string, _ int) error {
	if a.acked == nil {
		a.acked = map[string]string{}
	}
	a.acked[txID] = key
	return nil
}

type harness struct {
	store    *fakeStore
	producer *fakeProducer
	marker   *fakeMarker
	acker    *fakeAcker
	pub      *Publisher
}

func newHarness() *harness {
	h := &harness{
		store:    &fakeStore{},
		producer: &fakeProducer{},
		marker:   &fakeMarker{},
		acker:    &fakeAcker{},
	}
	h.pub = NewPublisher(h.store, h.marker, h.producer, h.acker, "enrollment-broadcasts",
		config.BroadcastConfig{Service: "enrollsync", Component: "enrollment_events"}, logger.NopLogger())
	return h
}

func TestClassify_EveryKindIsClassified(t *testing.T) {
	keys := map[string]bool{}
	for _, k := range Kinds {
		c := Classify(k)
		assert.NotEqual(t, "unclassified", c.EventKey, "kind %d", k)
		assert.False(t, keys[c.EventKey], "duplicate event key %s", c.EventKey)
		keys[c.EventKey] = true
	}
	assert.Equal(t, "unclassified", Classify(Kind(0)).EventKey)
}

func TestClassify_Taxonomy(t *testing.T) {
	tests := []struct {
		kind   Kind
		level  string
		status int
	}{
		{MissingEndDate, audit.LevelError, http.StatusUnprocessableEntity},
		{Malformed, audit.LevelError, http.StatusUnprocessableEntity},
		{Duplicate, audit.LevelInfo, http.StatusOK},
		{Reduced, audit.LevelInfo, http.StatusOK},
		{BogusRenewalTerm, audit.LevelInfo, http.StatusOK},
		{NoEventFound, audit.LevelError, http.StatusUnprocessableEntity},
		{OrderingCycle, audit.LevelError, http.StatusUnprocessableEntity},
		{PublishFailed, audit.LevelError, http.StatusInternalServerError},
		{Resolved, audit.LevelInfo, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			c := Classify(tt.kind)
			assert.Equal(t, tt.level, c.Level)
			assert.Equal(t, tt.status, c.Status)
		})
	}
	assert.Equal(t, audit.EventKeyProcessed, Classify(Resolved).EventKey)
}

func TestFromDropReason_CoversEveryReason(t *testing.T) {
	for r := notification.DropAlreadyProcessed; r <= notification.DropMalformed; r++ {
		_, ok := FromDropReason(r)
		assert.True(t, ok, r.String())
	}
	_, ok := FromDropReason(notification.NotDropped)
	assert.False(t, ok)
}

func TestPublisher_DroppedWritesAuditBroadcastAndAck(t *testing.T) {
	h := newHarness()
	e := nt.Event(0, nt.WithTransactionID("txn-9"))
	e.View().Headers["source"] = "enroll"

	require.NoError(t, notification.DropWith(context.Background(), h.pub, e, notification.DropDuplicate))

	require.Len(t, h.store.records, 1)
	rec := h.store.records[0]
	assert.Equal(t, "duplicate", rec.EventKey)
	assert.Equal(t, http.StatusOK, rec.StatusCode)
	assert.Equal(t, "txn-9", rec.TransactionID)
	assert.Equal(t, "enroll", rec.Headers["source"])

	require.Len(t, h.producer.sent, 1)
	msg := h.producer.sent[0]
	assert.Equal(t, "info.enrollsync.enrollment_events.duplicate", msg.RoutingKey)
	assert.Equal(t, "200", msg.Header("status_code"))
	assert.Equal(t, "duplicate", msg.Header("event_key"))

	assert.Equal(t, "duplicate", h.acker.acked["txn-9"])
	assert.Empty(t, h.marker.marked)
	assert.True(t, e.Settled())
	assert.Nil(t, e.View().Headers)
}

func TestPublisher_RecordIsIdempotentPerEvent(t *testing.T) {
	h := newHarness()
	e := nt.Event(0)
	require.True(t, e.Drop(notification.DropReduced))

	require.NoError(t, h.pub.Dropped(context.Background(), e))
	require.NoError(t, h.pub.Dropped(context.Background(), e))

	assert.Len(t, h.store.records, 1)
	assert.Len(t, h.producer.sent, 1)
}

func TestPublisher_ResolvedMarksEveryEvent(t *testing.T) {
	h := newHarness()
	term := nt.Event(0, append(nt.Term("E1", 2021, time.June, 30), nt.WithTransactionID("t1"))...)
	start := nt.Event(1, nt.WithID("E2"), nt.WithTransactionID("t2"))
	action := resolver.Action{ID: "a-1", Kind: resolver.KindPlanChange, Rule: "plan_change", Events: []*notification.Event{term, start}}

	require.NoError(t, h.pub.Resolved(context.Background(), action))

	assert.Equal(t, []string{"E1:terminate_enrollment", "E2:initial"}, h.marker.marked)
	require.Len(t, h.store.records, 2)
	assert.Equal(t, "plan_change", h.store.records[0].Details["rule"])
	assert.Equal(t, audit.EventKeyProcessed, h.acker.acked["t2"])
	assert.Equal(t, "a-1", h.producer.sent[1].Payload["action_id"])
}

func TestPublisher_FailuresAreReturnedAndLeaveEventUnsettled(t *testing.T) {
	h := newHarness()
	h.producer.err = errors.New("kafka unavailable")
	e := nt.Event(0)

	err := h.pub.Failed(context.Background(), []*notification.Event{e}, PublishFailed, errors.New("write failed"))
	require.ErrorIs(t, err, h.producer.err)
	assert.False(t, e.Settled())
	require.Len(t, h.store.records, 1)
	assert.Equal(t, "write failed", h.store.records[0].Details["error"])
	assert.Equal(t, http.StatusInternalServerError, h.store.records[0].StatusCode)
}

func TestPublisher_Unresolved(t *testing.T) {
	h := newHarness()
	e := nt.Event(0)

	require.NoError(t, h.pub.Unresolved(context.Background(), resolver.Result{Unresolved: e, Reason: resolver.NotYetImplemented}))
	assert.Equal(t, "error.enrollsync.enrollment_events.not_yet_implemented", h.producer.sent[0].RoutingKey)
	assert.NoError(t, h.pub.Unresolved(context.Background(), resolver.Result{}))
}

func TestPublisher_BroadcastBatchFailure(t *testing.T) {
	h := newHarness()

	require.NoError(t, h.pub.BroadcastBatchFailure(context.Background(), "b-7", errors.New("boom")))
	msg := h.producer.sent[0]
	assert.Equal(t, "error.enrollsync.enrollment_events.batch_failed", msg.RoutingKey)
	assert.Equal(t, "b-7", msg.Header("batch_id"))
	assert.Equal(t, "boom", msg.Payload["error"])
}
