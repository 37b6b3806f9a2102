package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enrollsync/internal/batch"
	"enrollsync/internal/config"
	"enrollsync/internal/logger"
	"enrollsync/internal/notification"
	nt "enrollsync/internal/notification/notificationtest"
	"enrollsync/internal/outcome"
	"enrollsync/internal/policy"
	"enrollsync/internal/resolver"
	apperrors "enrollsync/pkg/errors"
	"enrollsync/pkg/models"
)

type memoryPolicies struct {
	policies map[string]policy.Policy
	saveErr  error
}

func (m *memoryPolicies) FindPolicy(_ context.Context, id string) (*policy.Policy, error) {
	p, ok := m.policies[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &p, nil
}

func (m *memoryPolicies) FindPlanYears(context.Context, string) ([]policy.PlanYear, error) {
	return nil, nil
}

func (m *memoryPolicies) SavePolicy(_ context.Context, p policy.Policy) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.policies[p.HbxEnrollmentID] = p
	return nil
}

type neverProcessed struct{}

func (neverProcessed) IsProcessed(context.Context, string, notification.Action) (bool, error) {
	return false, nil
}

// outcomes records the event key each transaction ended with.
type outcomes struct {
	keys    map[string]string
	actions []resolver.Action
}

func newOutcomes() *outcomes {
	return &outcomes{keys: map[string]string{}}
}

func (o *outcomes) set(e *notification.Event, kind outcome.Kind) {
	if e.Settle() {
		o.keys[e.View().TransactionID] = kind.String()
	}
}

func (o *outcomes) Dropped(_ context.Context, e *notification.Event) error {
	kind, ok := outcome.FromDropReason(e.DropReason())
	if !ok {
		return errors.New("not dropped")
	}
	o.set(e, kind)
	return nil
}

func (o *outcomes) Resolved(_ context.Context, a resolver.Action) error {
	o.actions = append(o.actions, a)
	for _, e := range a.Events {
		o.set(e, outcome.Resolved)
	}
	return nil
}

func (o *outcomes) Unresolved(_ context.Context, r resolver.Result) error {
	o.set(r.Unresolved, outcome.FromUnresolved(r.Reason))
	return nil
}

func (o *outcomes) Failed(_ context.Context, events []*notification.Event, kind outcome.Kind, _ error) error {
	for _, e := range events {
		o.set(e, kind)
	}
	return nil
}

type memoryProducer struct {
	sent []models.MessageEnvelope
	err  error
}

func (p *memoryProducer) Publish(_ context.Context, _ string, msg models.MessageEnvelope) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, msg)
	return nil
}

func (p *memoryProducer) Close() error { return nil }

type fixture struct {
	policies *memoryPolicies
	outcomes *outcomes
	producer *memoryProducer
	runner   *Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	res, err := resolver.NewResolver(nil, config.ResolverConfig{}, logger.NopLogger())
	require.NoError(t, err)

	f := &fixture{
		policies: &memoryPolicies{policies: map[string]policy.Policy{}},
		outcomes: newOutcomes(),
		producer: &memoryProducer{},
	}
	f.runner = NewRunner(Deps{
		Policies:    f.policies,
		Processed:   neverProcessed{},
		Resolver:    res,
		Recorder:    f.outcomes,
		Producer:    f.producer,
		ActionTopic: "enrollment-actions",
		Source:      "batch-processor",
	}, logger.NopLogger())
	return f
}

func tx(id string, opts ...nt.Option) batch.Transaction {
	return batch.Transaction{ID: id, BatchID: "b1", Body: nt.XML(nt.View(opts...))}
}

func TestRunner_PlanChange(t *testing.T) {
	f := newFixture(t)
	f.policies.policies["E1"] = policy.Policy{
		HbxEnrollmentID: "E1", SubscriberID: "S1", CoverageType: notification.CoverageHealth,
		ProductID: "P1", State: policy.StateSubmitted, PolicyStart: notification.Date(2021, time.January, 1),
	}

	txs := []batch.Transaction{
		tx("t2", nt.WithID("E2"), nt.WithProduct("P2"), nt.WithStart(2021, time.July, 1)),
		tx("t1", nt.Term("E1", 2021, time.June, 30)...),
	}
	require.NoError(t, f.runner.Run(context.Background(), batch.Batch{ID: "b1"}, txs))

	assert.Equal(t, map[string]string{"t1": "event_processed", "t2": "event_processed"}, f.outcomes.keys)
	require.Len(t, f.outcomes.actions, 1)
	assert.Equal(t, resolver.KindPlanChange, f.outcomes.actions[0].Kind)

	require.Len(t, f.producer.sent, 1)
	var published resolver.Action
	require.NoError(t, json.Unmarshal([]byte(f.producer.sent[0].Body), &published))
	assert.Equal(t, []string{"t1", "t2"}, published.TransactionIDs)
	assert.Equal(t, "E2", f.producer.sent[0].RoutingKey)

	assert.Equal(t, policy.StateTerminated, f.policies.policies["E1"].State)
	assert.Equal(t, policy.StateSubmitted, f.policies.policies["E2"].State)
}

func TestRunner_EveryEventGetsAnOutcome(t *testing.T) {
	f := newFixture(t)

	txs := []batch.Transaction{
		tx("t1", nt.WithID("E3"), nt.WithSubscriber("S2")),
		tx("t2", nt.WithID("E3"), nt.WithSubscriber("S2")),
		{ID: "t3", BatchID: "b1", Body: "<enrollment_event>"},
		tx("t4", nt.WithID("E4"), nt.WithAction(notification.ParseAction("change_address"))),
	}
	require.NoError(t, f.runner.Run(context.Background(), batch.Batch{ID: "b1"}, txs))

	assert.Equal(t, map[string]string{
		"t1": "event_processed",
		"t2": "duplicate",
		"t3": "malformed",
		"t4": "not_yet_implemented",
	}, f.outcomes.keys)
}

func TestRunner_SilentActionIsNotPublished(t *testing.T) {
	f := newFixture(t)
	f.policies.policies["E1"] = policy.Policy{HbxEnrollmentID: "E1", State: policy.StateSubmitted}

	txs := []batch.Transaction{tx("t1", append(nt.Term("E1", 2021, time.March, 31), nt.Silent())...)}
	require.NoError(t, f.runner.Run(context.Background(), batch.Batch{ID: "b1"}, txs))

	assert.Empty(t, f.producer.sent)
	assert.Equal(t, "event_processed", f.outcomes.keys["t1"])
	assert.Equal(t, policy.StateTerminated, f.policies.policies["E1"].State)
}

func TestRunner_PublishFailureAbortsRun(t *testing.T) {
	f := newFixture(t)
	f.producer.err = errors.New("broker unavailable")

	txs := []batch.Transaction{
		tx("t1"),
		tx("t2", nt.WithID("E9"), nt.WithSubscriber("S9")),
	}
	err := f.runner.Run(context.Background(), batch.Batch{ID: "b1"}, txs)
	require.ErrorIs(t, err, f.producer.err)

	assert.Equal(t, map[string]string{"t1": "publish_failed"}, f.outcomes.keys)
	assert.Empty(t, f.policies.policies)
}

func TestRunner_RerunRepublishesUnderTheSameID(t *testing.T) {
	f := newFixture(t)
	f.policies.policies["E1"] = policy.Policy{
		HbxEnrollmentID: "E1", SubscriberID: "S1", CoverageType: notification.CoverageHealth,
		ProductID: "P1", State: policy.StateSubmitted, PolicyStart: notification.Date(2021, time.January, 1),
	}
	f.policies.saveErr = errors.New("policies unavailable")

	txs := []batch.Transaction{
		tx("t1", nt.Term("E1", 2021, time.June, 30)...),
		tx("t2", nt.WithID("E2"), nt.WithProduct("P2"), nt.WithStart(2021, time.July, 1)),
	}
	require.Error(t, f.runner.Run(context.Background(), batch.Batch{ID: "b1"}, txs))
	require.Len(t, f.producer.sent, 1)
	assert.Equal(t, "persist_failed", f.outcomes.keys["t1"])

	f.policies.saveErr = nil
	f.outcomes = newOutcomes()
	f.runner.deps.Recorder = f.outcomes
	require.NoError(t, f.runner.Run(context.Background(), batch.Batch{ID: "b1"}, txs))

	require.Len(t, f.producer.sent, 2)
	assert.Equal(t, f.producer.sent[0].ID, f.producer.sent[1].ID)
	assert.Equal(t, resolver.ActionID(resolver.KindPlanChange, []string{"t1", "t2"}), f.producer.sent[1].ID)
}
