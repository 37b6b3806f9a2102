package filters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enrollsync/internal/logger"
	"enrollsync/internal/notification"
	nt "enrollsync/internal/notification/notificationtest"
	"enrollsync/internal/policy"
)

type policies map[string]*policy.Policy

func (p policies) Policy(_ context.Context, id string) (*policy.Policy, error) {
	return p[id], nil
}

type processed map[reduceKey]bool

func (p processed) IsProcessed(_ context.Context, id string, action notification.Action) (bool, error) {
	return p[reduceKey{enrollmentID: id, action: action}], nil
}

type recorder struct {
	dropped []*notification.Event
}

func (r *recorder) Dropped(_ context.Context, e *notification.Event) error {
	r.dropped = append(r.dropped, e)
	return nil
}

func (r *recorder) reasons() map[string]notification.DropReason {
	out := make(map[string]notification.DropReason)
	for _, e := range r.dropped {
		out[e.View().TransactionID] = e.DropReason()
	}
	return out
}

func date(y int, m time.Month, d int) *time.Time {
	t := notification.Date(y, m, d)
	return &t
}

func TestAlreadyProcessed(t *testing.T) {
	lookup := policies{"E2": {HbxEnrollmentID: "E2", State: policy.StateTerminated, PolicyEnd: date(2021, time.June, 30)}}
	index := processed{
		{enrollmentID: "E1", action: notification.ActionInitial}:   true,
		{enrollmentID: "E2", action: notification.ActionTerminate}: true,
		{enrollmentID: "E3", action: notification.ActionTerminate}: true,
	}

	events := []*notification.Event{
		nt.Event(0, nt.WithTransactionID("t0")),
		nt.Event(1, append(nt.Term("E2", 2021, time.March, 31), nt.WithTransactionID("t1"))...),
		nt.Event(2, append(nt.Term("E3", 2021, time.March, 31), nt.WithTransactionID("t2"))...),
		nt.Event(3, nt.WithID("E4"), nt.WithTransactionID("t3")),
	}

	rec := &recorder{}
	f := &AlreadyProcessed{Policies: lookup, Index: index, Dropper: rec}
	require.NoError(t, f.Apply(context.Background(), events))

	assert.Equal(t, map[string]notification.DropReason{
		"t0": notification.DropAlreadyProcessed,
		"t2": notification.DropAlreadyProcessed,
	}, rec.reasons())
}

func TestCarrierProcessed(t *testing.T) {
	lookup := policies{"E1": {HbxEnrollmentID: "E1", CarrierTerminatedOn: date(2021, time.March, 31)}}
	events := []*notification.Event{
		nt.Event(0, append(nt.Term("E1", 2021, time.March, 31), nt.WithTransactionID("t0"))...),
		nt.Event(1, append(nt.Term("E1", 2021, time.February, 28), nt.WithTransactionID("t1"))...),
		nt.Event(2, nt.WithTransactionID("t2")),
	}

	rec := &recorder{}
	f := &CarrierProcessed{Policies: lookup, Checker: CarrierTerminatedOn, Dropper: rec}
	require.NoError(t, f.Apply(context.Background(), events))

	assert.Equal(t, map[string]notification.DropReason{"t0": notification.DropCarrierProcessed}, rec.reasons())
}

func TestTerminationWithoutEndDate(t *testing.T) {
	events := []*notification.Event{
		nt.Event(0, nt.WithAction(notification.ActionTerminate), nt.WithoutEnd(), nt.WithTransactionID("t0")),
		nt.Event(1, append(nt.Term("E1", 2021, time.March, 31), nt.WithTransactionID("t1"))...),
		nt.Event(2, nt.WithTransactionID("t2")),
	}

	rec := &recorder{}
	require.NoError(t, (&TerminationWithoutEndDate{Dropper: rec}).Apply(context.Background(), events))

	assert.Equal(t, map[string]notification.DropReason{"t0": notification.DropNoEndDate}, rec.reasons())
}

func TestAlreadyProcessedTermination(t *testing.T) {
	lookup := policies{
		"CANCELED": {HbxEnrollmentID: "CANCELED", State: policy.StateCanceled, PolicyEnd: date(2021, time.January, 1)},
		"TERMED":   {HbxEnrollmentID: "TERMED", State: policy.StateTerminated, PolicyEnd: date(2021, time.June, 30)},
		"ACTIVE":   {HbxEnrollmentID: "ACTIVE", State: policy.StateSubmitted},
	}
	events := []*notification.Event{
		nt.Event(0, append(nt.Term("CANCELED", 2021, time.March, 31), nt.WithTransactionID("canceled"))...),
		nt.Event(1, append(nt.Term("TERMED", 2021, time.June, 30), nt.WithTransactionID("same-end"))...),
		nt.Event(2, append(nt.Term("TERMED", 2021, time.September, 30), nt.WithTransactionID("later-end"))...),
		nt.Event(3, append(nt.Term("TERMED", 2021, time.March, 31), nt.WithTransactionID("earlier-end"))...),
		nt.Event(4, append(nt.Term("ACTIVE", 2021, time.March, 31), nt.WithTransactionID("active"))...),
		nt.Event(5, append(nt.Term("UNKNOWN", 2021, time.March, 31), nt.WithTransactionID("unknown"))...),
	}

	rec := &recorder{}
	require.NoError(t, (&AlreadyProcessedTermination{Policies: lookup, Dropper: rec}).Apply(context.Background(), events))

	assert.Equal(t, map[string]notification.DropReason{
		"canceled":  notification.DropAlreadyTerminated,
		"same-end":  notification.DropAlreadyTerminated,
		"later-end": notification.DropAlreadyTerminated,
	}, rec.reasons())
}

type failingLookup struct{}

func (failingLookup) Policy(context.Context, string) (*policy.Policy, error) {
	return nil, errors.New("db down")
}

func TestPipeline_StopsOnCollaboratorError(t *testing.T) {
	p := NewPipeline(Deps{Policies: failingLookup{}, Processed: processed{}, Dropper: &recorder{}}, logger.NopLogger())

	_, err := p.Run(context.Background(), []*notification.Event{nt.Event(0, nt.Term("E1", 2021, time.March, 31)...)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already_processed")
}

func TestPipeline_RunsInOrderAndGroups(t *testing.T) {
	index := processed{{enrollmentID: "E9", action: notification.ActionTerminate}: true}
	events := []*notification.Event{
		nt.Event(0, nt.WithTransactionID("a"), nt.WithSubscriber("S1")),
		nt.Event(1, append(nt.Term("E9", 2021, time.March, 31), nt.WithTransactionID("b"))...),
		nt.Event(2, nt.WithTransactionID("c"), nt.WithID("E2"), nt.WithSubscriber("S2")),
		nt.Event(3, nt.WithTransactionID("d"), nt.WithAction(notification.ActionTerminate), nt.WithoutEnd(), nt.WithID("E3")),
		nt.Event(4, nt.WithTransactionID("e"), nt.WithID("E4"), nt.WithSubscriber("S1"), nt.WithCoverage(notification.CoverageDental)),
		nt.Event(5, nt.WithTransactionID("f"), nt.WithID("E5"), nt.WithSubscriber("S1")),
	}

	rec := &recorder{}
	p := NewPipeline(Deps{Policies: policies{}, Processed: index, Dropper: rec}, logger.NopLogger())
	buckets, err := p.Run(context.Background(), events)
	require.NoError(t, err)

	assert.Equal(t, map[string]notification.DropReason{
		"b": notification.DropAlreadyProcessed,
		"d": notification.DropNoEndDate,
	}, rec.reasons())

	require.Len(t, buckets, 3)
	assert.Equal(t, "S1", buckets[0].ID.SubscriberID)
	assert.Equal(t, notification.CoverageHealth, buckets[0].ID.CoverageType)
	assert.Equal(t, []*notification.Event{events[0], events[5]}, buckets[0].Events)
	assert.Equal(t, []*notification.Event{events[2]}, buckets[1].Events)
	assert.Equal(t, []*notification.Event{events[4]}, buckets[2].Events)
}
