package notification

// DropReason is why a notification left the pipeline without an action.
type DropReason int

const (
	NotDropped DropReason = iota
	DropAlreadyProcessed
	DropCarrierProcessed
	DropNoEndDate
	DropAlreadyTerminated
	DropDuplicate
	DropReduced
	DropBogusTerm
	DropBogusPlanYear
	DropBogusRenewalTerm
	DropMalformed
)

var dropReasonNames = map[DropReason]string{
	NotDropped:            "not_dropped",
	DropAlreadyProcessed:  "already_processed",
	DropCarrierProcessed:  "carrier_processed",
	DropNoEndDate:         "no_end_date",
	DropAlreadyTerminated: "already_terminated",
	DropDuplicate:         "duplicate",
	DropReduced:           "reduced",
	DropBogusTerm:         "bogus_term",
	DropBogusPlanYear:     "bogus_plan_year",
	DropBogusRenewalTerm:  "bogus_renewal_term",
	DropMalformed:         "malformed",
}

func (r DropReason) String() string {
	if name, ok := dropReasonNames[r]; ok {
		return name
	}
	return "unknown"
}

// Event is the single mutable handle around a View. Only the drop reason
// and the settled flag ever change; the View itself is never modified
// except by Release.
type Event struct {
	view     View
	position int
	reason   DropReason
	settled  bool
}

// New wraps v; position is the event's index in the batch input order and
// is used as the deterministic tie-breaker when ordering.
func New(v View, position int) *Event {
	if v.Headers == nil {
		v.Headers = map[string]string{}
	}
	if v.MemberIDs != nil {
		v.MemberIDs = append([]string(nil), v.MemberIDs...)
	}
	return &Event{view: v, position: position}
}

// NewMalformed wraps a transaction that could not be parsed. The returned
// event is already marked DropMalformed.
func NewMalformed(raw Raw, position int) *Event {
	e := New(View{
		TransactionID: raw.TransactionID,
		BatchID:       raw.BatchID,
		Headers:       copyHeaders(raw.Headers),
		Body:          raw.Body,
		ReceivedAt:    raw.ReceivedAt,
		Publishable:   true,
	}, position)
	e.reason = DropMalformed
	return e
}

func (e *Event) View() View {
	return e.view
}

func (e *Event) Position() int {
	return e.position
}

// Drop marks the event with reason. It returns false when the event was
// already dropped or settled, leaving the first reason in place.
func (e *Event) Drop(reason DropReason) bool {
	if e.settled || e.reason != NotDropped || reason == NotDropped {
		return false
	}
	e.reason = reason
	return true
}

func (e *Event) Dropped() bool {
	return e.reason != NotDropped
}

func (e *Event) DropReason() DropReason {
	return e.reason
}

// Settle records that a terminal outcome was handled. It returns true only
// on the first call.
func (e *Event) Settle() bool {
	if e.settled {
		return false
	}
	e.settled = true
	return true
}

func (e *Event) Settled() bool {
	return e.settled
}

// Release clears payload references once the event is settled so large
// batch runs do not retain every body until the run ends.
func (e *Event) Release() {
	if !e.settled {
		return
	}
	e.view.Body = ""
	e.view.Headers = nil
	e.view.MemberIDs = nil
}

func (e *Event) String() string {
	return e.view.HbxEnrollmentID + ":" + e.view.Action.Name()
}

// Live filters out dropped events, keeping order.
func Live(events []*Event) []*Event {
	out := make([]*Event, 0, len(events))
	for _, e := range events {
		if !e.Dropped() {
			out = append(out, e)
		}
	}
	return out
}

func copyHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
