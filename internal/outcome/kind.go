package outcome

import (
	"net/http"

	"enrollsync/internal/audit"
	"enrollsync/internal/notification"
	"enrollsync/internal/resolver"
)

// Kind is the closed set of terminal outcomes an enrollment event can have.
type Kind int

const (
	AlreadyProcessed Kind = iota + 1
	CarrierProcessed
	MissingEndDate
	AlreadyTerminated
	Duplicate
	Reduced
	BogusTerm
	BogusPlanYear
	BogusRenewalTerm
	Malformed
	Resolved
	NoEventFound
	NotYetImplemented
	OrderingCycle
	PersistFailed
	PublishFailed
)

// Kinds lists every outcome kind in declaration order.
var Kinds = []Kind{
	AlreadyProcessed, CarrierProcessed, MissingEndDate, AlreadyTerminated,
	Duplicate, Reduced, BogusTerm, BogusPlanYear, BogusRenewalTerm, Malformed,
	Resolved, NoEventFound, NotYetImplemented, OrderingCycle, PersistFailed,
	PublishFailed,
}

// Classification is the broadcast and audit shape of an outcome.
type Classification struct {
	Level    string
	EventKey string
	Status   int
}

// Classify maps every Kind to its (level, event key, status). Unknown kinds
// classify as an internal error so they are never broadcast as success.
func Classify(k Kind) Classification {
	switch k {
	case AlreadyProcessed:
		return info("already_processed")
	case CarrierProcessed:
		return info("carrier_processed")
	case AlreadyTerminated:
		return info("already_terminated")
	case Duplicate:
		return info("duplicate")
	case Reduced:
		return info("reduced")
	case BogusTerm:
		return info("bogus_termination")
	case BogusPlanYear:
		return info("bogus_plan_year")
	case BogusRenewalTerm:
		return info("bogus_renewal_termination")
	case Resolved:
		return info(audit.EventKeyProcessed)
	case MissingEndDate:
		return failure("missing_end_date", http.StatusUnprocessableEntity)
	case Malformed:
		return failure("malformed", http.StatusUnprocessableEntity)
	case NoEventFound:
		return failure("no_event_found", http.StatusUnprocessableEntity)
	case NotYetImplemented:
		return failure("not_yet_implemented", http.StatusUnprocessableEntity)
	case OrderingCycle:
		return failure("ordering_cycle", http.StatusUnprocessableEntity)
	case PersistFailed:
		return failure("persist_failed", http.StatusInternalServerError)
	case PublishFailed:
		return failure("publish_failed", http.StatusInternalServerError)
	default:
		return failure("unclassified", http.StatusInternalServerError)
	}
}

func info(key string) Classification {
	return Classification{Level: audit.LevelInfo, EventKey: key, Status: http.StatusOK}
}

func failure(key string, status int) Classification {
	return Classification{Level: audit.LevelError, EventKey: key, Status: status}
}

func (k Kind) String() string {
	return Classify(k).EventKey
}

// FromDropReason maps a filter or ordering drop to its outcome.
func FromDropReason(r notification.DropReason) (Kind, bool) {
	switch r {
	case notification.DropAlreadyProcessed:
		return AlreadyProcessed, true
	case notification.DropCarrierProcessed:
		return CarrierProcessed, true
	case notification.DropNoEndDate:
		return MissingEndDate, true
	case notification.DropAlreadyTerminated:
		return AlreadyTerminated, true
	case notification.DropDuplicate:
		return Duplicate, true
	case notification.DropReduced:
		return Reduced, true
	case notification.DropBogusTerm:
		return BogusTerm, true
	case notification.DropBogusPlanYear:
		return BogusPlanYear, true
	case notification.DropBogusRenewalTerm:
		return BogusRenewalTerm, true
	case notification.DropMalformed:
		return Malformed, true
	default:
		return 0, false
	}
}

func FromUnresolved(r resolver.UnresolvedReason) Kind {
	if r == resolver.NotYetImplemented {
		return NotYetImplemented
	}
	return NoEventFound
}
