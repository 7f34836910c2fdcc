package reconcile

import (
	"casedesk/cases"
	"casedesk/channel"
	"casedesk/detail"
	"casedesk/offer"
	"casedesk/session"
)

// Kind selects which bulk lists a fetch reads.
type Kind uint8

const (
	FetchDiscovery Kind = 1 << iota
	FetchAssigned
	FetchOffers

	FetchAll = FetchDiscovery | FetchAssigned | FetchOffers
)

func (k Kind) Has(o Kind) bool { return k&o != 0 }

// Message is everything the engine consumes. Events, fetch completions,
// identity changes and UI intents all arrive through the same mailbox and
// are handled one at a time.
type Message interface {
	isMessage()
}

// EventReceived wraps a decoded channel event.
type EventReceived struct {
	Event channel.Event
}

// ConnectionChanged reports the adapter's connection state.
type ConnectionChanged struct {
	State channel.State
}

// RefreshRequested asks for a bulk fetch of the given lists.
type RefreshRequested struct {
	Kinds Kind
}

// FetchCompleted carries the result of a bulk fetch. Epoch and Seq identify
// the fetch so results from an older identity or an older request are
// discarded.
type FetchCompleted struct {
	Epoch       uint64
	Seq         uint64
	Kinds       Kind
	Assigned    []cases.Case
	Recommended []cases.Case
	Offers      []offer.Offer
	Err         error
}

// IdentityChanged replaces the session. Cache, when set, replaces the
// detail cache for the new session.
type IdentityChanged struct {
	Session session.Session
	Cache   detail.Cache
}

// DetailOpened marks caseID as the case whose detail is being viewed.
type DetailOpened struct {
	CaseID int64
}

// DetailDismissed closes the detail view.
type DetailDismissed struct{}

// DetailLoaded carries a detail read started by DetailOpened.
type DetailLoaded struct {
	Epoch  uint64
	CaseID int64
	Detail cases.Detail
	Cached bool
	Err    error
}

// OptimisticRemoval hides a direct request until the next assigned fetch
// issued after it lands.
type OptimisticRemoval struct {
	CaseID int64
}

// OfferRecorded merges an offer returned by a mutating call.
type OfferRecorded struct {
	Offer offer.Offer
}

func (EventReceived) isMessage()     {}
func (ConnectionChanged) isMessage() {}
func (RefreshRequested) isMessage()  {}
func (FetchCompleted) isMessage()    {}
func (IdentityChanged) isMessage()   {}
func (DetailOpened) isMessage()      {}
func (DetailDismissed) isMessage()   {}
func (DetailLoaded) isMessage()      {}
func (OptimisticRemoval) isMessage() {}
func (OfferRecorded) isMessage()     {}
