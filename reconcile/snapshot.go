package reconcile

import (
	"casedesk/cases"
	"casedesk/channel"
	"casedesk/offer"
	"casedesk/pool"
)

// DetailState is the display state of the open case detail.
type DetailState string

const (
	DetailNone    DetailState = ""
	DetailLoading DetailState = "loading"
	DetailReady   DetailState = "ready"
	// DetailClosed means the case is gone; the view shows it as unavailable.
	DetailClosed DetailState = "closed"
	DetailFailed DetailState = "failed"
)

// DetailView is the open case detail, if any.
type DetailView struct {
	CaseID int64
	State  DetailState
	Detail cases.Detail
	Err    string
}

// Snapshot is an immutable view of the engine state. Readers may hold on to
// it for as long as they like.
type Snapshot struct {
	SessionKey     string
	ProfessionalID int64
	Epoch          uint64

	Pools pool.Set
	// Pending holds broadcast cases not yet confirmed by a discovery fetch.
	// They are shown merged with Discovery.
	Pending    []cases.Case
	Offers     offer.Ledger
	Detail     DetailView
	Connection channel.State
	Loaded     bool
	LastError  string
}

// Discovery returns the Discovery pool merged with pending broadcasts.
func (s *Snapshot) Discovery() []cases.Case {
	if len(s.Pending) == 0 {
		return s.Pools.Discovery
	}
	out := make([]cases.Case, 0, len(s.Pools.Discovery)+len(s.Pending))
	out = append(out, s.Pools.Discovery...)
	return append(out, s.Pending...)
}

// View returns the named pool as rendered; Discovery includes pending
// broadcasts.
func (s *Snapshot) View(name pool.Name) []cases.Case {
	if name == pool.Discovery {
		return s.Discovery()
	}
	return s.Pools.Pool(name)
}

// Case returns a shown case and the pool it is rendered in.
func (s *Snapshot) Case(caseID int64) (cases.Case, pool.Name, bool) {
	if c, name, ok := s.Pools.Find(caseID); ok {
		return c, name, true
	}
	for _, c := range s.Pending {
		if c.ID == caseID {
			return c, pool.Discovery, true
		}
	}
	return cases.Case{}, "", false
}

// Placement returns the pool a case is shown in.
func (s *Snapshot) Placement(caseID int64) (pool.Name, bool) {
	_, name, ok := s.Case(caseID)
	return name, ok
}

// Actions returns the legal negotiation actions for caseID.
func (s *Snapshot) Actions(caseID int64) offer.Actions {
	name, ok := s.Placement(caseID)
	if !ok {
		return offer.Actions{}
	}
	_, active := s.Offers.Active(caseID)
	return offer.LegalActions(name, active)
}

// Disjoint reports whether every shown case id sits in exactly one pool,
// counting pending broadcasts as Discovery.
func (s *Snapshot) Disjoint() bool {
	if !s.Pools.Disjoint() {
		return false
	}
	seen := s.Pools.IDs()
	for _, c := range s.Pending {
		if seen.Has(c.ID) {
			return false
		}
		seen[c.ID] = struct{}{}
	}
	return true
}

// Len returns the number of shown cases.
func (s *Snapshot) Len() int {
	return s.Pools.Len() + len(s.Pending)
}
