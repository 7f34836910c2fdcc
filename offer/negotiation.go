package offer

import "casedesk/pool"

// Actions are the per-case controls available to a professional.
type Actions struct {
	SubmitOffer   bool
	WithdrawOffer bool
	Accept        bool
	Decline       bool
}

// Any reports whether at least one action is available.
func (a Actions) Any() bool {
	return a.SubmitOffer || a.WithdrawOffer || a.Accept || a.Decline
}

// LegalActions maps (pool placement, active offer) to the allowed actions.
//
//	Discovery       no offer -> Submit      active offer -> Withdraw
//	DirectRequests  no offer -> Accept/Decline
//	Pipeline/Active/History  -> nothing
func LegalActions(p pool.Name, hasActiveOffer bool) Actions {
	switch p {
	case pool.Discovery:
		if hasActiveOffer {
			return Actions{WithdrawOffer: true}
		}
		return Actions{SubmitOffer: true}
	case pool.DirectRequests:
		if hasActiveOffer {
			return Actions{}
		}
		return Actions{Accept: true, Decline: true}
	default:
		return Actions{}
	}
}

// Ledger indexes the current professional's offers by case. It is immutable;
// With returns an updated copy.
type Ledger struct {
	byCase map[int64][]Offer
}

// NewLedger builds a ledger from a bulk offer listing.
func NewLedger(offers []Offer) Ledger {
	l := Ledger{byCase: make(map[int64][]Offer, len(offers))}
	for _, o := range offers {
		l.byCase[o.CaseID] = append(l.byCase[o.CaseID], o)
	}
	return l
}

// Active returns the SUBMITTED offer on caseID, if one is known.
func (l Ledger) Active(caseID int64) (Offer, bool) {
	for _, o := range l.byCase[caseID] {
		if o.Status.Active() {
			return o, true
		}
	}
	return Offer{}, false
}

// ForCase returns every known offer on caseID.
func (l Ledger) ForCase(caseID int64) []Offer {
	return l.byCase[caseID]
}

// Len returns the number of offers tracked.
func (l Ledger) Len() int {
	n := 0
	for _, os := range l.byCase {
		n += len(os)
	}
	return n
}

// With returns a copy of the ledger in which o replaces any offer with the
// same ID, or is appended when new.
func (l Ledger) With(o Offer) Ledger {
	next := Ledger{byCase: make(map[int64][]Offer, len(l.byCase)+1)}
	for caseID, os := range l.byCase {
		next.byCase[caseID] = os
	}

	existing := l.byCase[o.CaseID]
	updated := make([]Offer, 0, len(existing)+1)
	replaced := false
	for _, cur := range existing {
		if cur.ID == o.ID {
			updated = append(updated, o)
			replaced = true
			continue
		}
		updated = append(updated, cur)
	}
	if !replaced {
		updated = append(updated, o)
	}
	next.byCase[o.CaseID] = updated
	return next
}
