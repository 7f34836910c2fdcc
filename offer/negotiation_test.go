package offer

import (
	"testing"

	"casedesk/pool"
)

func TestLegalActions(t *testing.T) {
	tests := []struct {
		pool   pool.Name
		active bool
		want   Actions
	}{
		{pool.Discovery, false, Actions{SubmitOffer: true}},
		{pool.Discovery, true, Actions{WithdrawOffer: true}},
		{pool.DirectRequests, false, Actions{Accept: true, Decline: true}},
		{pool.DirectRequests, true, Actions{}},
		{pool.Pipeline, false, Actions{}},
		{pool.Pipeline, true, Actions{}},
		{pool.Active, true, Actions{}},
		{pool.History, false, Actions{}},
	}
	for _, tt := range tests {
		if got := LegalActions(tt.pool, tt.active); got != tt.want {
			t.Errorf("%s active=%v: expected %+v, got %+v", tt.pool, tt.active, tt.want, got)
		}
	}
}

func TestLedger_ActiveIgnoresResolvedOffers(t *testing.T) {
	l := NewLedger([]Offer{
		{ID: 1, CaseID: 10, Status: StatusWithdrawn},
		{ID: 2, CaseID: 10, Status: StatusRejected},
		{ID: 3, CaseID: 11, Status: StatusSubmitted},
	})
	if _, ok := l.Active(10); ok {
		t.Fatal("expected no active offer on case 10")
	}
	if o, ok := l.Active(11); !ok || o.ID != 3 {
		t.Fatalf("expected offer 3 active on case 11, got %+v %v", o, ok)
	}
	if l.Len() != 3 {
		t.Fatalf("expected 3 offers, got %d", l.Len())
	}
}

func TestLedger_WithReplacesAndCopies(t *testing.T) {
	base := NewLedger([]Offer{{ID: 1, CaseID: 10, Status: StatusSubmitted}})
	next := base.With(Offer{ID: 1, CaseID: 10, Status: StatusWithdrawn})

	if _, ok := next.Active(10); ok {
		t.Fatal("expected withdrawn offer to no longer be active")
	}
	if _, ok := base.Active(10); !ok {
		t.Fatal("expected original ledger to be untouched")
	}
	if next.Len() != 1 {
		t.Fatalf("expected replacement not append, got %d offers", next.Len())
	}

	added := next.With(Offer{ID: 2, CaseID: 12, Status: StatusSubmitted})
	if added.Len() != 2 || len(added.ForCase(12)) != 1 {
		t.Fatalf("expected new case entry, got %d offers", added.Len())
	}
}
