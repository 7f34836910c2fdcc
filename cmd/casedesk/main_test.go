package main

import (
	"testing"

	"casedesk/offer"
	"casedesk/reconcile"
)

func TestOfferHistory(t *testing.T) {
	s := &reconcile.Snapshot{Offers: offer.NewLedger([]offer.Offer{
		{ID: 4, CaseID: 7, FeeCents: 120050, Status: offer.StatusWithdrawn},
		{ID: 6, CaseID: 7, FeeCents: 99000, Status: offer.StatusSubmitted},
		{ID: 8, CaseID: 2, FeeCents: 100, Status: offer.StatusSubmitted},
	})}

	want := "your offers: #4 WITHDRAWN 1200.50, #6 SUBMITTED 990.00"
	if got := offerHistory(s, 7); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if got := offerHistory(s, 5); got != "" {
		t.Fatalf("expected no history for case 5, got %q", got)
	}
}
