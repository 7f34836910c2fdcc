package reconcile

import (
	"testing"

	"casedesk/cases"
	"casedesk/offer"
	"casedesk/pool"
)

func TestSnapshot_CaseSearchesPoolsThenPending(t *testing.T) {
	s := &Snapshot{
		Pools: pool.Set{
			Active: []cases.Case{{ID: 3, Title: "Custody", Status: cases.StatusInProgress}},
		},
		Pending: []cases.Case{{ID: 9, Title: "Probate", Status: cases.StatusPublished}},
		Offers:  offer.NewLedger([]offer.Offer{{ID: 1, CaseID: 9, Status: offer.StatusSubmitted}}),
	}

	c, name, ok := s.Case(3)
	if !ok || name != pool.Active || c.Title != "Custody" {
		t.Fatalf("expected case 3 in active, got %v %s %v", c, name, ok)
	}
	c, name, ok = s.Case(9)
	if !ok || name != pool.Discovery || c.Title != "Probate" {
		t.Fatalf("expected pending case 9 in discovery, got %v %s %v", c, name, ok)
	}
	if _, _, ok := s.Case(4); ok {
		t.Fatal("expected unknown case to be absent")
	}

	if got := s.Actions(9); !got.WithdrawOffer || got.SubmitOffer {
		t.Fatalf("expected withdraw on pending case with active offer, got %+v", got)
	}
}
