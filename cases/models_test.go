package cases

import "testing"

func TestParseStatus_CanonicalMapping(t *testing.T) {
	cases := map[string]Status{
		"DRAFT":            StatusDraft,
		"open":             StatusPublished,
		" PUBLISHED ":      StatusPublished,
		"pending_approval": StatusPendingApproval,
		"ON_HOLD":          StatusUnderReview,
		"UNDER_REVIEW":     StatusUnderReview,
		"PAYMENT_PENDING":  StatusPaymentPending,
		"IN_PROGRESS":      StatusInProgress,
		"solved":           StatusClosed,
		"CLOSED":           StatusClosed,
		"VERIFIED":         StatusUnknown,
		"":                 StatusUnknown,
		"ARCHIVED":         StatusUnknown,
	}
	for raw, want := range cases {
		if got := ParseStatus(raw); got != want {
			t.Errorf("ParseStatus(%q): expected %s, got %s", raw, want, got)
		}
	}
}

func TestIsVerifiedMarker(t *testing.T) {
	if !IsVerifiedMarker(" verified") {
		t.Fatal("expected verified marker to be recognised")
	}
	if IsVerifiedMarker("CLOSED") {
		t.Fatal("expected CLOSED not to be a verified marker")
	}
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]Status{
		{StatusDraft, StatusPublished},
		{StatusPublished, StatusPendingApproval},
		{StatusPublished, StatusUnderReview},
		{StatusPendingApproval, StatusPublished},
		{StatusUnderReview, StatusPaymentPending},
		{StatusPaymentPending, StatusInProgress},
		{StatusInProgress, StatusClosed},
	}
	for _, tr := range allowed {
		if !CanTransition(tr[0], tr[1]) {
			t.Errorf("expected %s -> %s to be allowed", tr[0], tr[1])
		}
	}

	denied := [][2]Status{
		{StatusDraft, StatusInProgress},
		{StatusClosed, StatusPublished},
		{StatusPublished, StatusClosed},
		{StatusUnknown, StatusPublished},
	}
	for _, tr := range denied {
		if CanTransition(tr[0], tr[1]) {
			t.Errorf("expected %s -> %s to be rejected", tr[0], tr[1])
		}
	}
}

func TestCaseAssignment(t *testing.T) {
	id := int64(9)
	c := Case{ID: 1, AssignedProfessionalID: &id}
	if !c.AssignedTo(9) || c.AssignedTo(10) {
		t.Fatalf("unexpected AssignedTo result for %+v", c)
	}
	if c.Unassigned() {
		t.Fatal("expected case to be assigned")
	}
	if !(Case{}).Unassigned() {
		t.Fatal("expected zero case to be unassigned")
	}
}
