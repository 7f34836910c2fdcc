package cases

// transitions lists every legal lifecycle move. Moves not listed here are
// rejected by StatusService before any write happens.
var transitions = map[Status][]Status{
	StatusDraft:           {StatusPublished},
	StatusPublished:       {StatusPendingApproval, StatusUnderReview},
	StatusPendingApproval: {StatusUnderReview, StatusPublished},
	StatusUnderReview:     {StatusPaymentPending},
	StatusPaymentPending:  {StatusInProgress},
	StatusInProgress:      {StatusClosed},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
