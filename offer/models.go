package offer

import "time"

// Status represents the lifecycle of an offer.
type Status string

const (
	StatusSubmitted Status = "SUBMITTED"
	StatusAccepted  Status = "ACCEPTED"
	StatusRejected  Status = "REJECTED"
	StatusExpired   Status = "EXPIRED"
	StatusWithdrawn Status = "WITHDRAWN"
	StatusFunded    Status = "FUNDED"
)

// Active reports whether the offer is still open for negotiation. Only a
// SUBMITTED offer counts; every other status is resolved.
func (s Status) Active() bool {
	return s == StatusSubmitted
}

// Offer is a professional's proposed fee for handling a case.
type Offer struct {
	ID             int64
	CaseID         int64
	ProfessionalID int64
	FeeCents       int64
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SubmitParams enumerates the fields required to create an offer.
type SubmitParams struct {
	CaseID         int64
	ProfessionalID int64
	FeeCents       int64
}
