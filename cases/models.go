package cases

import (
	"strings"
	"time"
)

// Status is the canonical lifecycle status of a case.
type Status string

const (
	StatusUnknown         Status = "UNKNOWN"
	StatusDraft           Status = "DRAFT"
	StatusPublished       Status = "PUBLISHED"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusUnderReview     Status = "UNDER_REVIEW"
	StatusPaymentPending  Status = "PAYMENT_PENDING"
	StatusInProgress      Status = "IN_PROGRESS"
	StatusClosed          Status = "CLOSED"
)

// legacyStatuses maps every value observed on the dashboard surfaces onto the
// canonical enumeration. VERIFIED is deliberately absent: it is a marker, not
// a lifecycle status.
var legacyStatuses = map[string]Status{
	"DRAFT":            StatusDraft,
	"OPEN":             StatusPublished,
	"PUBLISHED":        StatusPublished,
	"PENDING_APPROVAL": StatusPendingApproval,
	"UNDER_REVIEW":     StatusUnderReview,
	"ON_HOLD":          StatusUnderReview,
	"PAYMENT_PENDING":  StatusPaymentPending,
	"IN_PROGRESS":      StatusInProgress,
	"CLOSED":           StatusClosed,
	"SOLVED":           StatusClosed,
	"COMPLETED":        StatusClosed,
}

// ParseStatus normalises a raw status string. Unrecognised values yield
// StatusUnknown, which no pool accepts.
func ParseStatus(raw string) Status {
	if s, ok := legacyStatuses[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return s
	}
	return StatusUnknown
}

// IsVerifiedMarker reports whether raw is the administrative VERIFIED marker
// that some surfaces report in place of a status.
func IsVerifiedMarker(raw string) bool {
	return strings.EqualFold(strings.TrimSpace(raw), "VERIFIED")
}

// Case is the client-side view of a legal case.
type Case struct {
	ID                     int64
	Title                  string
	Category               string
	Status                 Status
	ClientID               int64
	ClientName             string
	AssignedProfessionalID *int64
	Verified               bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// AssignedTo reports whether the case is assigned to professionalID.
func (c Case) AssignedTo(professionalID int64) bool {
	return c.AssignedProfessionalID != nil && *c.AssignedProfessionalID == professionalID
}

// Unassigned reports whether no professional holds the case.
func (c Case) Unassigned() bool {
	return c.AssignedProfessionalID == nil
}

// Detail is the expanded record shown when a single case is opened.
type Detail struct {
	Case
	Description string
	OfferCount  int
}

// Filters narrows repository listings.
type Filters struct {
	ProfessionalID  int64
	Specializations []string
	Limit           int
}
