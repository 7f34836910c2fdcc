// Package bulkapi is the request/response side of the marketplace: the JSON
// wire shapes shared by the HTTP server and the client used by the desk.
package bulkapi

import (
	"time"

	"casedesk/cases"
	"casedesk/offer"
	"casedesk/professional"
)

type CaseDTO struct {
	ID                     int64     `json:"id"`
	Title                  string    `json:"title"`
	Category               string    `json:"category"`
	Status                 string    `json:"status"`
	ClientID               int64     `json:"clientId"`
	ClientName             string    `json:"clientName"`
	AssignedProfessionalID *int64    `json:"assignedProfessionalId"`
	Verified               bool      `json:"verified"`
	CreatedAt              time.Time `json:"createdAt"`
	UpdatedAt              time.Time `json:"updatedAt"`
}

type DetailDTO struct {
	CaseDTO
	Description string `json:"description"`
	OfferCount  int    `json:"offerCount"`
}

type OfferDTO struct {
	ID             int64     `json:"id"`
	CaseID         int64     `json:"caseId"`
	ProfessionalID int64     `json:"professionalId"`
	FeeCents       int64     `json:"feeCents"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type ProfileDTO struct {
	ID              int64    `json:"id"`
	FullName        string   `json:"fullName"`
	Specializations []string `json:"specializations"`
	Verified        bool     `json:"verified"`
}

// List is the envelope of every collection response.
type List[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

func NewList[T any](items []T) List[T] {
	if items == nil {
		items = []T{}
	}
	return List[T]{Items: items, Total: len(items)}
}

type ErrorDTO struct {
	Error string `json:"error"`
}

type SubmitOfferRequest struct {
	FeeCents int64 `json:"feeCents"`
}

type RespondRequest struct {
	Accept bool `json:"accept"`
}

type TargetRequest struct {
	ProfessionalID int64 `json:"professionalId"`
}

type StatusRequest struct {
	Status string `json:"status"`
}

type CreateCaseRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
	Role  string `json:"role"`
	ID    int64  `json:"id"`
}

func FromCase(c cases.Case) CaseDTO {
	return CaseDTO{
		ID:                     c.ID,
		Title:                  c.Title,
		Category:               c.Category,
		Status:                 string(c.Status),
		ClientID:               c.ClientID,
		ClientName:             c.ClientName,
		AssignedProfessionalID: c.AssignedProfessionalID,
		Verified:               c.Verified,
		CreatedAt:              c.CreatedAt,
		UpdatedAt:              c.UpdatedAt,
	}
}

// Case converts the wire shape, mapping legacy status spellings onto the
// canonical enumeration.
func (d CaseDTO) Case() cases.Case {
	verified := d.Verified || cases.IsVerifiedMarker(d.Status)
	return cases.Case{
		ID:                     d.ID,
		Title:                  d.Title,
		Category:               d.Category,
		Status:                 cases.ParseStatus(d.Status),
		ClientID:               d.ClientID,
		ClientName:             d.ClientName,
		AssignedProfessionalID: d.AssignedProfessionalID,
		Verified:               verified,
		CreatedAt:              d.CreatedAt,
		UpdatedAt:              d.UpdatedAt,
	}
}

func FromDetail(d cases.Detail) DetailDTO {
	return DetailDTO{CaseDTO: FromCase(d.Case), Description: d.Description, OfferCount: d.OfferCount}
}

func (d DetailDTO) Detail() cases.Detail {
	return cases.Detail{Case: d.CaseDTO.Case(), Description: d.Description, OfferCount: d.OfferCount}
}

func FromOffer(o offer.Offer) OfferDTO {
	return OfferDTO{
		ID:             o.ID,
		CaseID:         o.CaseID,
		ProfessionalID: o.ProfessionalID,
		FeeCents:       o.FeeCents,
		Status:         string(o.Status),
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

func (d OfferDTO) Offer() offer.Offer {
	return offer.Offer{
		ID:             d.ID,
		CaseID:         d.CaseID,
		ProfessionalID: d.ProfessionalID,
		FeeCents:       d.FeeCents,
		Status:         offer.Status(d.Status),
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func FromProfile(p professional.Profile) ProfileDTO {
	specs := p.Specializations
	if specs == nil {
		specs = []string{}
	}
	return ProfileDTO{ID: p.ID, FullName: p.Name, Specializations: specs, Verified: p.Verified}
}

func (d ProfileDTO) Profile() professional.Profile {
	return professional.Profile{ID: d.ID, Name: d.FullName, Specializations: d.Specializations, Verified: d.Verified}
}

func FromCases(list []cases.Case) []CaseDTO {
	out := make([]CaseDTO, 0, len(list))
	for _, c := range list {
		out = append(out, FromCase(c))
	}
	return out
}

func FromOffers(list []offer.Offer) []OfferDTO {
	out := make([]OfferDTO, 0, len(list))
	for _, o := range list {
		out = append(out, FromOffer(o))
	}
	return out
}
