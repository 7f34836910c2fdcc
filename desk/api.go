package desk

import (
	"context"
	"sync/atomic"

	"casedesk/bulkapi"
	"casedesk/cases"
	"casedesk/offer"
)

// tokenAPI forwards to the bulk client of the current identity. The engine
// and the negotiator hold it for their whole lifetime while the token under
// it changes on every switch.
type tokenAPI struct {
	cur atomic.Pointer[bulkapi.Client]
}

func (a *tokenAPI) client() *bulkapi.Client { return a.cur.Load() }

func (a *tokenAPI) ListAssigned(ctx context.Context, professionalID int64) ([]cases.Case, error) {
	return a.client().ListAssigned(ctx, professionalID)
}

func (a *tokenAPI) ListRecommended(ctx context.Context, professionalID int64) ([]cases.Case, error) {
	return a.client().ListRecommended(ctx, professionalID)
}

func (a *tokenAPI) ListOffers(ctx context.Context, professionalID int64) ([]offer.Offer, error) {
	return a.client().ListOffers(ctx, professionalID)
}

func (a *tokenAPI) GetCase(ctx context.Context, caseID int64) (cases.Detail, error) {
	return a.client().GetCase(ctx, caseID)
}

func (a *tokenAPI) SubmitOffer(ctx context.Context, caseID, feeCents int64) (offer.Offer, error) {
	return a.client().SubmitOffer(ctx, caseID, feeCents)
}

func (a *tokenAPI) WithdrawOffer(ctx context.Context, offerID int64) (offer.Offer, error) {
	return a.client().WithdrawOffer(ctx, offerID)
}

func (a *tokenAPI) RespondToRequest(ctx context.Context, caseID int64, accept bool) error {
	return a.client().RespondToRequest(ctx, caseID, accept)
}
