package offer

import (
	"context"
	"errors"
	"fmt"

	"casedesk/pool"
)

var (
	ErrActionNotAllowed = errors.New("offer: action not allowed for case")
	ErrNoActiveOffer    = errors.New("offer: no active offer on case")
)

// API is the mutating half of the bulk API used by professionals.
type API interface {
	SubmitOffer(ctx context.Context, caseID, feeCents int64) (Offer, error)
	WithdrawOffer(ctx context.Context, offerID int64) (Offer, error)
	RespondToRequest(ctx context.Context, caseID int64, accept bool) error
}

// Board is the negotiator's view of the reconciliation state: where a case
// sits, which offer is active on it, and the hooks used to keep it current.
type Board interface {
	Placement(caseID int64) (pool.Name, bool)
	ActiveOffer(caseID int64) (Offer, bool)
	RecordOffer(o Offer)
	RemoveOptimistic(caseID int64)
	Resync()
}

// RejectedError reports that the server refused an action the local checks
// allowed. It is a validation message for the user, not a failure.
type RejectedError struct {
	Op     string
	Reason string
	Err    error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("offer: %s rejected: %s", e.Op, e.Reason)
}

func (e *RejectedError) Unwrap() error { return e.Err }

// rejection is implemented by transport errors that carry a server verdict.
type rejection interface {
	Rejected() bool
}

// Negotiator gates offer and direct-request actions on the local board
// before issuing the mutating call.
type Negotiator struct {
	api   API
	board Board
}

func NewNegotiator(api API, board Board) *Negotiator {
	return &Negotiator{api: api, board: board}
}

// Actions returns the legal actions for caseID given its current placement.
func (n *Negotiator) Actions(caseID int64) Actions {
	placement, ok := n.board.Placement(caseID)
	if !ok {
		return Actions{}
	}
	_, active := n.board.ActiveOffer(caseID)
	return LegalActions(placement, active)
}

// Submit proposes a fee on a Discovery case. A locally known SUBMITTED offer
// on the same case short-circuits with ErrActiveOfferExists and no call.
func (n *Negotiator) Submit(ctx context.Context, caseID, feeCents int64) (Offer, error) {
	if feeCents <= 0 {
		return Offer{}, ErrInvalidFee
	}
	if _, ok := n.board.ActiveOffer(caseID); ok {
		return Offer{}, ErrActiveOfferExists
	}
	if !n.Actions(caseID).SubmitOffer {
		return Offer{}, ErrActionNotAllowed
	}

	o, err := n.api.SubmitOffer(ctx, caseID, feeCents)
	if err != nil {
		return Offer{}, n.fail("submit", err)
	}
	n.board.RecordOffer(o)
	return o, nil
}

// Withdraw retracts the professional's active offer on caseID.
func (n *Negotiator) Withdraw(ctx context.Context, caseID int64) (Offer, error) {
	active, ok := n.board.ActiveOffer(caseID)
	if !ok {
		return Offer{}, ErrNoActiveOffer
	}
	if !n.Actions(caseID).WithdrawOffer {
		return Offer{}, ErrActionNotAllowed
	}

	o, err := n.api.WithdrawOffer(ctx, active.ID)
	if err != nil {
		return Offer{}, n.fail("withdraw", err)
	}
	n.board.RecordOffer(o)
	return o, nil
}

// Accept takes on a direct request.
func (n *Negotiator) Accept(ctx context.Context, caseID int64) error {
	return n.respond(ctx, caseID, true)
}

// Decline turns down a direct request.
func (n *Negotiator) Decline(ctx context.Context, caseID int64) error {
	return n.respond(ctx, caseID, false)
}

// respond removes the case from DirectRequests before the call and always
// re-fetches afterwards so the optimistic view is corrected either way.
func (n *Negotiator) respond(ctx context.Context, caseID int64, accept bool) error {
	actions := n.Actions(caseID)
	if (accept && !actions.Accept) || (!accept && !actions.Decline) {
		return ErrActionNotAllowed
	}

	op := "decline"
	if accept {
		op = "accept"
	}

	n.board.RemoveOptimistic(caseID)
	err := n.api.RespondToRequest(ctx, caseID, accept)
	if err != nil {
		var r rejection
		if errors.As(err, &r) && r.Rejected() {
			return n.fail(op, err)
		}
		n.board.Resync()
		return fmt.Errorf("offer: %s: %w", op, err)
	}
	n.board.Resync()
	return nil
}

// fail classifies a call error. Server rejections trigger a resync and come
// back as *RejectedError; anything else is wrapped as is.
func (n *Negotiator) fail(op string, err error) error {
	var r rejection
	if errors.As(err, &r) && r.Rejected() {
		n.board.Resync()
		return &RejectedError{Op: op, Reason: err.Error(), Err: err}
	}
	return fmt.Errorf("offer: %s: %w", op, err)
}
