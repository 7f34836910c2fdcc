package offer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"casedesk/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrActiveOfferExists is returned when the professional already has a
	// SUBMITTED offer on the case, whether detected locally or by the
	// offers_one_submitted_idx guardrail.
	ErrActiveOfferExists = errors.New("offer: active offer already exists")
	ErrNotFound          = errors.New("offer: not found")
	ErrForbidden         = errors.New("offer: forbidden")
	ErrCaseNotOpen       = errors.New("offer: case is not open for offers")
	ErrNotSubmitted      = errors.New("offer: offer is no longer submitted")
	ErrInvalidFee        = errors.New("offer: fee must be positive")
	ErrAlreadyAccepted   = errors.New("offer: case already has an accepted offer")
)

// Repository is the server side of the offer endpoints.
type Repository interface {
	ListForProfessional(ctx context.Context, professionalID int64) ([]Offer, error)
	Submit(ctx context.Context, params SubmitParams) (Offer, error)
	Withdraw(ctx context.Context, offerID, professionalID int64) (Offer, error)
	Accept(ctx context.Context, offerID, clientID int64) (Offer, error)
	ExpireSubmitted(ctx context.Context, before time.Time) (int, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const offerColumns = `id, case_id, professional_id, fee_cents, status, created_at, updated_at`

func scanOffer(row pgx.Row) (Offer, error) {
	var o Offer
	err := row.Scan(&o.ID, &o.CaseID, &o.ProfessionalID, &o.FeeCents, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (r *PGRepository) ListForProfessional(ctx context.Context, professionalID int64) ([]Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offers WHERE professional_id = $1 ORDER BY created_at DESC, id DESC`
	rows, err := r.pool.Query(ctx, query, professionalID)
	if err != nil {
		return nil, fmt.Errorf("offer: list for professional: %w", err)
	}
	defer rows.Close()

	out := make([]Offer, 0, 8)
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("offer: scan offer: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("offer: iterate offers: %w", err)
	}
	return out, nil
}

func (r *PGRepository) Submit(ctx context.Context, params SubmitParams) (Offer, error) {
	if params.FeeCents <= 0 {
		return Offer{}, ErrInvalidFee
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Offer{}, fmt.Errorf("offer: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		status     string
		assignedID *int64
	)
	err = tx.QueryRow(ctx, `
		SELECT status, assigned_professional_id
		FROM cases
		WHERE id = $1 AND deleted_at IS NULL
		FOR SHARE
	`, params.CaseID).Scan(&status, &assignedID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, ErrCaseNotOpen
		}
		return Offer{}, fmt.Errorf("offer: load case: %w", err)
	}
	if status != "PUBLISHED" || assignedID != nil {
		return Offer{}, ErrCaseNotOpen
	}

	query := `
		INSERT INTO offers (case_id, professional_id, fee_cents, status)
		SELECT $1, u.id, $3, 'SUBMITTED'
		FROM users u
		WHERE u.id = $2 AND u.role = 'professional'
		RETURNING ` + offerColumns
	o, err := scanOffer(tx.QueryRow(ctx, query, params.CaseID, params.ProfessionalID, params.FeeCents))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, ErrForbidden
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Offer{}, ErrActiveOfferExists
		}
		return Offer{}, fmt.Errorf("offer: insert: %w", err)
	}

	if err := db.EnqueueOutbox(ctx, tx, db.TopicCaseUpdated, map[string]any{
		"caseId":     params.CaseID,
		"recipients": []int64{params.ProfessionalID},
	}); err != nil {
		return Offer{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Offer{}, fmt.Errorf("offer: commit submit: %w", err)
	}
	return o, nil
}

func (r *PGRepository) Withdraw(ctx context.Context, offerID, professionalID int64) (Offer, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Offer{}, fmt.Errorf("offer: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := lockOffer(ctx, tx, offerID)
	if err != nil {
		return Offer{}, err
	}
	if o.ProfessionalID != professionalID {
		return Offer{}, ErrForbidden
	}
	if o.Status != StatusSubmitted {
		return Offer{}, ErrNotSubmitted
	}

	query := `UPDATE offers SET status = 'WITHDRAWN', updated_at = now() WHERE id = $1 RETURNING ` + offerColumns
	updated, err := scanOffer(tx.QueryRow(ctx, query, offerID))
	if err != nil {
		return Offer{}, fmt.Errorf("offer: withdraw: %w", err)
	}

	if err := db.EnqueueOutbox(ctx, tx, db.TopicCaseUpdated, map[string]any{
		"caseId":     o.CaseID,
		"recipients": []int64{professionalID},
	}); err != nil {
		return Offer{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Offer{}, fmt.Errorf("offer: commit withdraw: %w", err)
	}
	return updated, nil
}

// Accept marks the offer ACCEPTED on behalf of the case owner, rejects every
// sibling SUBMITTED offer and assigns the case to the offer's author, all in
// one transaction. The case and offer rows are locked first so concurrent
// acceptances on the same case serialise.
func (r *PGRepository) Accept(ctx context.Context, offerID, clientID int64) (Offer, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Offer{}, fmt.Errorf("offer: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var caseID int64
	if err := tx.QueryRow(ctx, `SELECT case_id FROM offers WHERE id = $1`, offerID).Scan(&caseID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, ErrNotFound
		}
		return Offer{}, fmt.Errorf("offer: resolve case: %w", err)
	}

	var (
		ownerID    int64
		status     string
		assignedID *int64
	)
	err = tx.QueryRow(ctx, `
		SELECT client_id, status, assigned_professional_id
		FROM cases
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, caseID).Scan(&ownerID, &status, &assignedID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, ErrCaseNotOpen
		}
		return Offer{}, fmt.Errorf("offer: lock case: %w", err)
	}
	if ownerID != clientID {
		return Offer{}, ErrForbidden
	}

	o, err := lockOffer(ctx, tx, offerID)
	if err != nil {
		return Offer{}, err
	}
	if o.Status == StatusAccepted {
		// Idempotent replay of a previous acceptance.
		return o, nil
	}
	if status != "PUBLISHED" || assignedID != nil {
		return Offer{}, ErrCaseNotOpen
	}
	if o.Status != StatusSubmitted {
		return Offer{}, ErrNotSubmitted
	}

	query := `UPDATE offers SET status = 'ACCEPTED', updated_at = now() WHERE id = $1 RETURNING ` + offerColumns
	accepted, err := scanOffer(tx.QueryRow(ctx, query, offerID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Offer{}, ErrAlreadyAccepted
		}
		return Offer{}, fmt.Errorf("offer: mark accepted: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE offers SET status = 'REJECTED', updated_at = now()
		WHERE case_id = $1 AND id <> $2 AND status = 'SUBMITTED'
	`, caseID, offerID); err != nil {
		return Offer{}, fmt.Errorf("offer: reject siblings: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE cases
		SET status = 'UNDER_REVIEW', assigned_professional_id = $2, updated_at = now()
		WHERE id = $1
	`, caseID, accepted.ProfessionalID); err != nil {
		return Offer{}, fmt.Errorf("offer: assign case: %w", err)
	}

	if err := db.EnqueueOutbox(ctx, tx, db.TopicCaseAssigned, map[string]any{"caseId": caseID}); err != nil {
		return Offer{}, err
	}
	audience, err := db.CaseAudience(ctx, tx, caseID)
	if err != nil {
		return Offer{}, err
	}
	if err := db.EnqueueOutbox(ctx, tx, db.TopicCaseUpdated, map[string]any{
		"caseId":     caseID,
		"recipients": audience,
	}); err != nil {
		return Offer{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Offer{}, fmt.Errorf("offer: commit accept: %w", err)
	}
	return accepted, nil
}

// ExpireSubmitted moves SUBMITTED offers created before the cutoff to EXPIRED
// and notifies their authors.
func (r *PGRepository) ExpireSubmitted(ctx context.Context, before time.Time) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("offer: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		UPDATE offers SET status = 'EXPIRED', updated_at = now()
		WHERE status = 'SUBMITTED' AND created_at < $1
		RETURNING case_id, professional_id
	`, before)
	if err != nil {
		return 0, fmt.Errorf("offer: expire: %w", err)
	}
	type expired struct{ caseID, professionalID int64 }
	var list []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.caseID, &e.professionalID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("offer: scan expired: %w", err)
		}
		list = append(list, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("offer: iterate expired: %w", err)
	}

	for _, e := range list {
		if err := db.EnqueueOutbox(ctx, tx, db.TopicCaseUpdated, map[string]any{
			"caseId":     e.caseID,
			"recipients": []int64{e.professionalID},
		}); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("offer: commit expire: %w", err)
	}
	return len(list), nil
}

func lockOffer(ctx context.Context, tx pgx.Tx, offerID int64) (Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offers WHERE id = $1 FOR UPDATE`
	o, err := scanOffer(tx.QueryRow(ctx, query, offerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, ErrNotFound
		}
		return Offer{}, fmt.Errorf("offer: lock offer: %w", err)
	}
	return o, nil
}
