package cases

import (
	"context"
	"errors"
	"fmt"

	"casedesk/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrInvalidTransition = errors.New("cases: invalid status transition")
	ErrNotTargetable     = errors.New("cases: case cannot be targeted")
)

// Actor roles recognised by StatusService.
const (
	ActorClient       = "client"
	ActorProfessional = "professional"
	ActorSystem       = "system"
)

// StatusService handles lifecycle transitions on cases, writing the outbox
// notification in the same transaction as the status change.
type StatusService struct {
	pool *pgxpool.Pool
}

func NewStatusService(pool *pgxpool.Pool) *StatusService {
	return &StatusService{pool: pool}
}

type TransitionParams struct {
	CaseID     int64
	ActorID    int64
	ActorRole  string
	NextStatus Status
}

type lockedCase struct {
	status     Status
	title      string
	category   string
	clientID   int64
	assignedID *int64
}

func lockCase(ctx context.Context, tx pgx.Tx, caseID int64) (lockedCase, error) {
	var (
		lc     lockedCase
		status string
	)
	err := tx.QueryRow(ctx, `
		SELECT status, title, category, client_id, assigned_professional_id
		FROM cases
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, caseID).Scan(&status, &lc.title, &lc.category, &lc.clientID, &lc.assignedID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return lockedCase{}, ErrNotFound
		}
		return lockedCase{}, fmt.Errorf("cases: lock case: %w", err)
	}
	lc.status = ParseStatus(status)
	return lc, nil
}

// Transition applies the plain lifecycle moves: publish, review complete,
// payment confirmed and close. Targeting and direct-request responses go
// through Target and Respond.
func (s *StatusService) Transition(ctx context.Context, params TransitionParams) (Status, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("cases: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	lc, err := lockCase(ctx, tx, params.CaseID)
	if err != nil {
		return "", err
	}
	if !CanTransition(lc.status, params.NextStatus) {
		return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, lc.status, params.NextStatus)
	}
	if err := authorizeTransition(lc, params); err != nil {
		return "", err
	}

	if _, err := tx.Exec(ctx, `UPDATE cases SET status = $1, updated_at = now() WHERE id = $2`, params.NextStatus, params.CaseID); err != nil {
		return "", fmt.Errorf("cases: update status: %w", err)
	}

	if params.NextStatus == StatusInProgress {
		if _, err := tx.Exec(ctx, `
			UPDATE offers SET status = 'FUNDED', updated_at = now()
			WHERE case_id = $1 AND status = 'ACCEPTED'
		`, params.CaseID); err != nil {
			return "", fmt.Errorf("cases: mark offer funded: %w", err)
		}
	}

	if params.NextStatus == StatusPublished {
		if err := db.EnqueueOutbox(ctx, tx, db.TopicCasePublished, map[string]any{
			"caseId":   params.CaseID,
			"title":    lc.title,
			"category": lc.category,
		}); err != nil {
			return "", err
		}
	} else if err := enqueueUpdated(ctx, tx, params.CaseID); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("cases: commit transition: %w", err)
	}
	return params.NextStatus, nil
}

func authorizeTransition(lc lockedCase, params TransitionParams) error {
	switch params.NextStatus {
	case StatusPublished:
		if params.ActorRole != ActorClient || params.ActorID != lc.clientID {
			return ErrForbidden
		}
	case StatusPaymentPending:
		if params.ActorRole != ActorProfessional || lc.assignedID == nil || *lc.assignedID != params.ActorID {
			return ErrForbidden
		}
	case StatusInProgress:
		if params.ActorRole != ActorSystem {
			return ErrForbidden
		}
	case StatusClosed:
		owner := params.ActorRole == ActorClient && params.ActorID == lc.clientID
		assignee := params.ActorRole == ActorProfessional && lc.assignedID != nil && *lc.assignedID == params.ActorID
		if !owner && !assignee {
			return ErrForbidden
		}
	default:
		return fmt.Errorf("%w: %s requires a dedicated operation", ErrInvalidTransition, params.NextStatus)
	}
	return nil
}

// Target turns a published case into a direct request for one professional.
func (s *StatusService) Target(ctx context.Context, caseID, clientID, professionalID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("cases: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	lc, err := lockCase(ctx, tx, caseID)
	if err != nil {
		return err
	}
	if lc.clientID != clientID {
		return ErrForbidden
	}
	if lc.status != StatusPublished || lc.assignedID != nil {
		return ErrNotTargetable
	}

	var isProfessional bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND role = 'professional')`, professionalID).Scan(&isProfessional); err != nil {
		return fmt.Errorf("cases: verify professional: %w", err)
	}
	if !isProfessional {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx, `
		UPDATE cases
		SET status = 'PENDING_APPROVAL', assigned_professional_id = $2, updated_at = now()
		WHERE id = $1
	`, caseID, professionalID); err != nil {
		return fmt.Errorf("cases: target: %w", err)
	}

	if err := db.EnqueueOutbox(ctx, tx, db.TopicCaseAssigned, map[string]any{"caseId": caseID}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("cases: commit target: %w", err)
	}
	return nil
}

// Respond records a professional's answer to a direct request. Accepting
// moves the case to UNDER_REVIEW; declining returns it to the open pool.
func (s *StatusService) Respond(ctx context.Context, caseID, professionalID int64, accept bool) (Status, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("cases: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	lc, err := lockCase(ctx, tx, caseID)
	if err != nil {
		return "", err
	}
	if lc.assignedID == nil || *lc.assignedID != professionalID {
		return "", ErrForbidden
	}
	if lc.status != StatusPendingApproval {
		return "", fmt.Errorf("%w: respond from %s", ErrInvalidTransition, lc.status)
	}

	next := StatusUnderReview
	if !accept {
		next = StatusPublished
	}

	if accept {
		if _, err := tx.Exec(ctx, `UPDATE cases SET status = $2, updated_at = now() WHERE id = $1`, caseID, next); err != nil {
			return "", fmt.Errorf("cases: accept request: %w", err)
		}
	} else {
		if _, err := tx.Exec(ctx, `
			UPDATE cases SET status = $2, assigned_professional_id = NULL, updated_at = now() WHERE id = $1
		`, caseID, next); err != nil {
			return "", fmt.Errorf("cases: decline request: %w", err)
		}
	}

	if err := db.EnqueueOutbox(ctx, tx, db.TopicCaseUpdated, map[string]any{
		"caseId":     caseID,
		"recipients": []int64{professionalID},
	}); err != nil {
		return "", err
	}
	if !accept {
		if err := db.EnqueueOutbox(ctx, tx, db.TopicCasePublished, map[string]any{
			"caseId":   caseID,
			"title":    lc.title,
			"category": lc.category,
		}); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("cases: commit respond: %w", err)
	}
	return next, nil
}

// Delete soft-deletes a case owned by clientID and withdraws every open
// offer on it.
func (s *StatusService) Delete(ctx context.Context, caseID, clientID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("cases: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	lc, err := lockCase(ctx, tx, caseID)
	if err != nil {
		return err
	}
	if lc.clientID != clientID {
		return ErrForbidden
	}

	if _, err := tx.Exec(ctx, `UPDATE cases SET deleted_at = now(), updated_at = now() WHERE id = $1`, caseID); err != nil {
		return fmt.Errorf("cases: delete: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE offers SET status = 'WITHDRAWN', updated_at = now()
		WHERE case_id = $1 AND status = 'SUBMITTED'
	`, caseID); err != nil {
		return fmt.Errorf("cases: withdraw offers on delete: %w", err)
	}

	if err := db.EnqueueOutbox(ctx, tx, db.TopicCaseDeleted, map[string]any{"caseId": caseID}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("cases: commit delete: %w", err)
	}
	return nil
}

func enqueueUpdated(ctx context.Context, tx pgx.Tx, caseID int64) error {
	audience, err := db.CaseAudience(ctx, tx, caseID)
	if err != nil {
		return err
	}
	if len(audience) == 0 {
		return nil
	}
	return db.EnqueueOutbox(ctx, tx, db.TopicCaseUpdated, map[string]any{
		"caseId":     caseID,
		"recipients": audience,
	})
}
