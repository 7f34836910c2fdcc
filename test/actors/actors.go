package actors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"casedesk/cases"
	"casedesk/offer"
)

// expected reports whether err is a business refusal that contention makes
// routine rather than a harness failure. Deadlock victims and backends killed
// by chaos count as routine too.
func expected(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40P01", pgErr.Code == "40001", strings.HasPrefix(pgErr.Code, "57"):
			return true
		}
	}
	if pgconn.SafeToRetry(err) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	for _, target := range []error{
		cases.ErrNotFound, cases.ErrForbidden, cases.ErrInvalidTransition, cases.ErrNotTargetable,
		offer.ErrActiveOfferExists, offer.ErrNotFound, offer.ErrForbidden, offer.ErrCaseNotOpen,
		offer.ErrNotSubmitted, offer.ErrAlreadyAccepted,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func pause(min, spread int) {
	time.Sleep(time.Duration(min+rand.Intn(spread)) * time.Millisecond)
}

func stopped(ctx context.Context, stop <-chan struct{}) (bool, error) {
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-stop:
		return true, nil
	default:
		return false, nil
	}
}

func randomCase(ctx context.Context, pool *pgxpool.Pool, where string, args ...any) (int64, bool) {
	var id int64
	q := `SELECT id FROM cases WHERE deleted_at IS NULL AND ` + where + ` ORDER BY random() LIMIT 1`
	if err := pool.QueryRow(ctx, q, args...).Scan(&id); err != nil {
		return 0, false
	}
	return id, true
}

// Publisher drafts and publishes cases in the given categories.
func Publisher(ctx context.Context, pool *pgxpool.Pool, clientID int64, categories []string, stop <-chan struct{}) error {
	repo := cases.NewRepository(pool)
	status := cases.NewStatusService(pool)
	for n := 0; ; n++ {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		c, err := repo.Create(ctx, cases.CreateParams{
			ClientID: clientID,
			Title:    fmt.Sprintf("stress case %d-%d", clientID, n),
			Category: categories[rand.Intn(len(categories))],
		})
		if err != nil {
			return fmt.Errorf("publisher create: %w", err)
		}
		_, err = status.Transition(ctx, cases.TransitionParams{
			CaseID: c.ID, ActorID: clientID, ActorRole: cases.ActorClient, NextStatus: cases.StatusPublished,
		})
		if err != nil && !expected(err) {
			return fmt.Errorf("publisher publish: %w", err)
		}
		pause(40, 60)
	}
}

// Bidder submits offers on open cases and withdraws some of them again.
func Bidder(ctx context.Context, pool *pgxpool.Pool, professionalID int64, stop <-chan struct{}) error {
	repo := offer.NewRepository(pool)
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		caseID, ok := randomCase(ctx, pool, `status = 'PUBLISHED' AND assigned_professional_id IS NULL`)
		if ok {
			o, err := repo.Submit(ctx, offer.SubmitParams{CaseID: caseID, ProfessionalID: professionalID, FeeCents: int64(1000 + rand.Intn(9000))})
			switch {
			case err == nil && rand.Intn(3) == 0:
				if _, err := repo.Withdraw(ctx, o.ID, professionalID); err != nil && !expected(err) {
					return fmt.Errorf("bidder withdraw: %w", err)
				}
			case err != nil && !expected(err):
				return fmt.Errorf("bidder submit: %w", err)
			}
		}
		pause(15, 30)
	}
}

// Acceptor accepts a random submitted offer on one of the client's cases.
func Acceptor(ctx context.Context, pool *pgxpool.Pool, clientID int64, stop <-chan struct{}) error {
	repo := offer.NewRepository(pool)
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		var offerID int64
		err := pool.QueryRow(ctx, `
			SELECT o.id FROM offers o JOIN cases c ON c.id = o.case_id
			WHERE c.client_id = $1 AND o.status = 'SUBMITTED'
			ORDER BY random() LIMIT 1`, clientID).Scan(&offerID)
		if err == nil {
			if _, err := repo.Accept(ctx, offerID, clientID); err != nil && !expected(err) {
				return fmt.Errorf("acceptor accept: %w", err)
			}
		}
		pause(50, 80)
	}
}

// Targeter turns open cases into direct requests and answers them as the
// targeted professional.
func Targeter(ctx context.Context, pool *pgxpool.Pool, clientID int64, professionals []int64, stop <-chan struct{}) error {
	status := cases.NewStatusService(pool)
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		pro := professionals[rand.Intn(len(professionals))]
		if caseID, ok := randomCase(ctx, pool, `client_id = $1 AND status = 'PUBLISHED' AND assigned_professional_id IS NULL`, clientID); ok {
			if err := status.Target(ctx, caseID, clientID, pro); err != nil && !expected(err) {
				return fmt.Errorf("targeter target: %w", err)
			}
		}
		if caseID, ok := randomCase(ctx, pool, `status = 'PENDING_APPROVAL' AND assigned_professional_id = $1`, pro); ok {
			if _, err := status.Respond(ctx, caseID, pro, rand.Intn(2) == 0); err != nil && !expected(err) {
				return fmt.Errorf("targeter respond: %w", err)
			}
		}
		pause(60, 80)
	}
}

// Progressor walks assigned cases through payment, funding and closing.
func Progressor(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	status := cases.NewStatusService(pool)
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		var (
			caseID   int64
			assigned int64
			current  string
		)
		err := pool.QueryRow(ctx, `
			SELECT id, assigned_professional_id, status FROM cases
			WHERE deleted_at IS NULL AND status IN ('UNDER_REVIEW', 'PAYMENT_PENDING', 'IN_PROGRESS')
			ORDER BY random() LIMIT 1`).Scan(&caseID, &assigned, &current)
		if err == nil {
			params := cases.TransitionParams{CaseID: caseID, ActorID: assigned, ActorRole: cases.ActorProfessional}
			switch cases.Status(current) {
			case cases.StatusUnderReview:
				params.NextStatus = cases.StatusPaymentPending
			case cases.StatusPaymentPending:
				params.ActorRole, params.ActorID, params.NextStatus = cases.ActorSystem, 0, cases.StatusInProgress
			default:
				params.NextStatus = cases.StatusClosed
			}
			if _, err := status.Transition(ctx, params); err != nil && !expected(err) {
				return fmt.Errorf("progressor %s: %w", params.NextStatus, err)
			}
		}
		pause(80, 100)
	}
}

// Deleter soft-deletes a random case of the client.
func Deleter(ctx context.Context, pool *pgxpool.Pool, clientID int64, stop <-chan struct{}) error {
	status := cases.NewStatusService(pool)
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		if caseID, ok := randomCase(ctx, pool, `client_id = $1`, clientID); ok {
			if err := status.Delete(ctx, caseID, clientID); err != nil && !expected(err) {
				return fmt.Errorf("deleter delete: %w", err)
			}
		}
		pause(150, 150)
	}
}

// Expirer periodically expires every submitted offer older than maxAge.
func Expirer(ctx context.Context, pool *pgxpool.Pool, maxAge time.Duration, stop <-chan struct{}) error {
	repo := offer.NewRepository(pool)
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		if _, err := repo.ExpireSubmitted(ctx, time.Now().Add(-maxAge)); err != nil && !expected(err) {
			return fmt.Errorf("expirer: %w", err)
		}
		pause(500, 500)
	}
}
