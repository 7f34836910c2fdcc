package offer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TestAcceptFlow_Integration connects to a real PostgreSQL via DATABASE_URL
// and checks submit, duplicate refusal, acceptance and its side effects.
func TestAcceptFlow_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	for _, tbl := range []string{"users", "cases", "offers", "outbox"} {
		if !tableExists(ctx, t, pool, tbl) {
			t.Skip("database schema missing; apply migrations/0001_casedesk.sql first")
		}
	}

	stamp := time.Now().UnixNano()
	seedUser := func(role, name string) int64 {
		var id int64
		err := pool.QueryRow(ctx, `
			INSERT INTO users (email, full_name, password_hash, role)
			VALUES ($1, $2, 'x', $3) RETURNING id`,
			fmt.Sprintf("%s+%d@example.com", role+name, stamp), name, role).Scan(&id)
		if err != nil {
			t.Fatalf("seed %s: %v", role, err)
		}
		return id
	}
	clientID := seedUser("client", "Casey")
	first := seedUser("professional", "Pat")
	second := seedUser("professional", "Robin")

	var caseID int64
	if err := pool.QueryRow(ctx, `
		INSERT INTO cases (title, category, status, client_id)
		VALUES ('Lease dispute', 'Civil', 'PUBLISHED', $1) RETURNING id`, clientID).Scan(&caseID); err != nil {
		t.Fatalf("seed case: %v", err)
	}

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		_, _ = pool.Exec(ctx2, `DELETE FROM outbox WHERE (payload->>'caseId')::bigint = $1`, caseID)
		_, _ = pool.Exec(ctx2, `DELETE FROM offers WHERE case_id = $1`, caseID)
		_, _ = pool.Exec(ctx2, `DELETE FROM cases WHERE id = $1`, caseID)
		_, _ = pool.Exec(ctx2, `DELETE FROM users WHERE id = ANY($1)`, []int64{clientID, first, second})
	})

	repo := NewRepository(pool)

	winner, err := repo.Submit(ctx, SubmitParams{CaseID: caseID, ProfessionalID: first, FeeCents: 50000})
	if err != nil {
		t.Fatalf("submit first: %v", err)
	}
	if _, err := repo.Submit(ctx, SubmitParams{CaseID: caseID, ProfessionalID: first, FeeCents: 40000}); !errors.Is(err, ErrActiveOfferExists) {
		t.Fatalf("expected ErrActiveOfferExists, got %v", err)
	}
	loser, err := repo.Submit(ctx, SubmitParams{CaseID: caseID, ProfessionalID: second, FeeCents: 45000})
	if err != nil {
		t.Fatalf("submit second: %v", err)
	}

	if _, err := repo.Accept(ctx, winner.ID, second); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for a non-owner, got %v", err)
	}

	accepted, err := repo.Accept(ctx, winner.ID, clientID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != StatusAccepted {
		t.Fatalf("expected ACCEPTED, got %s", accepted.Status)
	}

	// Replay is idempotent.
	if _, err := repo.Accept(ctx, winner.ID, clientID); err != nil {
		t.Fatalf("replayed accept: %v", err)
	}
	if _, err := repo.Accept(ctx, loser.ID, clientID); !errors.Is(err, ErrCaseNotOpen) {
		t.Fatalf("expected ErrCaseNotOpen for the sibling, got %v", err)
	}

	var siblingStatus string
	if err := pool.QueryRow(ctx, `SELECT status FROM offers WHERE id = $1`, loser.ID).Scan(&siblingStatus); err != nil {
		t.Fatalf("read sibling: %v", err)
	}
	if siblingStatus != string(StatusRejected) {
		t.Fatalf("expected sibling REJECTED, got %s", siblingStatus)
	}

	var (
		caseStatus string
		assigned   *int64
	)
	if err := pool.QueryRow(ctx, `SELECT status, assigned_professional_id FROM cases WHERE id = $1`, caseID).Scan(&caseStatus, &assigned); err != nil {
		t.Fatalf("read case: %v", err)
	}
	if caseStatus != "UNDER_REVIEW" || assigned == nil || *assigned != first {
		t.Fatalf("expected UNDER_REVIEW assigned to %d, got %s %v", first, caseStatus, assigned)
	}

	var topics int
	if err := pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM outbox
		WHERE (payload->>'caseId')::bigint = $1 AND topic IN ('case.assigned', 'case.updated')`, caseID).Scan(&topics); err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if topics != 2 {
		t.Fatalf("expected 2 outbox rows, got %d", topics)
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	if err := pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, name).Scan(&exists); err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
