package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Fixture is the cast seeded for one stress run.
type Fixture struct {
	ClientIDs       []int64
	ProfessionalIDs []int64
	// Specializations[i] belongs to ProfessionalIDs[i].
	Specializations [][]string
}

// Seed inserts clients and professionals. Passwords are never checked by the
// harness so the hash is a placeholder.
func Seed(ctx context.Context, pool *pgxpool.Pool, run int64, clients int, specs [][]string) (Fixture, error) {
	var f Fixture
	insert := `
		INSERT INTO users (email, full_name, password_hash, role, specializations, verified)
		VALUES ($1, $2, 'x', $3, $4, true) RETURNING id`
	for i := 0; i < clients; i++ {
		var id int64
		email := fmt.Sprintf("client-%d-%d@stress.test", run, i)
		if err := pool.QueryRow(ctx, insert, email, fmt.Sprintf("Client %d", i), "client", []string{}).Scan(&id); err != nil {
			return Fixture{}, fmt.Errorf("seed client: %w", err)
		}
		f.ClientIDs = append(f.ClientIDs, id)
	}
	for i, s := range specs {
		var id int64
		email := fmt.Sprintf("pro-%d-%d@stress.test", run, i)
		if err := pool.QueryRow(ctx, insert, email, fmt.Sprintf("Professional %d", i), "professional", s).Scan(&id); err != nil {
			return Fixture{}, fmt.Errorf("seed professional: %w", err)
		}
		f.ProfessionalIDs = append(f.ProfessionalIDs, id)
		f.Specializations = append(f.Specializations, s)
	}
	return f, nil
}

// Reset truncates every mutable table.
func Reset(ctx context.Context, pool *pgxpool.Pool) error {
	tables := []string{"outbox", "offers", "cases", "users"}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reset begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, tbl := range tables {
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+tbl+" RESTART IDENTITY CASCADE"); err != nil {
			return fmt.Errorf("truncate %s: %w", tbl, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reset commit: %w", err)
	}
	return nil
}
