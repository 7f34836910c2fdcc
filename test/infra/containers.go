package infra

import (
	"context"
	"os"

	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// DefaultImage is the Postgres image the harness boots; STRESS_TEST_PG_IMAGE
// overrides it.
const DefaultImage = "postgres:16-alpine"

type PGContainer struct {
	C *postgres.PostgresContainer
}

// StartPostgres16 boots a throwaway Postgres and returns its DSN. A non-empty
// overrideDSN or STRESS_TEST_PG_DSN skips the container entirely.
func StartPostgres16(ctx context.Context, overrideDSN string) (*PGContainer, string, error) {
	if overrideDSN == "" {
		overrideDSN = os.Getenv("STRESS_TEST_PG_DSN")
	}
	if overrideDSN != "" {
		return &PGContainer{}, overrideDSN, nil
	}

	image := os.Getenv("STRESS_TEST_PG_IMAGE")
	if image == "" {
		image = DefaultImage
	}
	pgC, err := postgres.Run(ctx, image,
		postgres.WithDatabase("casedesk"),
		postgres.WithUsername("casedesk"),
		postgres.WithPassword("casedesk"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, "", err
	}

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, "", err
	}
	return &PGContainer{C: pgC}, dsn, nil
}

// Terminate stops the container; it is a no-op for a reused database.
func (p *PGContainer) Terminate(ctx context.Context) error {
	if p == nil || p.C == nil {
		return nil
	}
	return p.C.Terminate(ctx)
}
