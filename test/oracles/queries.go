package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_submitted_per_professional",
			SQL: `SELECT case_id, professional_id, COUNT(*) FROM offers
                  WHERE status = 'SUBMITTED'
                  GROUP BY case_id, professional_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_single_accepted_per_case",
			SQL: `SELECT case_id, COUNT(*) FROM offers
                  WHERE status IN ('ACCEPTED', 'FUNDED')
                  GROUP BY case_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O3_no_submitted_sibling_of_accepted",
			SQL: `SELECT o.id, o.case_id FROM offers o
                  JOIN offers a ON a.case_id = o.case_id AND a.status IN ('ACCEPTED', 'FUNDED')
                  WHERE o.status = 'SUBMITTED'`,
		},
		{
			Name: "O4_accepted_offer_matches_assignment",
			SQL: `SELECT o.id, o.professional_id, c.assigned_professional_id FROM offers o
                  JOIN cases c ON c.id = o.case_id
                  WHERE o.status IN ('ACCEPTED', 'FUNDED')
                    AND c.assigned_professional_id IS DISTINCT FROM o.professional_id`,
		},
		{
			Name: "O5_assignment_required",
			SQL: `SELECT id, status FROM cases
                  WHERE status NOT IN ('DRAFT', 'PUBLISHED') AND assigned_professional_id IS NULL`,
		},
		{
			Name: "O6_funded_only_in_progress",
			SQL: `SELECT o.id, c.status FROM offers o JOIN cases c ON c.id = o.case_id
                  WHERE o.status = 'FUNDED' AND c.status NOT IN ('IN_PROGRESS', 'CLOSED')`,
		},
		{
			Name: "O7_deleted_without_submitted",
			SQL: `SELECT o.id FROM offers o JOIN cases c ON c.id = o.case_id
                  WHERE c.deleted_at IS NOT NULL AND o.status = 'SUBMITTED'
                    AND o.created_at < c.deleted_at`,
		},
		{
			Name: "O8_outbox_drained",
			SQL: `SELECT id::text FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '1 minute'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
