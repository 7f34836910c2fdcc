package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Outbox topics written alongside case and offer mutations.
const (
	TopicCasePublished = "case.published"
	TopicCaseAssigned  = "case.assigned"
	TopicCaseUpdated   = "case.updated"
	TopicCaseDeleted   = "case.deleted"
)

// EnqueueOutbox appends a message to the transactional outbox inside tx.
func EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("db: marshal outbox payload: %w", err)
	}
	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("db: enqueue outbox: %w", err)
	}
	return nil
}

// CaseAudience returns the professionals who hold an assignment or any offer
// on the case; they receive personal updates when it changes.
func CaseAudience(ctx context.Context, tx pgx.Tx, caseID int64) ([]int64, error) {
	const q = `
SELECT assigned_professional_id FROM cases WHERE id = $1 AND assigned_professional_id IS NOT NULL
UNION
SELECT professional_id FROM offers WHERE case_id = $1
ORDER BY 1
`
	rows, err := tx.Query(ctx, q, caseID)
	if err != nil {
		return nil, fmt.Errorf("db: query case audience: %w", err)
	}
	defer rows.Close()

	out := make([]int64, 0, 4)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("db: scan case audience: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: iterate case audience: %w", err)
	}
	return out, nil
}
