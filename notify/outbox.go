package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultMaxAttempts is how many failed deliveries a row survives before it
// is marked dead.
const DefaultMaxAttempts = 5

// Message is one pending outbox row.
type Message struct {
	ID       string
	Topic    string
	Payload  []byte
	Attempts int
}

// Store hands out pending outbox rows. Handle is called once per claimed row
// inside the claiming transaction; a nil return marks the row processed and
// an error counts an attempt.
type Store interface {
	Process(ctx context.Context, limit int, handle func(Message) error) (int, error)
}

type PGOutbox struct {
	pool        *pgxpool.Pool
	maxAttempts int
}

func NewPGOutbox(pool *pgxpool.Pool, maxAttempts int) *PGOutbox {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &PGOutbox{pool: pool, maxAttempts: maxAttempts}
}

// Process claims up to limit pending rows with SKIP LOCKED so concurrent
// relays never deliver the same row twice.
func (o *PGOutbox) Process(ctx context.Context, limit int, handle func(Message) error) (int, error) {
	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("notify: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const q = `
SELECT id::text, topic, payload, attempts
FROM outbox
WHERE status = 'pending'
ORDER BY created_at
FOR UPDATE SKIP LOCKED
LIMIT $1
`
	rows, err := tx.Query(ctx, q, limit)
	if err != nil {
		return 0, fmt.Errorf("notify: claim outbox: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
		var m Message
		err := row.Scan(&m.ID, &m.Topic, &m.Payload, &m.Attempts)
		return m, err
	})
	if err != nil {
		return 0, fmt.Errorf("notify: scan outbox: %w", err)
	}

	done := 0
	for _, m := range msgs {
		if herr := handle(m); herr != nil {
			status := "pending"
			if m.Attempts+1 >= o.maxAttempts {
				status = "dead"
			}
			const fail = `UPDATE outbox SET attempts = attempts + 1, status = $2, last_attempt = now() WHERE id = $1::uuid`
			if _, err := tx.Exec(ctx, fail, m.ID, status); err != nil {
				return 0, fmt.Errorf("notify: record attempt: %w", err)
			}
			continue
		}
		const ok = `UPDATE outbox SET status = 'processed', last_attempt = now() WHERE id = $1::uuid`
		if _, err := tx.Exec(ctx, ok, m.ID); err != nil {
			return 0, fmt.Errorf("notify: mark processed: %w", err)
		}
		done++
	}

	if err := tx.Commit(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0, err
		}
		return 0, fmt.Errorf("notify: commit: %w", err)
	}
	return done, nil
}
