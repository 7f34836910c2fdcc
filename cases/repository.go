package cases

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound  = errors.New("cases: not found")
	ErrForbidden = errors.New("cases: forbidden")
)

// Repository is the read side of the bulk case API.
type Repository interface {
	ListAssigned(ctx context.Context, professionalID int64) ([]Case, error)
	ListRecommended(ctx context.Context, filters Filters) ([]Case, error)
	GetDetail(ctx context.Context, id int64) (Detail, error)
	Create(ctx context.Context, params CreateParams) (Case, error)
}

// CreateParams carries the fields a client supplies for a new draft.
type CreateParams struct {
	ClientID    int64
	Title       string
	Description string
	Category    string
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const caseColumns = `c.id, c.title, c.category, c.status, c.client_id, u.full_name, c.assigned_professional_id, c.verified, c.created_at, c.updated_at`

func (r *PGRepository) ListAssigned(ctx context.Context, professionalID int64) ([]Case, error) {
	query := `
		SELECT ` + caseColumns + `
		FROM cases c
		JOIN users u ON u.id = c.client_id
		WHERE c.assigned_professional_id = $1
		  AND c.deleted_at IS NULL
		ORDER BY c.updated_at DESC, c.id DESC
	`
	rows, err := r.pool.Query(ctx, query, professionalID)
	if err != nil {
		return nil, fmt.Errorf("cases: list assigned: %w", err)
	}
	return collectCases(rows)
}

// ListRecommended returns unassigned published cases whose category loosely
// matches one of the professional's specializations. An empty specialization
// list returns every open case.
func (r *PGRepository) ListRecommended(ctx context.Context, filters Filters) ([]Case, error) {
	if filters.Limit <= 0 || filters.Limit > 200 {
		filters.Limit = 100
	}

	where := []string{
		"c.status = 'PUBLISHED'",
		"c.assigned_professional_id IS NULL",
		"c.deleted_at IS NULL",
	}
	args := []any{}
	if len(filters.Specializations) > 0 {
		patterns := make([]string, 0, len(filters.Specializations))
		for _, s := range filters.Specializations {
			if s = strings.TrimSpace(s); s != "" {
				patterns = append(patterns, "%"+s+"%")
			}
		}
		if len(patterns) > 0 {
			args = append(args, patterns)
			where = append(where, fmt.Sprintf("(c.category = '' OR c.category ILIKE ANY($%d) OR EXISTS (SELECT 1 FROM unnest($%d::text[]) p WHERE p ILIKE '%%' || c.category || '%%'))", len(args), len(args)))
		}
	}
	args = append(args, filters.Limit)

	query := fmt.Sprintf(`
		SELECT %s
		FROM cases c
		JOIN users u ON u.id = c.client_id
		WHERE %s
		ORDER BY c.created_at DESC, c.id DESC
		LIMIT $%d
	`, caseColumns, strings.Join(where, " AND "), len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("cases: list recommended: %w", err)
	}
	return collectCases(rows)
}

func (r *PGRepository) GetDetail(ctx context.Context, id int64) (Detail, error) {
	query := `
		SELECT ` + caseColumns + `, c.description,
		       (SELECT COUNT(*) FROM offers o WHERE o.case_id = c.id)
		FROM cases c
		JOIN users u ON u.id = c.client_id
		WHERE c.id = $1 AND c.deleted_at IS NULL
	`
	var (
		d      Detail
		status string
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&d.ID, &d.Title, &d.Category, &status, &d.ClientID, &d.ClientName,
		&d.AssignedProfessionalID, &d.Verified, &d.CreatedAt, &d.UpdatedAt,
		&d.Description, &d.OfferCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Detail{}, ErrNotFound
		}
		return Detail{}, fmt.Errorf("cases: get detail: %w", err)
	}
	d.Status = ParseStatus(status)
	return d, nil
}

func (r *PGRepository) Create(ctx context.Context, params CreateParams) (Case, error) {
	if params.ClientID <= 0 {
		return Case{}, fmt.Errorf("cases: client id required")
	}
	if strings.TrimSpace(params.Title) == "" {
		return Case{}, fmt.Errorf("cases: title required")
	}

	const query = `
		WITH ins AS (
			INSERT INTO cases (title, description, category, client_id, status)
			SELECT $1, $2, $3, u.id, 'DRAFT'
			FROM users u
			WHERE u.id = $4 AND u.role = 'client'
			RETURNING *
		)
		SELECT c.id, c.title, c.category, c.status, c.client_id, u.full_name, c.assigned_professional_id, c.verified, c.created_at, c.updated_at
		FROM ins c
		JOIN users u ON u.id = c.client_id
	`
	c, err := scanCase(r.pool.QueryRow(ctx, query,
		strings.TrimSpace(params.Title),
		params.Description,
		strings.TrimSpace(params.Category),
		params.ClientID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Case{}, ErrForbidden
		}
		return Case{}, fmt.Errorf("cases: create: %w", err)
	}
	return c, nil
}

func collectCases(rows pgx.Rows) ([]Case, error) {
	defer rows.Close()

	out := make([]Case, 0, 16)
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("cases: scan case: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cases: iterate cases: %w", err)
	}
	return out, nil
}

func scanCase(row pgx.Row) (Case, error) {
	var (
		c      Case
		status string
	)
	if err := row.Scan(&c.ID, &c.Title, &c.Category, &status, &c.ClientID, &c.ClientName,
		&c.AssignedProfessionalID, &c.Verified, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Case{}, err
	}
	c.Status = ParseStatus(status)
	return c, nil
}
