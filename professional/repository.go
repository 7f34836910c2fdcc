package professional

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested professional does not exist.
var ErrNotFound = errors.New("professional: not found")

// Repository provides read access to professional profiles.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID fetches a professional profile by its primary key.
func (r *Repository) GetByID(ctx context.Context, id int64) (Profile, error) {
	const query = `
		SELECT id, full_name, specializations, verified, created_at
		FROM users
		WHERE id = $1 AND role = 'professional'
	`

	var profile Profile
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&profile.ID,
		&profile.Name,
		&profile.Specializations,
		&profile.Verified,
		&profile.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("professional: query by id: %w", err)
	}

	return profile, nil
}

// List fetches up to limit professional profiles ordered by name.
func (r *Repository) List(ctx context.Context, limit int) ([]Profile, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	const query = `
		SELECT id, full_name, specializations, verified, created_at
		FROM users
		WHERE role = 'professional'
		ORDER BY full_name ASC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("professional: list: %w", err)
	}
	defer rows.Close()

	profiles := make([]Profile, 0, limit)
	for rows.Next() {
		var profile Profile
		if err := rows.Scan(&profile.ID, &profile.Name, &profile.Specializations, &profile.Verified, &profile.CreatedAt); err != nil {
			return nil, fmt.Errorf("professional: scan profile: %w", err)
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("professional: iterate profiles: %w", err)
	}

	return profiles, nil
}

// SetSpecializations replaces the professional's specialization list.
func (r *Repository) SetSpecializations(ctx context.Context, id int64, specializations []string) (Profile, error) {
	if specializations == nil {
		specializations = []string{}
	}
	const query = `
		UPDATE users SET specializations = $2
		WHERE id = $1 AND role = 'professional'
		RETURNING id, full_name, specializations, verified, created_at
	`

	var profile Profile
	err := r.pool.QueryRow(ctx, query, id, specializations).Scan(
		&profile.ID,
		&profile.Name,
		&profile.Specializations,
		&profile.Verified,
		&profile.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("professional: set specializations: %w", err)
	}
	return profile, nil
}
