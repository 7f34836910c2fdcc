package professional

import (
	"context"

	"casedesk/matching"
)

// ProfileStore abstracts repository operations for the service.
type ProfileStore interface {
	GetByID(ctx context.Context, id int64) (Profile, error)
	List(ctx context.Context, limit int) ([]Profile, error)
	SetSpecializations(ctx context.Context, id int64, specializations []string) (Profile, error)
}

// Service exposes business-level professional operations.
type Service struct {
	repo ProfileStore
}

// NewService builds a Service using the provided repository.
func NewService(repo ProfileStore) *Service {
	return &Service{repo: repo}
}

// GetByID returns the professional profile for the given identifier.
func (s *Service) GetByID(ctx context.Context, id int64) (Profile, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns up to limit professional profiles.
func (s *Service) List(ctx context.Context, limit int) ([]Profile, error) {
	return s.repo.List(ctx, limit)
}

// UpdateSpecializations normalises a comma separated list and stores it.
func (s *Service) UpdateSpecializations(ctx context.Context, id int64, raw string) (Profile, error) {
	return s.repo.SetSpecializations(ctx, id, matching.Parse(raw))
}
