package professional

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestService_UpdateSpecializationsNormalises(t *testing.T) {
	store := newFakeStore(Profile{ID: 1, Name: "Pat"})
	svc := NewService(store)

	p, err := svc.UpdateSpecializations(context.Background(), 1, " Family Law , civil,,")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !reflect.DeepEqual(p.Specializations, []string{"Family Law", "civil"}) {
		t.Fatalf("unexpected specializations %v", p.Specializations)
	}

	if _, err := svc.UpdateSpecializations(context.Background(), 9, "tax"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type fakeStore struct {
	profiles []Profile
}

func newFakeStore(profiles ...Profile) *fakeStore {
	return &fakeStore{profiles: profiles}
}

func (f *fakeStore) GetByID(ctx context.Context, id int64) (Profile, error) {
	for _, p := range f.profiles {
		if p.ID == id {
			return p, nil
		}
	}
	return Profile{}, ErrNotFound
}

func (f *fakeStore) List(ctx context.Context, limit int) ([]Profile, error) {
	return f.profiles, nil
}

func (f *fakeStore) SetSpecializations(ctx context.Context, id int64, specializations []string) (Profile, error) {
	for i, p := range f.profiles {
		if p.ID == id {
			f.profiles[i].Specializations = specializations
			return f.profiles[i], nil
		}
	}
	return Profile{}, ErrNotFound
}
