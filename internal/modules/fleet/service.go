// README: Fleet service; eligibility checks used when dispatches are created.
package fleet

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrPharmacyInactive = errors.New("pharmacy is inactive")
	ErrRiderInactive    = errors.New("rider is inactive")
	ErrLicenseExpired   = errors.New("licencia vencida")
)

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) Pharmacy(ctx context.Context, localID string) (*Pharmacy, error) {
	return s.store.GetPharmacy(ctx, localID)
}

func (s *Service) Pharmacies(ctx context.Context) ([]Pharmacy, error) {
	return s.store.ListPharmacies(ctx)
}

func (s *Service) Rider(ctx context.Context, id int64) (*Rider, error) {
	return s.store.GetRider(ctx, id)
}

func (s *Service) ActiveMotorcycle(ctx context.Context, riderID int64) (*Motorcycle, error) {
	return s.store.ActiveMotorcycle(ctx, riderID)
}

func (s *Service) RequireActivePharmacy(ctx context.Context, localID string) (*Pharmacy, error) {
	p, err := s.store.GetPharmacy(ctx, localID)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, ErrPharmacyInactive
	}
	return p, nil
}

// RequireAssignableRider checks the rider exists, is active and holds a
// license valid on the date of at.
func (s *Service) RequireAssignableRider(ctx context.Context, id int64, at time.Time) (*Rider, error) {
	r, err := s.store.GetRider(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.Active {
		return nil, ErrRiderInactive
	}
	if !r.LicenseValidAt(at) {
		return nil, ErrLicenseExpired
	}
	return r, nil
}
