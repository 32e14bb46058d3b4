// README: Operational summary; view first, scan fallback, cached per period and pharmacy.
package report

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"pharmadispatch/internal/modules/fleet"
)

type Service struct {
	view   Source
	scan   Source
	cache  *Cache
	fleet  *fleet.Service
	loc    *time.Location
	logger *zap.Logger
	now    func() time.Time
}

// NewService takes a nil view when no precomputed source exists (memory
// storage); summaries then always come from the scan.
func NewService(view, scan Source, cache *Cache, fleetSvc *fleet.Service, loc *time.Location, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		view:   view,
		scan:   scan,
		cache:  cache,
		fleet:  fleetSvc,
		loc:    loc,
		logger: logger,
		now:    time.Now,
	}
}

type Query struct {
	Period     string
	Date       string
	PharmacyID string
}

func (s *Service) Summary(ctx context.Context, q Query) (*Summary, error) {
	p, err := ParsePeriod(q.Period, q.Date, s.loc, s.now())
	if err != nil {
		return nil, err
	}
	pharmacyID := strings.TrimSpace(q.PharmacyID)

	key := cacheKey(p, pharmacyID)
	if cached, ok := s.cache.Get(ctx, key); ok {
		return cached, nil
	}

	buckets, source, err := s.buckets(ctx, p, pharmacyID)
	if err != nil {
		return nil, err
	}
	rows := Merge(buckets)
	s.describe(ctx, rows)

	out := &Summary{Period: p, PharmacyID: pharmacyID, Source: source, Rows: rows}
	s.cache.Set(ctx, key, out)
	return out, nil
}

func (s *Service) buckets(ctx context.Context, p Period, pharmacyID string) ([]Bucket, string, error) {
	if s.view != nil {
		b, err := s.view.Buckets(ctx, p, pharmacyID)
		switch {
		case err == nil && len(b) > 0:
			return b, SourceView, nil
		case err != nil && !errors.Is(err, ErrSourceUnavailable):
			return nil, "", err
		}
		s.logger.Info("summary view unavailable or empty, scanning dispatches",
			zap.String("periodo", string(p.Kind)),
			zap.String("etiqueta", p.Label),
			zap.Error(err),
		)
	}
	b, err := s.scan.Buckets(ctx, p, pharmacyID)
	if err != nil {
		return nil, "", err
	}
	return b, SourceScan, nil
}

// describe fills pharmacy names; unknown pharmacies keep their id as name.
func (s *Service) describe(ctx context.Context, rows []Row) {
	if s.fleet == nil {
		return
	}
	pharmacies, err := s.fleet.Pharmacies(ctx)
	if err != nil {
		s.logger.Warn("pharmacy names unavailable for summary", zap.Error(err))
		return
	}
	byID := make(map[string]fleet.Pharmacy, len(pharmacies))
	for _, p := range pharmacies {
		byID[p.LocalID] = p
	}
	for i := range rows {
		if p, ok := byID[rows[i].PharmacyID]; ok {
			rows[i].PharmacyName = p.Name
			rows[i].Commune = p.Commune
		}
	}
}
