// README: Read models for operators: active dispatches and pending prescription returns.
package dispatch

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"pharmadispatch/internal/modules/fleet"
)

type ActiveDispatch struct {
	Dispatch
	OriginPharmacyName      string   `json:"farmacia_origen"`
	RiderName               string   `json:"motorista"`
	MotorcyclePlate         string   `json:"moto_patente,omitempty"`
	MinutesInRoute          *int     `json:"minutos_en_ruta,omitempty"`
	DistanceToDestinationKm *float64 `json:"distancia_destino_km,omitempty"`
}

// ListActive returns non-terminal dispatches, highest priority first.
func (s *Service) ListActive(ctx context.Context, f ActiveFilter) ([]ActiveDispatch, error) {
	rows, err := s.store.ListActive(ctx, f)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(rows))
	for i := range rows {
		ids[i] = rows[i].ID
	}
	positions, err := s.store.LatestPositions(ctx, ids)
	if err != nil {
		return nil, err
	}

	names := newNameCache(s.fleet)
	now := s.now()
	out := make([]ActiveDispatch, 0, len(rows))
	for _, d := range rows {
		a := ActiveDispatch{
			Dispatch:           d,
			OriginPharmacyName: names.pharmacy(ctx, d.OriginPharmacyID),
			RiderName:          names.rider(ctx, d.RiderID),
			MotorcyclePlate:    names.plate(ctx, d.RiderID),
		}
		if d.LeftPharmacyAt != nil {
			m := int(now.Sub(*d.LeftPharmacyAt) / time.Minute)
			a.MinutesInRoute = &m
		}
		if p, ok := positions[d.ID]; ok && d.Destination != nil {
			km := p.DistanceKm(*d.Destination)
			a.DistanceToDestinationKm = &km
		}
		out = append(out, a)
	}
	if len(names.misses) > 0 {
		s.logger.Debug("active listing with missing reference data", zap.Strings("keys", names.misses))
	}
	return out, nil
}

const (
	AlertCritical = "CRITICO"
	AlertHigh     = "ALTO"
	AlertNormal   = "NORMAL"
)

type PendingReturn struct {
	Dispatch
	OriginPharmacyName  string `json:"farmacia_origen"`
	RiderName           string `json:"motorista"`
	DaysSinceRegistered int    `json:"dias_desde_registro"`
	DaysSinceCompleted  *int   `json:"dias_desde_completado,omitempty"`
	AlertLevel          string `json:"nivel_alerta"`
}

func alertLevel(daysSinceCompleted *int) string {
	switch {
	case daysSinceCompleted == nil:
		return AlertNormal
	case *daysSinceCompleted >= 3:
		return AlertCritical
	case *daysSinceCompleted >= 1:
		return AlertHigh
	}
	return AlertNormal
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

// PendingReturns lists retained prescriptions still owed to the pharmacy,
// longest outstanding first.
func (s *Service) PendingReturns(ctx context.Context) ([]PendingReturn, error) {
	rows, err := s.store.ListPendingReturns(ctx)
	if err != nil {
		return nil, err
	}
	names := newNameCache(s.fleet)
	now := s.now()
	out := make([]PendingReturn, 0, len(rows))
	for _, d := range rows {
		p := PendingReturn{
			Dispatch:            d,
			OriginPharmacyName:  names.pharmacy(ctx, d.OriginPharmacyID),
			RiderName:           names.rider(ctx, d.RiderID),
			DaysSinceRegistered: daysBetween(d.RegisteredAt, now),
		}
		if d.CompletedAt != nil {
			days := daysBetween(*d.CompletedAt, now)
			p.DaysSinceCompleted = &days
		}
		p.AlertLevel = alertLevel(p.DaysSinceCompleted)
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return daysOrMinus(out[i].DaysSinceCompleted) > daysOrMinus(out[j].DaysSinceCompleted)
	})
	return out, nil
}

func daysOrMinus(d *int) int {
	if d == nil {
		return -1
	}
	return *d
}

// nameCache memoizes reference lookups for one listing.
type nameCache struct {
	fleet      *fleet.Service
	pharmacies map[string]string
	riders     map[int64]string
	plates     map[int64]string
	misses     []string
}

func newNameCache(f *fleet.Service) *nameCache {
	return &nameCache{
		fleet:      f,
		pharmacies: make(map[string]string),
		riders:     make(map[int64]string),
		plates:     make(map[int64]string),
	}
}

func (c *nameCache) pharmacy(ctx context.Context, id string) string {
	if v, ok := c.pharmacies[id]; ok {
		return v
	}
	name := ""
	if p, err := c.fleet.Pharmacy(ctx, id); err == nil {
		name = p.Name
	} else {
		c.misses = append(c.misses, "farmacia:"+id)
	}
	c.pharmacies[id] = name
	return name
}

func (c *nameCache) rider(ctx context.Context, id int64) string {
	if v, ok := c.riders[id]; ok {
		return v
	}
	name := ""
	if r, err := c.fleet.Rider(ctx, id); err == nil {
		name = r.FullName()
	} else {
		c.misses = append(c.misses, "motorista:"+recordID(id))
	}
	c.riders[id] = name
	return name
}

func (c *nameCache) plate(ctx context.Context, riderID int64) string {
	if v, ok := c.plates[riderID]; ok {
		return v
	}
	plate := ""
	if m, err := c.fleet.ActiveMotorcycle(ctx, riderID); err == nil {
		plate = m.Plate
	}
	c.plates[riderID] = plate
	return plate
}
