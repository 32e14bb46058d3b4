// README: Reference data consumed by dispatching (pharmacies, riders, motorcycles).
package fleet

import (
	"time"

	"pharmadispatch/internal/types"
)

type Pharmacy struct {
	LocalID  string       `json:"local_id"`
	Name     string       `json:"local_nombre"`
	Address  string       `json:"local_direccion"`
	Commune  string       `json:"comuna_nombre"`
	Phone    string       `json:"local_telefono,omitempty"`
	Location *types.Point `json:"ubicacion,omitempty"`
	// minutes after midnight; both zero means hours are not registered
	OpensAt  int  `json:"horario_apertura_min"`
	ClosesAt int  `json:"horario_cierre_min"`
	Active   bool `json:"activo"`
}

// OpenAt reports whether t (already in local time) falls inside opening hours.
// Overnight schedules (close before open) wrap past midnight.
func (p Pharmacy) OpenAt(t time.Time) bool {
	if p.OpensAt == 0 && p.ClosesAt == 0 {
		return true
	}
	m := t.Hour()*60 + t.Minute()
	if p.OpensAt <= p.ClosesAt {
		return m >= p.OpensAt && m < p.ClosesAt
	}
	return m >= p.OpensAt || m < p.ClosesAt
}

type Rider struct {
	ID               int64     `json:"id"`
	FirstName        string    `json:"nombre"`
	LastName         string    `json:"apellido"`
	Phone            string    `json:"telefono,omitempty"`
	LicenseNumber    string    `json:"licencia_numero"`
	LicenseExpiresOn time.Time `json:"licencia_vencimiento"`
	Active           bool      `json:"activo"`
}

func (r Rider) FullName() string {
	if r.LastName == "" {
		return r.FirstName
	}
	return r.FirstName + " " + r.LastName
}

// LicenseValidAt compares calendar dates; the license is valid through its
// expiry day.
func (r Rider) LicenseValidAt(t time.Time) bool {
	if r.LicenseExpiresOn.IsZero() {
		return false
	}
	y1, m1, d1 := t.Date()
	y2, m2, d2 := r.LicenseExpiresOn.Date()
	today := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	expiry := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return !today.After(expiry)
}

type Motorcycle struct {
	ID     int64  `json:"id"`
	Plate  string `json:"patente"`
	Brand  string `json:"marca,omitempty"`
	Model  string `json:"modelo,omitempty"`
	Active bool   `json:"activo"`
}
