// README: Reference data checks (active pharmacy, rider license, motorcycle).
package fleet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireAssignableRider(t *testing.T) {
	store := NewMemoryStore()
	expiry := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	store.PutRider(Rider{ID: 1, FirstName: "Ana", LastName: "Rojas", LicenseExpiresOn: expiry, Active: true})
	store.PutRider(Rider{ID: 2, FirstName: "Luis", LicenseExpiresOn: expiry.AddDate(1, 0, 0), Active: false})
	svc := NewService(store)
	ctx := context.Background()

	tests := []struct {
		name    string
		id      int64
		at      time.Time
		wantErr error
	}{
		{"valid before expiry", 1, expiry.AddDate(0, 0, -5), nil},
		{"valid on expiry day", 1, expiry.Add(20 * time.Hour), nil},
		{"expired the day after", 1, expiry.AddDate(0, 0, 1), ErrLicenseExpired},
		{"inactive rider", 2, expiry, ErrRiderInactive},
		{"unknown rider", 99, expiry, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := svc.RequireAssignableRider(ctx, tt.id, tt.at)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Ana Rojas", r.FullName())
		})
	}
}

func TestRequireActivePharmacy(t *testing.T) {
	store := NewMemoryStore()
	store.PutPharmacy(Pharmacy{LocalID: "756", Name: "Cruz Verde Providencia", Active: true})
	store.PutPharmacy(Pharmacy{LocalID: "101", Name: "Cerrada", Active: false})
	svc := NewService(store)
	ctx := context.Background()

	p, err := svc.RequireActivePharmacy(ctx, "756")
	require.NoError(t, err)
	assert.Equal(t, "Cruz Verde Providencia", p.Name)

	_, err = svc.RequireActivePharmacy(ctx, "101")
	assert.ErrorIs(t, err, ErrPharmacyInactive)

	_, err = svc.RequireActivePharmacy(ctx, "000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPharmacyOpenAt(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2025, 3, 10, h, m, 0, 0, time.UTC) }

	day := Pharmacy{OpensAt: 9 * 60, ClosesAt: 21 * 60}
	assert.True(t, day.OpenAt(at(9, 0)))
	assert.True(t, day.OpenAt(at(20, 59)))
	assert.False(t, day.OpenAt(at(21, 0)))
	assert.False(t, day.OpenAt(at(8, 30)))

	night := Pharmacy{OpensAt: 22 * 60, ClosesAt: 6 * 60}
	assert.True(t, night.OpenAt(at(23, 0)))
	assert.True(t, night.OpenAt(at(5, 59)))
	assert.False(t, night.OpenAt(at(12, 0)))

	assert.True(t, Pharmacy{}.OpenAt(at(3, 0)), "no registered hours")
}

func TestActiveMotorcycle(t *testing.T) {
	store := NewMemoryStore()
	store.AssignMotorcycle(1, Motorcycle{ID: 4, Plate: "KLXT-21", Active: true})
	svc := NewService(store)

	m, err := svc.ActiveMotorcycle(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "KLXT-21", m.Plate)

	_, err = svc.ActiveMotorcycle(context.Background(), 2)
	assert.ErrorIs(t, err, ErrNotFound)
}
