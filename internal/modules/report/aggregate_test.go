// README: Bucket and merge tests for the operational summary.
package report

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmadispatch/internal/modules/dispatch"
	"pharmadispatch/internal/types"
)

func minutes(n int) *int { return &n }

func clp(s string) *types.Money {
	m := types.CLP(decimal.RequireFromString(s))
	return &m
}

// sampleDispatches spans two pharmacies and two local days.
func sampleDispatches() []dispatch.Dispatch {
	day1 := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, 3, 11, 14, 0, 0, 0, time.UTC)
	return []dispatch.Dispatch{
		{ID: 1, OriginPharmacyID: "756", Status: dispatch.StatusDelivered, Type: dispatch.TypeHomeDelivery,
			RegisteredAt: day1, TotalMinutes: minutes(40), DeclaredValue: clp("15990.50")},
		{ID: 2, OriginPharmacyID: "756", Status: dispatch.StatusDelivered, Type: dispatch.TypePrescriptionResend,
			HasRetainedPrescription: true, RegisteredAt: day1, TotalMinutes: minutes(45)},
		{ID: 3, OriginPharmacyID: "756", Status: dispatch.StatusFailed, Type: dispatch.TypeHomeDelivery,
			HadIncident: true, RegisteredAt: day2, TotalMinutes: minutes(0), DeclaredValue: clp("1000")},
		{ID: 4, OriginPharmacyID: "812", Status: dispatch.StatusPending, Type: dispatch.TypeBranchExchange,
			RegisteredAt: day1},
		{ID: 5, OriginPharmacyID: "812", Status: dispatch.StatusInTransit, Type: dispatch.TypeDispatchError,
			RegisteredAt: day2, DeclaredValue: clp("250.25")},
		{ID: 6, OriginPharmacyID: "812", Status: dispatch.StatusVoided, Type: dispatch.TypeHomeDelivery,
			RegisteredAt: day2},
		{ID: 7, OriginPharmacyID: "900", Status: dispatch.StatusAssigned, Type: dispatch.TypeHomeDelivery,
			RegisteredAt: day2},
	}
}

func TestBucketsFromDispatches_LocalDays(t *testing.T) {
	loc, err := time.LoadLocation("America/Santiago")
	require.NoError(t, err)
	late := time.Date(2025, 3, 11, 1, 0, 0, 0, time.UTC) // March 10 in Santiago

	buckets := BucketsFromDispatches([]dispatch.Dispatch{
		{OriginPharmacyID: "756", RegisteredAt: late, Status: dispatch.StatusPending},
	}, loc)
	require.Len(t, buckets, 1)
	assert.Equal(t, "2025-03-10", buckets[0].Day)

	buckets = BucketsFromDispatches(sampleDispatches(), time.UTC)
	assert.Len(t, buckets, 5)
}

func TestMerge(t *testing.T) {
	rows := Merge(BucketsFromDispatches(sampleDispatches(), time.UTC))
	require.Len(t, rows, 3)

	// 756 and 812 tie on total; id breaks the tie
	assert.Equal(t, "756", rows[0].PharmacyID)
	assert.Equal(t, "812", rows[1].PharmacyID)
	assert.Equal(t, "900", rows[2].PharmacyID)

	r := rows[0]
	assert.Equal(t, int64(3), r.Total)
	assert.Equal(t, int64(2), r.Delivered)
	assert.Equal(t, int64(1), r.Failed)
	assert.Equal(t, int64(1), r.WithPrescription)
	assert.Equal(t, int64(1), r.WithIncident)
	assert.Equal(t, int64(2), r.HomeDelivery)
	assert.Equal(t, int64(1), r.PrescriptionResend)
	assert.Equal(t, int64(42), r.AvgMinutes, "floor of 85/2, zero minutes ignored")
	assert.Equal(t, "16990.5", r.DeclaredTotal.String())

	r = rows[1]
	assert.Equal(t, int64(1), r.Pending)
	assert.Equal(t, int64(1), r.InTransit)
	assert.Equal(t, int64(1), r.Voided)
	assert.Equal(t, int64(1), r.BranchExchange)
	assert.Equal(t, int64(1), r.DispatchError)
	assert.Equal(t, int64(0), r.AvgMinutes)
	assert.Equal(t, "250.25", r.DeclaredTotal.String())

	assert.Equal(t, "900", rows[2].PharmacyName, "id stands in for unknown names")
	assert.Empty(t, Merge(nil))
}

func TestMerge_BucketSplitDoesNotChangeResult(t *testing.T) {
	ds := sampleDispatches()
	whole := Merge(BucketsFromDispatches(ds, time.UTC))

	// one bucket per dispatch must merge to the same rows
	var split []Bucket
	for i := range ds {
		split = append(split, BucketsFromDispatches(ds[i:i+1], time.UTC)...)
	}
	assertRowsEqual(t, whole, Merge(split))
}

func assertRowsEqual(t *testing.T, want, got []Row) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		w, g := want[i], got[i]
		assert.True(t, w.DeclaredTotal.Equal(g.DeclaredTotal), "row %d valor_total %s != %s", i, w.DeclaredTotal, g.DeclaredTotal)
		w.DeclaredTotal, g.DeclaredTotal = decimal.Zero, decimal.Zero
		assert.Equal(t, w, g, "row %d", i)
	}
}
