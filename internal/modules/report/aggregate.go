// README: Bucketing of dispatch rows and the merge shared by the view and scan paths.
package report

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"pharmadispatch/internal/modules/dispatch"
)

type bucketKey struct {
	day        string
	pharmacyID string
}

// BucketsFromDispatches groups dispatches by local registration day and
// origin pharmacy, counting them the way the daily view does.
func BucketsFromDispatches(ds []dispatch.Dispatch, loc *time.Location) []Bucket {
	if loc == nil {
		loc = time.UTC
	}
	index := make(map[bucketKey]int)
	var out []Bucket
	for i := range ds {
		d := &ds[i]
		key := bucketKey{day: d.RegisteredAt.In(loc).Format(dayLayout), pharmacyID: d.OriginPharmacyID}
		pos, ok := index[key]
		if !ok {
			pos = len(out)
			index[key] = pos
			out = append(out, Bucket{Day: key.day, PharmacyID: key.pharmacyID, DeclaredTotal: decimal.Zero})
		}
		countDispatch(&out[pos], d)
	}
	return out
}

func countDispatch(b *Bucket, d *dispatch.Dispatch) {
	b.Total++
	switch d.Status {
	case dispatch.StatusDelivered:
		b.Delivered++
	case dispatch.StatusFailed:
		b.Failed++
	case dispatch.StatusInTransit:
		b.InTransit++
	case dispatch.StatusPending:
		b.Pending++
	case dispatch.StatusVoided:
		b.Voided++
	}
	if d.HasRetainedPrescription {
		b.WithPrescription++
	}
	if d.HadIncident {
		b.WithIncident++
	}
	switch d.Type {
	case dispatch.TypeHomeDelivery:
		b.HomeDelivery++
	case dispatch.TypePrescriptionResend:
		b.PrescriptionResend++
	case dispatch.TypeBranchExchange:
		b.BranchExchange++
	case dispatch.TypeDispatchError:
		b.DispatchError++
	}
	if d.TotalMinutes != nil && *d.TotalMinutes > 0 {
		b.MinutesSum += int64(*d.TotalMinutes)
		b.MinutesCount++
	}
	if d.DeclaredValue != nil {
		b.DeclaredTotal = b.DeclaredTotal.Add(d.DeclaredValue.Amount)
	}
}

// Merge folds buckets into one row per pharmacy, ordered by total desc then
// pharmacy id.
func Merge(buckets []Bucket) []Row {
	totals := make(map[string]*Bucket)
	var order []string
	for _, b := range buckets {
		acc, ok := totals[b.PharmacyID]
		if !ok {
			acc = &Bucket{PharmacyID: b.PharmacyID, DeclaredTotal: decimal.Zero}
			totals[b.PharmacyID] = acc
			order = append(order, b.PharmacyID)
		}
		acc.add(b)
	}

	rows := make([]Row, 0, len(order))
	for _, id := range order {
		rows = append(rows, rowFromBucket(totals[id]))
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Total != rows[j].Total {
			return rows[i].Total > rows[j].Total
		}
		return rows[i].PharmacyID < rows[j].PharmacyID
	})
	return rows
}

func rowFromBucket(b *Bucket) Row {
	r := Row{
		PharmacyID:         b.PharmacyID,
		PharmacyName:       b.PharmacyID,
		Total:              b.Total,
		Delivered:          b.Delivered,
		Failed:             b.Failed,
		InTransit:          b.InTransit,
		Pending:            b.Pending,
		Voided:             b.Voided,
		WithPrescription:   b.WithPrescription,
		WithIncident:       b.WithIncident,
		HomeDelivery:       b.HomeDelivery,
		PrescriptionResend: b.PrescriptionResend,
		BranchExchange:     b.BranchExchange,
		DispatchError:      b.DispatchError,
		DeclaredTotal:      b.DeclaredTotal.Round(2),
	}
	if b.MinutesCount > 0 {
		r.AvgMinutes = b.MinutesSum / b.MinutesCount
	}
	return r
}
