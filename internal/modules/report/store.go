// README: Bucket sources; the precomputed daily view and a scan over dispatch rows.
package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"pharmadispatch/internal/modules/dispatch"
)

type Source interface {
	Buckets(ctx context.Context, p Period, pharmacyID string) ([]Bucket, error)
}

// ViewSource reads vista_resumen_operativo_diario. The view's day column
// follows the session time zone, so every read pins it to timezone.
type ViewSource struct {
	db       *pgxpool.Pool
	timezone string
}

func NewViewSource(db *pgxpool.Pool, timezone string) *ViewSource {
	if timezone == "" {
		timezone = "UTC"
	}
	return &ViewSource{db: db, timezone: timezone}
}

func (s *ViewSource) Buckets(ctx context.Context, p Period, pharmacyID string) ([]Bucket, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('TimeZone', $1, true)`, s.timezone); err != nil {
		return nil, err
	}

	from, to := p.Days()
	rows, err := tx.Query(ctx, `
		SELECT dia, local_id, total_despachos, entregados, fallidos, en_camino, pendientes, anulados,
		       con_receta, con_incidencias, domicilio, reenvio_receta, intercambio, error_despacho,
		       minutos_suma, minutos_cantidad, valor_total::text
		FROM vista_resumen_operativo_diario
		WHERE dia >= $1::date AND dia < $2::date
		  AND ($3 = '' OR local_id = $3)
		ORDER BY dia, local_id`, from, to, pharmacyID)
	if err != nil {
		return nil, viewError(err)
	}
	defer rows.Close()

	var out []Bucket
	for rows.Next() {
		var (
			b     Bucket
			day   time.Time
			total string
		)
		if err := rows.Scan(
			&day, &b.PharmacyID, &b.Total, &b.Delivered, &b.Failed, &b.InTransit, &b.Pending, &b.Voided,
			&b.WithPrescription, &b.WithIncident, &b.HomeDelivery, &b.PrescriptionResend, &b.BranchExchange,
			&b.DispatchError, &b.MinutesSum, &b.MinutesCount, &total,
		); err != nil {
			return nil, err
		}
		b.Day = day.Format(dayLayout)
		if b.DeclaredTotal, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("valor_total: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, viewError(err)
	}
	return out, nil
}

func viewError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
		return fmt.Errorf("%w: %s", ErrSourceUnavailable, pgErr.Message)
	}
	return err
}

// DispatchLister is the slice of dispatch.Store the scan path needs.
type DispatchLister interface {
	ListRegistered(ctx context.Context, from, to time.Time, pharmacyID string) ([]dispatch.Dispatch, error)
}

// ScanSource buckets dispatch rows in memory.
type ScanSource struct {
	dispatches DispatchLister
	loc        *time.Location
}

func NewScanSource(dispatches DispatchLister, loc *time.Location) *ScanSource {
	if loc == nil {
		loc = time.UTC
	}
	return &ScanSource{dispatches: dispatches, loc: loc}
}

func (s *ScanSource) Buckets(ctx context.Context, p Period, pharmacyID string) ([]Bucket, error) {
	ds, err := s.dispatches.ListRegistered(ctx, p.Start, p.End, pharmacyID)
	if err != nil {
		return nil, err
	}
	return BucketsFromDispatches(ds, s.loc), nil
}
