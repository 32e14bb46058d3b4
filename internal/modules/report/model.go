// README: Report periods, per-day buckets and the summary rows built from them.
package report

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrBadRequest        = errors.New("bad request")
	ErrSourceUnavailable = errors.New("precomputed summary source unavailable")
)

type PeriodKind string

const (
	PeriodDay   PeriodKind = "dia"
	PeriodMonth PeriodKind = "mes"
	PeriodYear  PeriodKind = "anio"
)

const dayLayout = "2006-01-02"

// Period is a half-open window [Start, End) of local calendar time.
type Period struct {
	Kind  PeriodKind `json:"periodo"`
	Label string     `json:"etiqueta"`
	Start time.Time  `json:"desde"`
	End   time.Time  `json:"hasta"`
}

// ParsePeriod reads "dia"/"mes"/"anio" (english aliases accepted) and a value
// in the matching layout. An empty value means the period containing now.
func ParsePeriod(kind, value string, loc *time.Location, now time.Time) (Period, error) {
	if loc == nil {
		loc = time.UTC
	}
	value = strings.TrimSpace(value)
	now = now.In(loc)

	var (
		layout string
		k      PeriodKind
	)
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "dia", "day", "hoy":
		k, layout = PeriodDay, dayLayout
	case "mes", "month":
		k, layout = PeriodMonth, "2006-01"
	case "anio", "año", "year":
		k, layout = PeriodYear, "2006"
	default:
		return Period{}, fmt.Errorf("%w: periodo desconocido %q", ErrBadRequest, kind)
	}

	var start time.Time
	if value == "" {
		y, m, d := now.Date()
		switch k {
		case PeriodDay:
			start = time.Date(y, m, d, 0, 0, 0, 0, loc)
		case PeriodMonth:
			start = time.Date(y, m, 1, 0, 0, 0, 0, loc)
		default:
			start = time.Date(y, 1, 1, 0, 0, 0, 0, loc)
		}
	} else {
		t, err := time.ParseInLocation(layout, value, loc)
		if err != nil {
			return Period{}, fmt.Errorf("%w: fecha %q no coincide con %s", ErrBadRequest, value, layout)
		}
		start = t
	}

	p := Period{Kind: k, Label: start.Format(layout), Start: start}
	switch k {
	case PeriodDay:
		p.End = start.AddDate(0, 0, 1)
	case PeriodMonth:
		p.End = start.AddDate(0, 1, 0)
	default:
		p.End = start.AddDate(1, 0, 0)
	}
	return p, nil
}

// Days returns the first day and the day after the last, as dates.
func (p Period) Days() (string, string) {
	return p.Start.Format(dayLayout), p.End.Format(dayLayout)
}

// Bucket is the partial aggregate for one pharmacy on one local day.
type Bucket struct {
	Day        string
	PharmacyID string

	Total            int64
	Delivered        int64
	Failed           int64
	InTransit        int64
	Pending          int64
	Voided           int64
	WithPrescription int64
	WithIncident     int64

	HomeDelivery       int64
	PrescriptionResend int64
	BranchExchange     int64
	DispatchError      int64

	MinutesSum    int64
	MinutesCount  int64
	DeclaredTotal decimal.Decimal
}

func (b *Bucket) add(o Bucket) {
	b.Total += o.Total
	b.Delivered += o.Delivered
	b.Failed += o.Failed
	b.InTransit += o.InTransit
	b.Pending += o.Pending
	b.Voided += o.Voided
	b.WithPrescription += o.WithPrescription
	b.WithIncident += o.WithIncident
	b.HomeDelivery += o.HomeDelivery
	b.PrescriptionResend += o.PrescriptionResend
	b.BranchExchange += o.BranchExchange
	b.DispatchError += o.DispatchError
	b.MinutesSum += o.MinutesSum
	b.MinutesCount += o.MinutesCount
	b.DeclaredTotal = b.DeclaredTotal.Add(o.DeclaredTotal)
}

type Row struct {
	PharmacyID   string `json:"local_id"`
	PharmacyName string `json:"farmacia"`
	Commune      string `json:"comuna_nombre"`

	Total            int64 `json:"total_despachos"`
	Delivered        int64 `json:"entregados"`
	Failed           int64 `json:"fallidos"`
	InTransit        int64 `json:"en_camino"`
	Pending          int64 `json:"pendientes"`
	Voided           int64 `json:"anulados"`
	WithPrescription int64 `json:"con_receta"`
	WithIncident     int64 `json:"con_incidencias"`

	HomeDelivery       int64 `json:"domicilio"`
	PrescriptionResend int64 `json:"reenvio_receta"`
	BranchExchange     int64 `json:"intercambio"`
	DispatchError      int64 `json:"error_despacho"`

	AvgMinutes    int64           `json:"tiempo_promedio_minutos"`
	DeclaredTotal decimal.Decimal `json:"valor_total"`
}

const (
	SourceView = "vista"
	SourceScan = "escaneo"
)

type Summary struct {
	Period     Period `json:"periodo"`
	PharmacyID string `json:"farmacia,omitempty"`
	Source     string `json:"fuente"`
	Rows       []Row  `json:"filas"`
}
