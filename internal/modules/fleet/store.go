// README: Fleet store backed by PostgreSQL (read side only; CRUD lives elsewhere).
package fleet

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pharmadispatch/internal/types"
)

type Store interface {
	GetPharmacy(ctx context.Context, localID string) (*Pharmacy, error)
	ListPharmacies(ctx context.Context) ([]Pharmacy, error)
	GetRider(ctx context.Context, id int64) (*Rider, error)
	// ActiveMotorcycle returns ErrNotFound when the rider has no active assignment.
	ActiveMotorcycle(ctx context.Context, riderID int64) (*Motorcycle, error)
}

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectPharmacy = `
	SELECT local_id, local_nombre, local_direccion, comuna_nombre, COALESCE(local_telefono, ''),
	       local_lat, local_lng,
	       COALESCE((EXTRACT(HOUR FROM horario_apertura) * 60 + EXTRACT(MINUTE FROM horario_apertura))::int, 0),
	       COALESCE((EXTRACT(HOUR FROM horario_cierre) * 60 + EXTRACT(MINUTE FROM horario_cierre))::int, 0),
	       activo
	FROM localfarmacia`

func scanPharmacy(row pgx.Row) (*Pharmacy, error) {
	var (
		p        Pharmacy
		lat, lng *float64
	)
	err := row.Scan(&p.LocalID, &p.Name, &p.Address, &p.Commune, &p.Phone, &lat, &lng, &p.OpensAt, &p.ClosesAt, &p.Active)
	if err != nil {
		return nil, err
	}
	if lat != nil && lng != nil {
		p.Location = &types.Point{Lat: *lat, Lng: *lng}
	}
	return &p, nil
}

func (s *PostgresStore) GetPharmacy(ctx context.Context, localID string) (*Pharmacy, error) {
	p, err := scanPharmacy(s.db.QueryRow(ctx, selectPharmacy+` WHERE local_id = $1`, localID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *PostgresStore) ListPharmacies(ctx context.Context) ([]Pharmacy, error) {
	rows, err := s.db.Query(ctx, selectPharmacy+` ORDER BY local_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Pharmacy
	for rows.Next() {
		p, err := scanPharmacy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetRider(ctx context.Context, id int64) (*Rider, error) {
	var r Rider
	err := s.db.QueryRow(ctx, `
		SELECT id, nombre, apellido, COALESCE(telefono, ''), licencia_numero, licencia_vencimiento, activo
		FROM motorista
		WHERE id = $1`, id,
	).Scan(&r.ID, &r.FirstName, &r.LastName, &r.Phone, &r.LicenseNumber, &r.LicenseExpiresOn, &r.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) ActiveMotorcycle(ctx context.Context, riderID int64) (*Motorcycle, error) {
	var m Motorcycle
	err := s.db.QueryRow(ctx, `
		SELECT m.id, m.patente, COALESCE(m.marca, ''), COALESCE(m.modelo, ''), m.activo
		FROM asignacion_moto_motorista a
		JOIN moto m ON m.id = a.moto_id
		WHERE a.motorista_id = $1 AND a.activa
		ORDER BY a.fecha_asignacion DESC
		LIMIT 1`, riderID,
	).Scan(&m.ID, &m.Plate, &m.Brand, &m.Model, &m.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
