// README: Dispatch store backed by PostgreSQL; row locks via SELECT ... FOR UPDATE under lock_timeout.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"pharmadispatch/internal/modules/audit"
	"pharmadispatch/internal/types"
)

type PostgresStore struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

func NewPostgresStore(db *pgxpool.Pool, lockTimeout time.Duration) *PostgresStore {
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	return &PostgresStore{db: db, lockTimeout: lockTimeout}
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapPgError("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	timeout := fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())
	if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
		return mapPgError("set lock_timeout", err)
	}
	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgError("commit", err)
	}
	return nil
}

// mapPgError turns driver errors into dispatch error kinds.
func mapPgError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40001", "40P01":
			return fmt.Errorf("%s: %w", op, ErrContention)
		case "23505":
			if strings.Contains(pgErr.ConstraintName, "codigo") {
				return ErrDuplicateCode
			}
		}
	}
	return persistenceError(op, err)
}

const dispatchColumns = `
	id, codigo_despacho, numero_orden_farmacia, farmacia_origen_local_id, farmacia_destino_local_id,
	motorista_id, estado, tipo_despacho, prioridad,
	cliente_nombre, cliente_telefono, destino_direccion, destino_referencia, destino_lat, destino_lng,
	coordenadas_validadas,
	tiene_receta_retenida, numero_receta, requiere_devolucion_receta, receta_devuelta_farmacia,
	fecha_devolucion_receta, quien_recibe_receta, observaciones_receta,
	descripcion_productos, valor_declarado::text, requiere_aprobacion_operadora, aprobado_por_operadora,
	hubo_incidencia, tipo_incidencia, descripcion_incidencia, motivo_anulacion,
	usuario_registro_id, usuario_modificacion_id, fecha_registro, fecha_modificacion,
	fecha_asignacion, fecha_salida_farmacia, fecha_llegada_destino, fecha_completado, fecha_anulacion,
	tiempo_total_minutos, version`

func scanDispatch(row pgx.Row) (*Dispatch, error) {
	var (
		d             Dispatch
		status        string
		typ           string
		priority      string
		lat, lng      *float64
		declaredValue *string
	)
	err := row.Scan(
		&d.ID, &d.Code, &d.OrderNumber, &d.OriginPharmacyID, &d.DestinationPharmacyID,
		&d.RiderID, &status, &typ, &priority,
		&d.CustomerName, &d.CustomerPhone, &d.Address, &d.AddressReference, &lat, &lng,
		&d.CoordinatesValidated,
		&d.HasRetainedPrescription, &d.PrescriptionNumber, &d.RequiresReturn, &d.ReturnedToPharmacy,
		&d.ReturnedAt, &d.ReturnReceivedBy, &d.PrescriptionNotes,
		&d.ProductDescription, &declaredValue, &d.RequiresApproval, &d.ApprovedByOperator,
		&d.HadIncident, &d.IncidentType, &d.IncidentDescription, &d.AnnulmentReason,
		&d.RegisteredBy, &d.ModifiedBy, &d.RegisteredAt, &d.ModifiedAt,
		&d.AssignedAt, &d.LeftPharmacyAt, &d.ArrivedAt, &d.CompletedAt, &d.AnnulledAt,
		&d.TotalMinutes, &d.Version,
	)
	if err != nil {
		return nil, err
	}
	d.Status = Status(status)
	d.Type = Type(typ)
	d.Priority = Priority(priority)
	if lat != nil && lng != nil {
		d.Destination = &types.Point{Lat: *lat, Lng: *lng}
	}
	if declaredValue != nil {
		m, err := types.ParseCLP(*declaredValue)
		if err != nil {
			return nil, fmt.Errorf("valor_declarado: %w", err)
		}
		d.DeclaredValue = &m
	}
	return &d, nil
}

func scanDispatches(rows pgx.Rows) ([]Dispatch, error) {
	defer rows.Close()
	var out []Dispatch
	for rows.Next() {
		d, err := scanDispatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*Dispatch, error) {
	d, err := scanDispatch(s.db.QueryRow(ctx, `SELECT `+dispatchColumns+` FROM despacho WHERE id = $1`, id))
	if err != nil {
		return nil, mapPgError("get dispatch", err)
	}
	return d, nil
}

func (s *PostgresStore) GetByCode(ctx context.Context, code string) (*Dispatch, error) {
	d, err := scanDispatch(s.db.QueryRow(ctx, `SELECT `+dispatchColumns+` FROM despacho WHERE codigo_despacho = $1`, code))
	if err != nil {
		return nil, mapPgError("get dispatch by code", err)
	}
	return d, nil
}

func (s *PostgresStore) Movements(ctx context.Context, dispatchID int64) ([]Movement, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, despacho_id, estado_anterior, estado_nuevo, fecha_movimiento, usuario_id,
		       motorista_lat, motorista_lng, observacion
		FROM movimiento_despacho
		WHERE despacho_id = $1
		ORDER BY fecha_movimiento, id`, dispatchID)
	if err != nil {
		return nil, mapPgError("list movements", err)
	}
	defer rows.Close()

	var out []Movement
	for rows.Next() {
		var (
			m        Movement
			from, to string
			lat, lng *float64
		)
		if err := rows.Scan(&m.ID, &m.DispatchID, &from, &to, &m.At, &m.UserID, &lat, &lng, &m.Note); err != nil {
			return nil, mapPgError("scan movement", err)
		}
		m.From, m.To = Status(from), Status(to)
		if lat != nil && lng != nil {
			m.RiderPosition = &types.Point{Lat: *lat, Lng: *lng}
		}
		out = append(out, m)
	}
	return out, mapPgError("list movements", rows.Err())
}

func (s *PostgresStore) LatestPositions(ctx context.Context, dispatchIDs []int64) (map[int64]types.Point, error) {
	out := make(map[int64]types.Point)
	if len(dispatchIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT ON (despacho_id) despacho_id, motorista_lat, motorista_lng
		FROM movimiento_despacho
		WHERE despacho_id = ANY($1) AND motorista_lat IS NOT NULL AND motorista_lng IS NOT NULL
		ORDER BY despacho_id, fecha_movimiento DESC, id DESC`, dispatchIDs)
	if err != nil {
		return nil, mapPgError("latest positions", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id int64
			p  types.Point
		)
		if err := rows.Scan(&id, &p.Lat, &p.Lng); err != nil {
			return nil, mapPgError("scan position", err)
		}
		out[id] = p
	}
	return out, mapPgError("latest positions", rows.Err())
}

func (s *PostgresStore) ListActive(ctx context.Context, f ActiveFilter) ([]Dispatch, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+dispatchColumns+`
		FROM despacho
		WHERE estado NOT IN ('ENTREGADO', 'FALLIDO', 'ANULADO')
		  AND ($1 = '' OR prioridad = $1)
		  AND ($2::boolean IS NULL OR tiene_receta_retenida = $2)
		  AND ($3::boolean IS NULL OR hubo_incidencia = $3)
		ORDER BY CASE prioridad WHEN 'ALTA' THEN 0 WHEN 'MEDIA' THEN 1 ELSE 2 END, fecha_registro, id`,
		string(f.Priority), f.WithPrescription, f.WithIncident)
	if err != nil {
		return nil, mapPgError("list active", err)
	}
	out, err := scanDispatches(rows)
	return out, mapPgError("list active", err)
}

func (s *PostgresStore) ListPendingReturns(ctx context.Context) ([]Dispatch, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+dispatchColumns+`
		FROM despacho
		WHERE tiene_receta_retenida AND requiere_devolucion_receta
		  AND NOT receta_devuelta_farmacia AND estado <> 'ANULADO'
		ORDER BY id`)
	if err != nil {
		return nil, mapPgError("list pending returns", err)
	}
	out, err := scanDispatches(rows)
	return out, mapPgError("list pending returns", err)
}

func (s *PostgresStore) ListRegistered(ctx context.Context, from, to time.Time, pharmacyID string) ([]Dispatch, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+dispatchColumns+`
		FROM despacho
		WHERE fecha_registro >= $1 AND fecha_registro < $2
		  AND ($3 = '' OR farmacia_origen_local_id = $3)
		ORDER BY id`, from, to, pharmacyID)
	if err != nil {
		return nil, mapPgError("list registered", err)
	}
	out, err := scanDispatches(rows)
	return out, mapPgError("list registered", err)
}

func (s *PostgresStore) Audit(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	out, err := audit.ListEntries(ctx, s.db, f)
	return out, mapPgError("list audit", err)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Lock(ctx context.Context, id int64) (*Dispatch, error) {
	d, err := scanDispatch(t.tx.QueryRow(ctx, `SELECT `+dispatchColumns+` FROM despacho WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, mapPgError("lock dispatch", err)
	}
	return d, nil
}

func (t *pgTx) NextCodeSequence(ctx context.Context) (int64, error) {
	var n int64
	if err := t.tx.QueryRow(ctx, `SELECT nextval('despacho_codigo_seq')`).Scan(&n); err != nil {
		return 0, mapPgError("next code", err)
	}
	return n, nil
}

func declaredValueArg(m *types.Money) *string {
	if m == nil {
		return nil
	}
	v := m.Amount.StringFixed(2)
	return &v
}

func latLngArgs(p *types.Point) (*float64, *float64) {
	if p == nil {
		return nil, nil
	}
	return &p.Lat, &p.Lng
}

func (t *pgTx) Insert(ctx context.Context, d *Dispatch) error {
	lat, lng := latLngArgs(d.Destination)
	d.Version = 1
	err := t.tx.QueryRow(ctx, `
		INSERT INTO despacho (
			codigo_despacho, numero_orden_farmacia, farmacia_origen_local_id, farmacia_destino_local_id,
			motorista_id, estado, tipo_despacho, prioridad,
			cliente_nombre, cliente_telefono, destino_direccion, destino_referencia, destino_lat, destino_lng,
			coordenadas_validadas,
			tiene_receta_retenida, numero_receta, requiere_devolucion_receta, receta_devuelta_farmacia,
			descripcion_productos, valor_declarado, requiere_aprobacion_operadora, aprobado_por_operadora,
			usuario_registro_id, usuario_modificacion_id, fecha_registro, fecha_modificacion, version
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14,
			$15,
			$16, $17, $18, $19,
			$20, $21::text::numeric, $22, $23,
			$24, $25, $26, $27, $28
		)
		RETURNING id`,
		d.Code, d.OrderNumber, d.OriginPharmacyID, d.DestinationPharmacyID,
		d.RiderID, string(d.Status), string(d.Type), string(d.Priority),
		d.CustomerName, d.CustomerPhone, d.Address, d.AddressReference, lat, lng,
		d.CoordinatesValidated,
		d.HasRetainedPrescription, d.PrescriptionNumber, d.RequiresReturn, d.ReturnedToPharmacy,
		d.ProductDescription, declaredValueArg(d.DeclaredValue), d.RequiresApproval, d.ApprovedByOperator,
		d.RegisteredBy, d.ModifiedBy, d.RegisteredAt, d.ModifiedAt, d.Version,
	).Scan(&d.ID)
	return mapPgError("insert dispatch", err)
}

func (t *pgTx) Update(ctx context.Context, d *Dispatch) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE despacho
		SET estado = $3,
		    tiene_receta_retenida = $4,
		    numero_receta = $5,
		    requiere_devolucion_receta = $6,
		    receta_devuelta_farmacia = $7,
		    fecha_devolucion_receta = $8,
		    quien_recibe_receta = $9,
		    observaciones_receta = $10,
		    hubo_incidencia = $11,
		    tipo_incidencia = $12,
		    descripcion_incidencia = $13,
		    motivo_anulacion = $14,
		    usuario_modificacion_id = $15,
		    fecha_modificacion = $16,
		    fecha_asignacion = $17,
		    fecha_salida_farmacia = $18,
		    fecha_llegada_destino = $19,
		    fecha_completado = $20,
		    fecha_anulacion = $21,
		    tiempo_total_minutos = $22,
		    version = version + 1
		WHERE id = $1 AND version = $2`,
		d.ID, d.Version,
		string(d.Status),
		d.HasRetainedPrescription, d.PrescriptionNumber, d.RequiresReturn, d.ReturnedToPharmacy,
		d.ReturnedAt, d.ReturnReceivedBy, d.PrescriptionNotes,
		d.HadIncident, d.IncidentType, d.IncidentDescription, d.AnnulmentReason,
		d.ModifiedBy, d.ModifiedAt,
		d.AssignedAt, d.LeftPharmacyAt, d.ArrivedAt, d.CompletedAt, d.AnnulledAt,
		d.TotalMinutes,
	)
	if err != nil {
		return mapPgError("update dispatch", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrContention
	}
	d.Version++
	return nil
}

func (t *pgTx) InsertMovement(ctx context.Context, m *Movement) error {
	lat, lng := latLngArgs(m.RiderPosition)
	err := t.tx.QueryRow(ctx, `
		INSERT INTO movimiento_despacho (
			despacho_id, estado_anterior, estado_nuevo, fecha_movimiento, usuario_id,
			motorista_lat, motorista_lng, observacion
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		m.DispatchID, string(m.From), string(m.To), m.At, m.UserID, lat, lng, m.Note,
	).Scan(&m.ID)
	return mapPgError("insert movement", err)
}

func (t *pgTx) InsertAudit(ctx context.Context, e *audit.Entry) error {
	return mapPgError("insert audit", audit.InsertEntry(ctx, t.tx, e))
}

func (t *pgTx) Audit(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	out, err := audit.ListEntries(ctx, t.tx, f)
	return out, mapPgError("list audit", err)
}
