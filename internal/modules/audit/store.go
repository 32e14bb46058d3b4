// README: Audit store backed by PostgreSQL (auditoria_general).
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store interface {
	Append(ctx context.Context, e *Entry) error
	Get(ctx context.Context, id int64) (*Entry, error)
	// List returns matching entries newest first.
	List(ctx context.Context, f Filter) ([]Entry, error)
}

// Querier is satisfied by *pgxpool.Pool and pgx.Tx so entries can be
// written inside a caller's transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, e *Entry) error {
	return InsertEntry(ctx, s.db, e)
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*Entry, error) {
	rows, err := s.db.Query(ctx, selectEntries+` WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return &entries[0], nil
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]Entry, error) {
	return ListEntries(ctx, s.db, f)
}

const selectEntries = `
	SELECT id, nombre_tabla, id_registro_afectado, tipo_operacion, usuario_id,
	       fecha_evento, datos_antiguos, datos_nuevos
	FROM auditoria_general`

func InsertEntry(ctx context.Context, q Querier, e *Entry) error {
	oldJSON, err := marshalSnapshot(e.Old)
	if err != nil {
		return err
	}
	newJSON, err := marshalSnapshot(e.New)
	if err != nil {
		return err
	}
	return q.QueryRow(ctx, `
		INSERT INTO auditoria_general (
			nombre_tabla, id_registro_afectado, tipo_operacion, usuario_id,
			fecha_evento, datos_antiguos, datos_nuevos
		) VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb)
		RETURNING id`,
		e.Table, e.RecordID, string(e.Operation), e.UserID,
		e.At, oldJSON, newJSON,
	).Scan(&e.ID)
}

func ListEntries(ctx context.Context, q Querier, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Table != "" {
		add("nombre_tabla = $%d", f.Table)
	}
	if f.RecordID != "" {
		add("id_registro_afectado = $%d", f.RecordID)
	}
	if len(f.Operations) > 0 {
		ops := make([]string, len(f.Operations))
		for i, op := range f.Operations {
			ops[i] = string(op)
		}
		add("tipo_operacion = ANY($%d)", ops)
	}
	if !f.Since.IsZero() {
		add("fecha_evento >= $%d", f.Since)
	}

	sql := selectEntries
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY fecha_evento DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			op      string
			oldJSON []byte
			newJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.Table, &e.RecordID, &op, &e.UserID, &e.At, &oldJSON, &newJSON); err != nil {
			return nil, err
		}
		e.Operation = Operation(op)
		if err := unmarshalSnapshot(oldJSON, &e.Old); err != nil {
			return nil, err
		}
		if err := unmarshalSnapshot(newJSON, &e.New); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func marshalSnapshot(s Snapshot) (*string, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	v := string(b)
	return &v, nil
}

func unmarshalSnapshot(b []byte, dst *Snapshot) error {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return errors.Join(errors.New("decode snapshot"), err)
	}
	return nil
}
