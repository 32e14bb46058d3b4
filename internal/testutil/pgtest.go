// README: Postgres helpers for DB-backed tests; skipped unless DISPATCH_TEST_DSN is set.
package testutil

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

const DSNEnv = "DISPATCH_TEST_DSN"

// OpenDB connects to the test database, applies every migration and empties
// the tables. Tests using it must not run in parallel.
func OpenDB(t testing.TB) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv(DSNEnv)
	if dsn == "" {
		t.Skip(DSNEnv + " not set; skipping DB-backed tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(db.Close)

	if err := ApplyMigrations(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if err := Truncate(ctx, db); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return db
}

func Truncate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, `
		TRUNCATE TABLE auditoria_general, movimiento_despacho, despacho,
		               asignacion_moto_motorista, moto, motorista, localfarmacia
		RESTART IDENTITY CASCADE`); err != nil {
		return err
	}
	_, err := db.Exec(ctx, `ALTER SEQUENCE despacho_codigo_seq RESTART`)
	return err
}

// ApplyMigrations runs migrations/*.sql from the repo root in name order.
func ApplyMigrations(ctx context.Context, db *pgxpool.Pool) error {
	root, err := RepoRoot()
	if err != nil {
		return err
	}
	files, err := filepath.Glob(filepath.Join(root, "migrations", "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		for _, stmt := range splitSQL(stripSQLComments(string(content))) {
			if _, err := db.Exec(ctx, stmt); err != nil {
				return err
			}
		}
	}
	return nil
}

func RepoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

func stripSQLComments(input string) string {
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	return b.String()
}

// splitSQL splits on ';'. Migrations must not use semicolons inside bodies.
func splitSQL(input string) []string {
	parts := strings.Split(input, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		stmt := strings.TrimSpace(p)
		if stmt == "" {
			continue
		}
		out = append(out, stmt)
	}
	return out
}

// SeedFleet inserts one active pharmacy, one rider with a valid license and
// their motorcycle.
func SeedFleet(ctx context.Context, db *pgxpool.Pool) error {
	stmts := []string{
		`INSERT INTO localfarmacia (local_id, local_nombre, local_direccion, comuna_nombre, local_lat, local_lng)
		 VALUES ('756', 'Farmacia Providencia', 'Av. Providencia 2124', 'Providencia', -33.4263, -70.6200)`,
		`INSERT INTO localfarmacia (local_id, local_nombre, comuna_nombre)
		 VALUES ('812', 'Farmacia Ñuñoa', 'Ñuñoa')`,
		`INSERT INTO motorista (nombre, apellido, licencia_numero, licencia_vencimiento)
		 VALUES ('Ana', 'Rojas', 'B-112233', DATE '2030-01-01')`,
		`INSERT INTO moto (patente, marca, modelo) VALUES ('KLXT-21', 'Honda', 'CB190')`,
		`INSERT INTO asignacion_moto_motorista (moto_id, motorista_id) VALUES (1, 1)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(ctx, s); err != nil {
			return err
		}
	}
	return nil
}
