// README: Contention probe; fires concurrent movements at one dispatch and checks that at most one wins.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Config struct {
	BaseURL     string
	DispatchID  int64
	State       string
	Concurrency int
	ActorID     int64
	Role        string
	Timeout     time.Duration
	// Create registers a fresh dispatch first when DispatchID is 0.
	Create     bool
	PharmacyID string
	RiderID    int64
	// DSN, when set, cross-checks the movement rows in Postgres.
	DSN string
}

func main() {
	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	p := NewProbe(cfg)
	if cfg.DispatchID == 0 {
		if !cfg.Create {
			fmt.Fprintln(os.Stderr, "dispatch-id is required (or pass -create)")
			os.Exit(2)
		}
		id, code, err := p.CreateDispatch(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "create dispatch: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("created dispatch id=%d codigo=%s\n", id, code)
		p.cfg.DispatchID = id
	}

	rep := p.Run(ctx)
	fmt.Println("\n== Results ==")
	for _, line := range rep.Lines() {
		fmt.Println(line)
	}

	if cfg.DSN != "" {
		db, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			fmt.Fprintf(os.Stderr, "db: %v\n", err)
			os.Exit(1)
		}
		n, err := CountMovements(ctx, db, p.cfg.DispatchID, cfg.State)
		db.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "count movements: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("movement rows to %s: %d\n", strings.ToUpper(cfg.State), n)
		if n > 1 {
			os.Exit(1)
		}
	}

	if !rep.OK() {
		os.Exit(1)
	}
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.BaseURL, "base-url", envOrDefault("DISPATCH_PROBE_BASE_URL", "http://localhost:8080"), "API base URL")
	flag.Int64Var(&cfg.DispatchID, "dispatch-id", envOrDefaultInt64("DISPATCH_PROBE_DISPATCH_ID", 0), "dispatch to move")
	flag.StringVar(&cfg.State, "state", envOrDefault("DISPATCH_PROBE_STATE", "ASIGNADO"), "requested state")
	flag.IntVar(&cfg.Concurrency, "concurrency", int(envOrDefaultInt64("DISPATCH_PROBE_CONCURRENCY", 20)), "concurrent requests")
	flag.Int64Var(&cfg.ActorID, "actor", envOrDefaultInt64("DISPATCH_PROBE_ACTOR", 1), "X-User-ID sent with every request")
	flag.StringVar(&cfg.Role, "role", envOrDefault("DISPATCH_PROBE_ROLE", "operadora"), "X-User-Role sent with every request")
	flag.DurationVar(&cfg.Timeout, "timeout", envOrDefaultDuration("DISPATCH_PROBE_TIMEOUT", 30*time.Second), "total timeout")
	flag.BoolVar(&cfg.Create, "create", envOrDefault("DISPATCH_PROBE_CREATE", "") != "", "create a fresh dispatch when no id is given")
	flag.StringVar(&cfg.PharmacyID, "pharmacy", envOrDefault("DISPATCH_PROBE_PHARMACY", "756"), "origin pharmacy for -create")
	flag.Int64Var(&cfg.RiderID, "rider", envOrDefaultInt64("DISPATCH_PROBE_RIDER", 1), "rider for -create")
	flag.StringVar(&cfg.DSN, "dsn", os.Getenv("DISPATCH_PROBE_DSN"), "optional Postgres DSN to count movement rows")
	flag.Parse()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return cfg
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
