// README: Entry point; loads config, wires stores and services, serves the HTTP API until signalled.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"pharmadispatch/internal/config"
	"pharmadispatch/internal/geo"
	httptransport "pharmadispatch/internal/http"
	"pharmadispatch/internal/infra"
	"pharmadispatch/internal/modules/audit"
	"pharmadispatch/internal/modules/dispatch"
	"pharmadispatch/internal/modules/fleet"
	"pharmadispatch/internal/modules/report"
)

const shutdownGrace = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := infra.NewLogger(cfg.Log.Level, cfg.Log.Format, cfg.Service.Name)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("dispatch-api stopped", zap.Error(err))
	}
}

// stores groups the storage-driver dependent pieces.
type stores struct {
	dispatch dispatch.Store
	fleet    fleet.Store
	audit    audit.Store
	view     report.Source
	lister   report.DispatchLister
	close    func()
}

func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (*stores, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		pool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return nil, err
		}
		return postgresStores(pool, cfg), nil
	case config.DriverMemory:
		logger.Warn("using in-memory storage; data is lost on restart")
		auditLog := audit.NewMemoryStore()
		ds := dispatch.NewMemoryStore(auditLog, cfg.DB.LockTimeout)
		fs := fleet.NewMemoryStore()
		seedDemoFleet(fs)
		return &stores{
			dispatch: ds,
			fleet:    fs,
			audit:    auditLog,
			lister:   ds,
			close:    func() {},
		}, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

// seedDemoFleet gives the memory driver enough reference data to register
// dispatches.
func seedDemoFleet(fs *fleet.MemoryStore) {
	fs.PutPharmacy(fleet.Pharmacy{
		LocalID: "756", Name: "Farmacia Providencia", Address: "Av. Providencia 1234",
		Commune: "Providencia", OpensAt: 9 * 60, ClosesAt: 21 * 60, Active: true,
	})
	fs.PutPharmacy(fleet.Pharmacy{
		LocalID: "812", Name: "Farmacia Ñuñoa", Address: "Irarrázaval 3450",
		Commune: "Ñuñoa", Active: true,
	})
	fs.PutRider(fleet.Rider{
		ID: 1, FirstName: "Ana", LastName: "Rojas", LicenseNumber: "B-2030",
		LicenseExpiresOn: time.Date(2030, 12, 31, 0, 0, 0, 0, time.UTC), Active: true,
	})
	fs.AssignMotorcycle(1, fleet.Motorcycle{ID: 1, Plate: "KLXT-21", Brand: "Honda", Model: "CB190", Active: true})
}

func postgresStores(pool *pgxpool.Pool, cfg config.Config) *stores {
	ds := dispatch.NewPostgresStore(pool, cfg.DB.LockTimeout)
	return &stores{
		dispatch: ds,
		fleet:    fleet.NewStore(pool),
		audit:    audit.NewStore(pool),
		view:     report.NewViewSource(pool, cfg.Report.Timezone),
		lister:   ds,
		close:    pool.Close,
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	loc := cfg.Report.Location()
	fleetSvc := fleet.NewService(st.fleet)

	opts := dispatch.Options{CorrectionWindow: cfg.Correction.Window, Location: loc}
	if cfg.Maps.APIKey != "" {
		gc, err := geo.NewGeocoder(cfg.Maps.APIKey, cfg.Maps.Region)
		if err != nil {
			return fmt.Errorf("geocoder: %w", err)
		}
		opts.Geocoder = gc
	} else {
		logger.Info("geocoding disabled; maps.api_key is empty")
	}
	dispatchSvc := dispatch.NewService(st.dispatch, fleetSvc, opts, logger.Named("dispatch"))
	auditSvc := audit.NewService(st.audit, logger.Named("audit"))

	rdb := infra.NewRedis(cfg.Redis.Addr)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}
	reportSvc := report.NewService(
		st.view,
		report.NewScanSource(st.lister, loc),
		report.NewCache(rdb, cfg.Report.CacheTTL, logger.Named("report")),
		fleetSvc,
		loc,
		logger.Named("report"),
	)

	gin.SetMode(gin.ReleaseMode)
	handler := httptransport.NewServer(httptransport.ServerDeps{
		Dispatch:    dispatchSvc,
		Audit:       auditSvc,
		Report:      reportSvc,
		Logger:      logger.Named("http"),
		CORSOrigins: cfg.HTTP.CORSOrigins,
	})
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("storage", cfg.Storage.Driver),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
