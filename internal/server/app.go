// Package server wires the media service together and runs it.
// It opens Postgres and the object store, applies migrations, serves the
// HTTP API and push channel, and drains in-flight transfers on shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/ishlearn/internal/dbx"
	"github.com/dmitrijs2005/ishlearn/internal/logging"
	"github.com/dmitrijs2005/ishlearn/internal/server/config"
	"github.com/dmitrijs2005/ishlearn/internal/server/media"
	"github.com/dmitrijs2005/ishlearn/internal/server/metrics"
	"github.com/dmitrijs2005/ishlearn/internal/server/objectstore"
	"github.com/dmitrijs2005/ishlearn/internal/server/push"
	"github.com/dmitrijs2005/ishlearn/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/ishlearn/internal/server/rest"
	"github.com/dmitrijs2005/ishlearn/internal/server/transfer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// drainTimeout bounds how long shutdown waits for running transfers
// before cancelling them.
const drainTimeout = 30 * time.Second

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	hub      *push.Hub
	service  *media.Service
	server   *rest.Server
	registry *transfer.Registry

	// base is the lifetime of background transfers.
	base       context.Context
	cancelBase context.CancelFunc
}

// Components builds everything but the database and the object store, so
// other entry points can reuse the wiring.
type Components struct {
	Registry *transfer.Registry
	Service  *media.Service
	Streamer *media.Streamer
	Observer *metrics.Observer
}

// NewComponents wires the media service over an open database and store.
func NewComponents(base context.Context, c *config.Config, db *sql.DB, rm repomanager.RepositoryManager,
	store *objectstore.Store, reg prometheus.Registerer, logger logging.Logger) (*Components, error) {

	observer, err := metrics.NewObserver(reg)
	if err != nil {
		return nil, err
	}

	registry := transfer.NewRegistry(c.PendingEvents)
	if err := metrics.RegisterSessionGauge(reg, registry.Len); err != nil {
		return nil, err
	}

	service := media.NewService(base, db, rm, store, registry, observer,
		media.Options{CompensateOrphans: c.CompensateOrphans}, logger)
	streamer := media.NewStreamer(db, rm, store,
		media.StreamerOptions{CacheExpiration: c.CacheExpiration, StreamTags: c.StreamTags}, observer, logger)

	return &Components{Registry: registry, Service: service, Streamer: streamer, Observer: observer}, nil
}

// Open connects to Postgres, applies migrations and connects to the bucket.
func Open(ctx context.Context, c *config.Config, logger logging.Logger) (*sql.DB, repomanager.RepositoryManager, *objectstore.Store, error) {
	db, err := dbx.OpenPostgres(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("migrations error: %w", err)
	}

	store, err := objectstore.NewS3Store(ctx, objectstore.Options{
		Bucket:       c.S3Bucket,
		Region:       c.S3Region,
		BaseEndpoint: c.S3BaseEndpoint,
		AccessKey:    c.S3RootUser,
		SecretKey:    c.S3RootPassword,
		UsePathStyle: c.S3UsePathStyle,
		PartSize:     c.UploadPartSize,
		Concurrency:  c.UploadConcurrency,
	}, logger)
	if err != nil {
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("object store init error: %w", err)
	}

	return db, rm, store, nil
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, rm, store, err := Open(ctx, c, logger)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	base, cancelBase := context.WithCancel(context.Background())

	comps, err := NewComponents(base, c, db, rm, store, reg, logger)
	if err != nil {
		cancelBase()
		_ = db.Close()
		return nil, err
	}

	hub := push.NewHub(comps.Registry, transfer.NewBinder(comps.Registry, logger), logger)

	server := rest.NewServer(rest.Options{
		Address:       c.EndpointAddrHTTP,
		SecretKey:     c.SecretKey,
		MaxUploadSize: c.MaxUploadSize,
		EnableCORS:    c.EnableCORS,
	}, logger, comps.Service, comps.Streamer, hub, map[string]rest.HealthCheck{
		"postgres":     db.PingContext,
		"object_store": store.Ping,
	}, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &App{
		config:     c,
		logger:     logger,
		db:         db,
		hub:        hub,
		service:    comps.Service,
		server:     server,
		registry:   comps.Registry,
		base:       base,
		cancelBase: cancelBase,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.server.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	app.shutdown(context.WithoutCancel(ctx))
}

func (app *App) shutdown(ctx context.Context) {
	app.logger.Info(ctx, "Closing push channels...")
	app.hub.Close()

	app.logger.Info(ctx, "Waiting for transfers...", "sessions", app.registry.Len())
	drained := make(chan struct{})
	go func() {
		app.service.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(drainTimeout):
		app.logger.Warn(ctx, "transfers still running, cancelling", "sessions", app.registry.Len())
		app.cancelBase()
		<-drained
	}
	app.cancelBase()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err)
	}
	app.logger.Info(ctx, "Stopped")
}
