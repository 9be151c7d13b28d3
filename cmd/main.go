package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/feed"
	"fieldsync/internal/handlers"
	"fieldsync/internal/logger"
	"fieldsync/internal/metrics"
	"fieldsync/internal/repository"
	"fieldsync/internal/repository/db"
	"fieldsync/internal/server"
	"fieldsync/internal/service"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// load configs/config.yml + FIELDSYNC_* env
	cfg, err := config.Load()
	if err != nil {
		logger.Get(logger.InfoLevel).Fatalw("error reading config", "err", err)
	}

	// init logger
	log := logger.Get(cfg.Log.Level)
	defer func() { _ = log.Sync() }()

	// open DB
	sqlDB, err := openDB(cfg, log)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err)
	}
	defer func() {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()

	// context for background goroutines
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// wire dependencies
	repos := repository.NewRepository(sqlDB)
	prom := metrics.NewProm(nil)

	client, sim, disconnect, err := openFeed(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to open feed", "driver", cfg.Feed.Driver, "err", err)
	}
	defer disconnect()

	core := service.NewCore(cfg, client, repos.EventRepo, prom, log)
	services := service.NewService(core, repos, sim)
	apiHandler := handlers.NewHandler(services, log,
		handlers.WithMetrics(prom.Handler()),
		handlers.WithJWTSecret(cfg.Auth.JWTSecret),
	)

	// start the synchronization core
	coreDone := make(chan struct{})
	go func() {
		core.Run(ctx)
		close(coreDone)
	}()

	// start simulator (sim driver only)
	if services.Simulator != nil {
		go services.Simulator.Run(ctx, cfg.Simulator.Tick)
	}

	// start HTTP server
	srv := &server.Server{}
	runHTTPServer(srv, cfg.HTTP.Port, apiHandler, log)

	// graceful shutdown
	waitForShutdown(cancel, srv, log)
	<-coreDone
}

// openDB initializes the SQLite audit log using configuration.
func openDB(cfg *config.Config, log *logger.Logger) (*sql.DB, error) {
	log.Infow("opening audit log", "path", cfg.DB.Path)
	return db.InitDB(cfg.DB.Path)
}

// openFeed connects the configured feed driver. The sim driver also returns the field simulator.
func openFeed(ctx context.Context, cfg *config.Config, log *logger.Logger) (feed.Client, service.Simulator, func(), error) {
	switch cfg.Feed.Driver {
	case config.DriverMQTT:
		c, err := feed.NewMQTTClient(ctx, cfg.Feed, log)
		if err != nil {
			return nil, nil, nil, err
		}
		return c, nil, c.Disconnect, nil
	default:
		mem := feed.NewMemory()
		log.Infow("using simulated field device", "topic", cfg.Simulator.Topic, "tick", cfg.Simulator.Tick)
		return mem, service.NewSimulatorService(mem, cfg, log), func() {}, nil
	}
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		log.Infow("http server listening", "port", port)
		if err := srv.Run(port, handler.InitRoutes()); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown listens for termination signals and performs graceful shutdown.
func waitForShutdown(cancel context.CancelFunc, srv *server.Server, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	// stop background goroutines
	cancel()

	// allow in-flight requests to complete
	ctx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server forced to shutdown", "err", err)
	}
}
