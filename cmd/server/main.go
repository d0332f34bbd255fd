// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"psu-service/internal/config"
	"psu-service/internal/database"
	"psu-service/internal/discovery"
	"psu-service/internal/repository"
	"psu-service/internal/routes"
	"psu-service/internal/session"
	"psu-service/internal/transport"
	"psu-service/internal/utils"
)

// Application represents the main application
type Application struct {
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
	database *database.DB // nil when storage is disabled

	manager *session.Manager
	lister  discovery.PortLister
}

func main() {
	app, err := NewApplication()
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, cfg.App.Name)
	serviceLogger.LogServiceStart(cfg.App.Version)

	app := &Application{
		config: cfg,
		logger: logger,
	}

	if err := app.initializeStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initializeInstrumentStack(); err != nil {
		return nil, fmt.Errorf("failed to initialize instrument stack: %w", err)
	}

	if err := app.initializeServer(); err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return app, nil
}

// initializeStorage sets up the optional measurement archive
func (app *Application) initializeStorage() error {
	if !app.config.Storage.Enabled {
		app.logger.Info("Measurement archive disabled")
		return nil
	}

	db, err := database.NewConnection(app.config, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	app.database = db

	migrator := database.NewMigrator(db, app.logger)
	if err := migrator.Up(); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	app.logger.Info("Measurement archive initialized")
	return nil
}

// initializeInstrumentStack wires the enumerator, scanner, and session
// manager. Discovery probes and the live session open ports through the same
// transport factory.
func (app *Application) initializeInstrumentStack() error {
	app.lister = discovery.NewPortLister(app.logger)

	factory := func(portName string) transport.LineTransport {
		return transport.New(transport.Config{
			Port:     portName,
			BaudRate: app.config.Instrument.BaudRate,
		}, app.logger)
	}

	scanner := discovery.NewScanner(app.lister, factory, discovery.Config{
		ProbeTimeout: app.config.Scan.ProbeTimeout,
		Precision:    app.config.Instrument.Precision,
	}, app.logger)

	var samples repository.MeasurementRepository
	var scans repository.ScanRepository
	if app.database != nil {
		samples = repository.NewMeasurementRepository(app.database, app.logger)
		scans = repository.NewScanRepository(app.database, app.logger)
	}

	app.manager = session.NewManager(app.config, scanner, factory, samples, scans, app.logger)

	app.logger.Info("Instrument stack initialized",
		zap.String("platform", app.lister.Platform()),
		zap.Int("baud_rate", app.config.Instrument.BaudRate),
		zap.Duration("probe_timeout", app.config.Scan.ProbeTimeout),
	)
	return nil
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() error {
	routerManager := routes.NewRouter(
		app.config,
		app.logger,
		app.database,
		app.manager,
		app.lister,
	)

	router := routerManager.SetupRouter()

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
	)

	return nil
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	app.shutdown()
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, app.config.App.Name)
	serviceLogger.LogServiceStop("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	// Disconnect the instrument so it is not left in remote lockout.
	app.manager.Close()

	if app.database != nil {
		if err := app.database.Close(); err != nil {
			app.logger.Error("Database close error", zap.Error(err))
		} else {
			app.logger.Info("Database connection closed")
		}
	}

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}

// Start runs the HTTP server until a shutdown signal arrives
func (app *Application) Start() error {
	go func() {
		app.logger.Info("Starting HTTP server",
			zap.String("address", app.server.Addr),
		)

		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	app.waitForShutdown()
	return nil
}
