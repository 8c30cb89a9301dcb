// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"dut-service/internal/config"
	"dut-service/internal/discovery/tcp"
	"dut-service/internal/dut"
	"dut-service/internal/handler"
	"dut-service/internal/metrics"
	"dut-service/internal/routes"
	"dut-service/internal/service"
	"dut-service/internal/utils"
)

// Application represents the main application
type Application struct {
	config *config.Config
	logger *zap.Logger
	server *http.Server

	eventBus  *handler.EventBus
	collector *metrics.Collector

	dutService       *service.DUTService
	operationService *service.OperationService
	discoveryService *service.DiscoveryService
}

// @title DUT Service API
// @version 1.0.0
// @description Packet, console and discovery access to a device under test

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @BasePath /api/v1
func main() {
	fs := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	config.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	configPath, _ := fs.GetString("config")
	cfg, err := config.LoadWithFlags(configPath, fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if printConfig, _ := fs.GetBool("print-config"); printConfig {
		if err := cfg.WriteYAML(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to print configuration: %v\n", err)
			os.Exit(1)
		}
		return
	}

	app, err := NewApplication(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, cfg.App.Name)
	serviceLogger.LogServiceStart(cfg.App.Version,
		zap.String("environment", cfg.App.Environment),
		zap.String("dut_host", cfg.DUT.Host),
		zap.String("dut_protocol", cfg.DUT.Protocol),
	)

	app := &Application{
		config: cfg,
		logger: logger,
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initializeServer()
	return app, nil
}

func (app *Application) initializeServices() error {
	dutConfig, err := app.config.DUTConfig()
	if err != nil {
		return err
	}

	app.eventBus = handler.NewEventBus(app.logger)

	var opts []dut.Option
	if app.config.Metrics.Enabled {
		app.collector = metrics.NewCollector("dut")
		opts = append(opts, dut.WithMetrics(app.collector))
	}

	app.dutService = service.NewDUTService(dutConfig, app.config.Monitor, app.eventBus, app.logger, opts...)
	app.operationService = service.NewOperationService(app.dutService, app.eventBus, app.logger)
	app.discoveryService = service.NewDiscoveryService(dutConfig, app.logger,
		tcp.WithSweepPrefix(app.config.Discovery.SweepPrefix),
		tcp.WithSweepTimeout(app.config.Discovery.SweepTimeout),
	)

	app.logger.Info("Services initialized successfully",
		zap.String("dut_endpoint", dutConfig.Endpoint()),
		zap.Bool("metrics_enabled", app.collector != nil),
	)
	return nil
}

func (app *Application) initializeServer() {
	routerManager := routes.NewRouter(
		app.config,
		app.logger,
		app.dutService,
		app.operationService,
		app.discoveryService,
		app.eventBus,
		app.collector,
	)

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      routerManager.SetupRouter(),
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized", zap.String("address", app.config.GetServerAddr()))
}

// Start runs the server until SIGINT or SIGTERM
func (app *Application) Start() error {
	go app.eventBus.Start()

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	app.dutService.Start(startCtx)
	cancel()

	serverErr := make(chan error, 1)
	go func() {
		app.logger.Info("Starting HTTP server", zap.String("address", app.server.Addr))
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		app.shutdown("shutdown signal received")
		return nil
	case err := <-serverErr:
		app.shutdown("http server failed")
		return err
	}
}

func (app *Application) shutdown(reason string) {
	serviceLogger := utils.NewServiceLogger(app.logger, app.config.App.Name)
	serviceLogger.LogServiceStop(reason)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	app.operationService.Stop()
	if err := app.dutService.Stop(); err != nil {
		app.logger.Warn("DUT disconnect reported errors", zap.Error(err))
	} else {
		app.logger.Info("DUT connection closed")
	}

	app.eventBus.Close()

	app.logger.Info("Application shutdown completed")
	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Fprintf(os.Stderr, "Logger close error: %v\n", err)
	}
}
