package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/qrpay/internal/auth"
	"github.com/frahmantamala/qrpay/internal/monitor"
	"github.com/frahmantamala/qrpay/internal/notify"
	"github.com/frahmantamala/qrpay/internal/order"
	"github.com/frahmantamala/qrpay/internal/qrcode"
	"github.com/frahmantamala/qrpay/internal/setting"
	"github.com/frahmantamala/qrpay/internal/sweeper"
	"github.com/frahmantamala/qrpay/internal/transport"
	"github.com/frahmantamala/qrpay/internal/transport/rest"
	"github.com/frahmantamala/qrpay/internal/transport/swagger"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var openAPIPath string

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server serving merchants, the monitor agent and the admin console`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

func init() {
	httpServerCmd.Flags().StringVar(&openAPIPath, "openapi", "./api/openapi.yml", "OpenAPI document served at "+swagger.DocumentPath)
}

func startHTTPServer() {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	app, err := newApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	log := app.Logger

	ctx := context.Background()
	if err := app.Settings.EnsureDefaults(ctx); err != nil {
		log.Error("failed to seed default settings", "error", err)
		os.Exit(1)
	}

	var scheduler *sweeper.Scheduler
	if cfg.Sweeper.Enabled {
		scheduler, err = sweeper.NewScheduler(app.Sweeper, cfg.Sweeper.Schedule, log)
		if err != nil {
			log.Error("failed to create sweep scheduler", "error", err)
			os.Exit(1)
		}
		scheduler.Start()
	}

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, buildHandlers(app), log)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down...", "signal", sig)
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			app.Close()
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", "error", err)
	}
	if scheduler != nil {
		scheduler.Stop(shutdownCtx)
	}
	if err := app.Dispatcher.Shutdown(shutdownCtx); err != nil {
		log.Warn("notification dispatcher did not drain", "error", err)
	}
	app.Close()

	log.Info("Server stopped")
}

func buildHandlers(app *App) rest.Handlers {
	base := transport.NewBaseHandler(app.Logger)

	h := rest.Handlers{
		Health:         rest.NewHealthHandler(app.SQL, app.Settings),
		Auth:           auth.NewHandler(app.Auth),
		Order:          order.NewHandler(app.Service),
		Monitor:        monitor.NewHandler(base, app.Gateway),
		Setting:        setting.NewHandler(base, app.Settings),
		QRCode:         qrcode.NewHandler(base, app.QRCodes),
		Notify:         notify.NewHandler(base, app.Logs),
		AllowedOrigins: app.Config.Server.Origins(),
	}

	if app.Config.Observability.Metrics.Enabled {
		h.Metrics = app.Metrics
		h.MetricsPath = app.Config.Observability.Metrics.Path
	}

	doc, _, err := swagger.Document(openAPIPath)
	if err != nil {
		app.Logger.Warn("OpenAPI document not served", "path", openAPIPath, "error", err)
	} else {
		h.OpenAPI = doc
	}

	return h
}
