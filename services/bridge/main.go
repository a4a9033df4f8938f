package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/keptn/bridge/pkg/config"
	"github.com/keptn/bridge/pkg/metrics"
	helpers "github.com/keptn/bridge/pkg/shared"
	"github.com/keptn/bridge/services/bridge/internal/credentials"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := helpers.NewLogger("bridge", "info")
	slog.SetDefault(logger)

	id := uuid.New()
	slog.Info("Starting bridge", "uuid", id.String())

	pflag.String("config", "", "Path to config file (default: ./config.yaml)")
	pflag.String("log_level", "info", "Log level (debug|info|warn|error)")
	pflag.Int("port", 3000, "HTTP server port")
	pflag.String("hostname", "", "Hostname to listen on")
	pflag.String("api_url", "", "Base URL of the Keptn API")
	pflag.String("frontend_dir", "dist", "Directory with the built web UI")
	pflag.String("static_dir", "server/views/static", "Directory with the server's static files")
	pflag.Bool("debug_endpoints", false, "Expose the /dir diagnostics endpoint")
	pflag.String("override", "", "Override simple config values (string, int, bool) as comma-separated key:value pairs (e.g., bridge.port:9000,log_level:debug)")

	pflag.Parse()

	v := config.NewViper()
	err := config.BindFlags(v, pflag.CommandLine, map[string]string{
		"log_level":       "log_level",
		"port":            "bridge.port",
		"hostname":        "bridge.hostname",
		"api_url":         "bridge.api_url",
		"frontend_dir":    "bridge.frontend_dir",
		"static_dir":      "bridge.static_dir",
		"debug_endpoints": "bridge.debug_endpoints",
	})
	if err != nil {
		slog.Error("Failed to bind flags", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(v, pflag.Lookup("config").Value.String(), pflag.Lookup("override").Value.String())
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// Update the logger to use the configured log level
	logger = helpers.NewLogger("bridge", cfg.LogLevel)
	slog.SetDefault(logger)
	slog.Debug("Loaded configuration", "config", cfg.Redacted())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Bridge.MetricsEnabled {
		metrics.Register()
	}

	resolver := credentials.NewResolver(cfg.Bridge.Token.Command, cfg.Bridge.Token.Timeout)
	a, err := newApp(ctx, cfg, resolver)
	if err != nil {
		slog.Error("Failed to start bridge", "error", err)
		os.Exit(1)
	}

	// cancelled together with the server on SIGINT/SIGTERM
	a.branding.Schedule(ctx)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Bridge.Hostname, cfg.Bridge.Port),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Bridge listening", "hostname", cfg.Bridge.Hostname, "port", cfg.Bridge.Port, "auth", cfg.AuthMode())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			slog.Error("ListenAndServe error", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		slog.Info("Signal received, shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server Shutdown error", "error", err)
	} else {
		slog.Info("HTTP server shut down gracefully")
	}

	slog.Info("Bridge exited", "branding", a.branding.State())
}
