package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/tempora-hq/calsync-server/internal/api"
	"github.com/tempora-hq/calsync-server/internal/sync/coordinator"
)

const (
	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 15 * time.Second
	serverIdleTimeout      = 60 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync server",
	Long: `Start the calendar sync server: the background coordinator syncs every
enabled source on its configured interval, and the REST API serves the
event cache, manual sync triggers, and the sync audit log.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	serveCmd.Flags().String("address", "", "Address to listen on (overrides config)")
	serveCmd.Flags().String("data-dir", "./data", "Directory for local state when no database is configured")

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	configPath, _ := cmd.Flags().GetString("config")
	address, _ := cmd.Flags().GetString("address")
	dataDir, _ := cmd.Flags().GetString("data-dir")

	deps, err := buildDependencies(ctx, configPath, dataDir)
	if err != nil {
		return err
	}
	defer deps.Close()

	if address == "" {
		address = deps.cfg.GetListenAddress()
	}

	// Background coordinator
	coord := coordinator.New(deps.orch, deps.log, deps.cfg)
	coordErr := make(chan error, 1)
	go func() {
		coordErr <- coord.Start(ctx)
	}()

	// REST API
	router := api.NewServer(deps.orch, deps.log, deps.events,
		api.WithMiddlewares(
			middleware.RequestID,
			middleware.Recoverer,
			api.LoggingMiddleware,
		))
	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Starting API server",
			"address", address,
			"instance", deps.cfg.GetInstanceName())
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Error shutting down server", "error", err)
	}
	if err := coord.Stop(); err != nil {
		slog.Error("Error stopping coordinator", "error", err)
	}
	if err := <-coordErr; err != nil {
		return fmt.Errorf("coordinator failed: %w", err)
	}

	slog.Info("Server stopped")
	return nil
}
