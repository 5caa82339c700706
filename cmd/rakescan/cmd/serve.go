package cmd

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

	"github.com/MeKo-Tech/rakescan/internal/batch"
	"github.com/MeKo-Tech/rakescan/internal/server"
	"github.com/MeKo-Tech/rakescan/internal/store"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for inspections and history",
	Long: `Start an HTTP server that runs inspections of server-local videos and
serves the inspection history.

The server provides the following endpoints:
  POST   /inspect                Start an inspection ({"video": "/data/train.mp4"})
  GET    /inspect/{run}          Status of a running or finished inspection
  GET    /history                List stored inspections
  GET    /history/{id}           One inspection with its wagons
  DELETE /history/{id}           Delete an inspection
  GET    /history/{id}/report    PDF inventory (?format=text|json|csv|yaml)
  GET    /stats                  Totals over every stored inspection
  GET    /ws/progress            Live progress over WebSocket
  GET    /metrics                Prometheus metrics
  GET    /health                 Health check

Examples:
  rakescan serve
  rakescan serve --port 8080
  rakescan serve --host 0.0.0.0 --port 3000 --max-inspections 2`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		host := cfg.Server.Host
		if cmd.Flags().Changed("host") {
			host, _ = cmd.Flags().GetString("host")
		}

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}

		corsOrigin := cfg.Server.CORSOrigin
		if cmd.Flags().Changed("cors-origin") {
			corsOrigin, _ = cmd.Flags().GetString("cors-origin")
		}

		timeout := cfg.Server.TimeoutSec
		if cmd.Flags().Changed("timeout") {
			timeout, _ = cmd.Flags().GetInt("timeout")
		}

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if cmd.Flags().Changed("shutdown-timeout") {
			shutdownTimeout, _ = cmd.Flags().GetInt("shutdown-timeout")
		}

		maxInspections := cfg.Server.MaxInspections
		if cmd.Flags().Changed("max-inspections") {
			maxInspections, _ = cmd.Flags().GetInt("max-inspections")
		}

		if cmd.Flags().Changed("db") {
			cfg.Store.Path, _ = cmd.Flags().GetString("db")
		}
		if cmd.Flags().Changed("mode") {
			cfg.Policy.Mode, _ = cmd.Flags().GetString("mode")
		}
		if cmd.Flags().Changed("evidence-dir") {
			cfg.Output.Dir, _ = cmd.Flags().GetString("evidence-dir")
		}
		if noEvidence, _ := cmd.Flags().GetBool("no-evidence"); noEvidence {
			cfg.Output.SaveEvidence = false
		}

		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", port)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to open inspection store: %w", err)
		}
		defer func() { _ = st.Close() }()

		serverConfig := server.Config{
			Host:           host,
			Port:           port,
			CORSOrigin:     corsOrigin,
			TimeoutSec:     timeout,
			MaxInspections: maxInspections,
			Store:          st,
			Batch: batch.Config{
				Pipeline:     cfg.ToPipelineConfig(),
				Video:        cfg.ToVideoConfig(),
				Evidence:     cfg.ToEvidenceConfig(),
				SaveEvidence: cfg.Output.SaveEvidence,
				MaxFrames:    cfg.Video.MaxFrames,
			},
		}

		inspectionServer, err := server.NewServer(serverConfig)
		if err != nil {
			return fmt.Errorf("failed to initialize server: %w", err)
		}

		mux := http.NewServeMux()
		inspectionServer.SetupRoutes(mux)

		// No WriteTimeout: /ws/progress and PDF rendering hold connections open.
		httpServer := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", host, port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       time.Duration(timeout) * time.Second,
		}

		go func() {
			slog.Info("Starting inspection server", "host", host, "port", port, "store", st.Path())
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Server error", "error", err)
				cancel()
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

		select {
		case sig := <-sigChan:
			slog.Info("Received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			slog.Info("Context cancelled, initiating shutdown")
		}

		slog.Info("Starting graceful shutdown", "timeout", fmt.Sprintf("%ds", shutdownTimeout))

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(shutdownTimeout)*time.Second)
		defer shutdownCancel()

		slog.Info("Shutting down HTTP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server shutdown completed")
		}

		// Running inspections are cancelled and still store their partial reports
		slog.Info("Stopping running inspections")
		if err := inspectionServer.Close(); err != nil {
			slog.Error("Server cleanup error", "error", err)
		} else {
			slog.Info("Server cleanup completed")
		}

		slog.Info("Graceful shutdown completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("timeout", 30, "request read timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().Int("max-inspections", 1, "inspections allowed to run at once")
	serveCmd.Flags().String("db", "inspections.db", "inspection history database")
	serveCmd.Flags().String("mode", "number_region", "dispatch mode: number_region or wagon_box")
	serveCmd.Flags().String("evidence-dir", "output", "directory for evidence crops")
	serveCmd.Flags().Bool("no-evidence", false, "do not save evidence crops")
}
