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

	"github.com/mediscan-tech/mediscan/internal/server"
	"github.com/mediscan-tech/mediscan/internal/store"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for the recognition API",
	Long: `Start an HTTP server that exposes the recognition pipeline.

The server provides the following endpoints:
  POST /scan          - Process uploaded front (and optional back) images
  GET  /records       - List recent records
  GET  /records/{id}  - Fetch one record by image ID
  GET  /health        - Health check endpoint
  GET  /metrics       - Prometheus metrics
  WS   /ws/scan       - Scan with progress streaming

Examples:
  mediscan serve
  mediscan serve --port 8080
  mediscan serve --host 0.0.0.0 --port 3000 --store-path records.db`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
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
	maxUploadMB := cfg.Server.MaxUploadMB
	if cmd.Flags().Changed("max-upload-size") {
		maxUploadMB, _ = cmd.Flags().GetInt("max-upload-size")
	}
	timeoutSec := cfg.Server.TimeoutSec
	if cmd.Flags().Changed("timeout") {
		timeoutSec, _ = cmd.Flags().GetInt("timeout")
	}
	shutdownSec := cfg.Server.ShutdownTimeoutSec
	if cmd.Flags().Changed("shutdown-timeout") {
		shutdownSec, _ = cmd.Flags().GetInt("shutdown-timeout")
	}
	storePath := cfg.Store.Path
	if cmd.Flags().Changed("store-path") {
		storePath, _ = cmd.Flags().GetString("store-path")
	}

	pcfg, err := cfg.ToPipelineConfig()
	if err != nil {
		return err
	}

	st, err := store.Open(storePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	srv, err := server.NewServer(server.Config{
		Host:           host,
		Port:           port,
		CORSOrigin:     corsOrigin,
		MaxUploadMB:    int64(maxUploadMB),
		TimeoutSec:     timeoutSec,
		PipelineConfig: pcfg,
	}, st)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	defer func() { _ = srv.Close() }()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(timeoutSec) * time.Second,
		WriteTimeout:      time.Duration(timeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("Shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(shutdownSec)*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "host interface to bind")
	serveCmd.Flags().IntP("port", "p", 0, "port to listen on")
	serveCmd.Flags().String("cors-origin", "", "allowed CORS origin")
	serveCmd.Flags().Int("max-upload-size", 0, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 0, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 0, "graceful shutdown timeout in seconds")
	serveCmd.Flags().String("store-path", "", "path of the record store database")
}
