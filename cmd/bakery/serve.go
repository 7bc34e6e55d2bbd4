package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fjod/go_bakery/internal/config"
	"github.com/fjod/go_bakery/pkg/logging"
	"github.com/fjod/go_bakery/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the storefront HTTP API and the reservation sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.HTTPPort = port
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "HTTP port, overrides HTTP_PORT")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logging.New(cfg.LogLevel)

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:  "bakery",
		Exporter:     cfg.TraceExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		OTLPInsecure: cfg.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a, err := buildApp(ctx, cfg, log, reg)
	if err != nil {
		_ = shutdownTracing(context.Background())
		return fmt.Errorf("startup failed: %w", err)
	}
	defer a.Close()

	workerCtx, stopWorkers := context.WithCancel(ctx)
	var workers sync.WaitGroup
	workers.Add(2)
	go func() {
		defer workers.Done()
		a.sweeper.Run(workerCtx)
	}()
	go func() {
		defer workers.Done()
		a.relay.Run(workerCtx)
	}()

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      a.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("bakery storefront starting", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case <-quit:
	case err := <-serverErr:
		runErr = fmt.Errorf("server error: %w", err)
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("server forced to shutdown: %w", err))
	}
	stopWorkers()
	workers.Wait()
	if n, err := a.relay.Flush(shutdownCtx); err != nil {
		log.Warn("final outbox flush incomplete", "published", n, "err", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("flush traces failed", "err", err)
	}

	log.Info("server exited")
	return runErr
}
