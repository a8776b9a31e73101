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

	"go.uber.org/zap"

	"github.com/BioHazard786/syncwave/internal/acquire"
	"github.com/BioHazard786/syncwave/internal/config"
	"github.com/BioHazard786/syncwave/internal/logging"
	"github.com/BioHazard786/syncwave/internal/metrics"
	"github.com/BioHazard786/syncwave/internal/server"
	"github.com/BioHazard786/syncwave/internal/signaling"
	"github.com/BioHazard786/syncwave/internal/version"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger, err := logging.NewServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg, err := config.LoadServer()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	metrics.SetBuildInfo(version.Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	validator := acquire.Validator{AllowPrivate: cfg.AllowPrivateFetch}
	var fetcher acquire.Fetcher
	if cfg.FetchCommand != "" {
		fetcher = acquire.NewCommandFetcher(cfg.FetchCommand, cfg.MaxDownloadBytes, validator, logger)
	} else {
		fetcher = acquire.NewHTTPFetcher(cfg.MaxDownloadBytes, validator, logger)
	}

	hub := signaling.NewHub(signaling.NewDirectory(cfg.RoomIDLength, logger), fetcher, cfg.DownloadTimeout, logger)
	go hub.Run(ctx)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.NewRouter(hub, cfg, logger),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("starting signaling server",
			zap.String("addr", cfg.ListenAddr),
			zap.String("version", version.Version),
			zap.Bool("extractor", cfg.FetchCommand != ""))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
