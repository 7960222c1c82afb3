// Command kvresp-server runs the RESP-compatible key-value server: it
// loads configuration, restores a starting snapshot if one exists, then
// accepts connections until SIGINT/SIGTERM.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kvresp/internal/blocking"
	"kvresp/internal/config"
	"kvresp/internal/dispatch"
	"kvresp/internal/logging"
	"kvresp/internal/metrics"
	"kvresp/internal/rdb"
	"kvresp/internal/server"
	"kvresp/internal/store"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if _, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Infof)); err != nil {
		logger.Warn("automaxprocs: failed to set GOMAXPROCS", zap.Error(err))
	}

	metricsRegistry := metrics.NewRegistry()

	registry := blocking.NewRegistry()
	st := store.New(registry)

	snapshotPath := filepath.Join(cfg.RDB.Dir, cfg.RDB.DBFilename)
	loaded := rdb.Load(snapshotPath, st, logger)
	metricsRegistry.RDBKeysLoaded.Set(float64(loaded))

	srv := server.New(cfg.Server, logger, metricsRegistry, func() *dispatch.Dispatcher {
		return dispatch.New(st, registry, metricsRegistry, logger, cfg.RDB.Dir, cfg.RDB.DBFilename)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sampleStop := make(chan struct{})
	go metricsRegistry.StartProcessSampler(5*time.Second, sampleStop)
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-sampleStop:
				return
			case <-ticker.C:
				metricsRegistry.BlockedWaiters.Set(float64(registry.Count()))
			}
		}
	}()

	group, groupCtx := errgroup.WithContext(ctx)

	if err := srv.Start(groupCtx); err != nil {
		close(sampleStop)
		return err
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsRegistry.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}

		group.Go(func() error {
			logger.Info("metrics listening", zap.String("addr", cfg.Metrics.ListenAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	<-groupCtx.Done()
	logger.Info("shutting down")

	close(sampleStop)
	srv.Stop()

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	if err := group.Wait(); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}
