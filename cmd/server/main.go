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

	"github.com/vehiclemarket/adrotation/internal/analytics"
	"github.com/vehiclemarket/adrotation/internal/api"
	"github.com/vehiclemarket/adrotation/internal/config"
	"github.com/vehiclemarket/adrotation/internal/db"
	"github.com/vehiclemarket/adrotation/internal/logic/quality"
	"github.com/vehiclemarket/adrotation/internal/logic/rotation"
	"github.com/vehiclemarket/adrotation/internal/observability"
)

func main() {
	cfg := config.Load()

	logger, err := observability.InitLogger(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, cfg.ServiceName, cfg.TempoEndpoint, cfg.TracingSampleRate)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	pg, err := db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)
	if err != nil {
		return fmt.Errorf("failed to connect postgres: %w", err)
	}
	defer pg.Close()

	store, err := db.InitRedis(cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("failed to connect redis: %w", err)
	}
	defer store.Close()

	ch, err := analytics.InitClickHouse(cfg.ClickHouseDSN)
	if err != nil {
		return fmt.Errorf("failed to connect clickhouse: %w", err)
	}
	defer ch.Close()

	metrics := observability.NewPrometheusRegistry()
	engine := rotation.NewEngine(pg, logger)
	cache := rotation.NewCache(store, engine, pg, logger, metrics)

	calculator := quality.NewCalculator(ch, cfg.QualityCTRWindow, logger)
	recalculator := quality.NewRecalculator(calculator, pg, logger)
	go runQualitySweep(ctx, logger, recalculator, cfg.QualityRecalcInterval)

	server := api.NewServer(logger, cache, ch, metrics, cfg)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("port", cfg.Port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

// runQualitySweep recalculates campaign quality scores on a fixed interval
// until the context is cancelled. The first sweep runs shortly after startup
// so fresh deployments don't serve default scores for a full interval.
func runQualitySweep(ctx context.Context, logger *zap.Logger, r *quality.Recalculator, interval time.Duration) {
	timer := time.NewTimer(time.Minute)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if err := r.RecalculateAll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("quality recalculation failed", zap.Error(err))
		}
		timer.Reset(interval)
	}
}
