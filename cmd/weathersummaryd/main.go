// Command weathersummaryd runs the weather summary resolution engine as a
// long-lived daemon: it wires every storage tier and the resolver behind
// an ops HTTP surface (/healthz, /readyz, /metrics) and serves the
// background auto-updater until it receives a shutdown signal.
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

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weatherlake/summary-core/internal/autoupdate"
	"github.com/weatherlake/summary-core/internal/core/config"
	"github.com/weatherlake/summary-core/internal/core/health"
	"github.com/weatherlake/summary-core/internal/core/httpclient"
	"github.com/weatherlake/summary-core/internal/core/observability"
	"github.com/weatherlake/summary-core/internal/events"
	"github.com/weatherlake/summary-core/internal/logger"
	"github.com/weatherlake/summary-core/internal/region"
	"github.com/weatherlake/summary-core/internal/resolver"
	"github.com/weatherlake/summary-core/internal/store/manual"
	"github.com/weatherlake/summary-core/internal/store/redismirror"
	"github.com/weatherlake/summary-core/internal/store/singleflight"
	"github.com/weatherlake/summary-core/internal/store/snapshot"
	"github.com/weatherlake/summary-core/internal/store/summarycache"
	"github.com/weatherlake/summary-core/internal/summary"
	"github.com/weatherlake/summary-core/internal/upstream/fetch"
	"github.com/weatherlake/summary-core/internal/upstream/scheduler"
	"github.com/weatherlake/summary-core/internal/weather/air"
	"github.com/weatherlake/summary-core/internal/weather/build"
	"github.com/weatherlake/summary-core/internal/weather/climate"
	"github.com/weatherlake/summary-core/internal/weather/marine"
)

var version = "dev"

func main() {
	cfg := config.FromEnv()
	zl := logger.Build(logger.Config{Level: cfg.LogLevel, Console: false}, os.Stdout)
	zl.Info().Str("version", version).Msg("starting weathersummaryd")

	registry := prometheus.NewRegistry()
	observability.Init(registry, cfg.MetricsEnabled)

	catalog, err := region.Load(cfg.RegionCatalogPath)
	if err != nil {
		zl.Fatal().Err(err).Msg("load region catalog")
	}

	sched := scheduler.New(cfg.UpstreamSpacing())
	fetcher := &fetch.Fetcher{
		Client:     httpclient.NewOutbound(cfg.Timeout()),
		Scheduler:  sched,
		Attempts:   cfg.Attempts,
		PerAttempt: cfg.Timeout(),
		BaseDelay:  cfg.RetryBaseDelay(),
		MinBackoff: cfg.RateLimitMinBackoff(),
		Logger:     &zl,
	}

	climateLoader := climate.New(fetcher, cfg.ClimateBaseURLs, cfg.YearCacheMaxEntries)
	airLoader := air.New(fetcher, cfg.AirBaseURL, cfg.YearCacheMaxEntries)
	marineLoader := marine.New(fetcher, cfg.MarineBaseURL, cfg.YearCacheMaxEntries)
	builder := &build.Builder{Climate: climateLoader, Air: airLoader, Marine: marineLoader, Logger: &zl}

	var redisMirror *redismirror.Mirror
	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisMirror, err = redismirror.New(ctx, cfg.RedisAddr, cfg.SnapshotClimateMaxAge())
		cancel()
		if err != nil {
			zl.Warn().Err(err).Msg("redis mirror disabled: connect failed")
			redisMirror = nil
		}
	}

	cache, err := summarycache.New(cfg.CacheDir, redisMirror, &zl)
	if err != nil {
		zl.Fatal().Err(err).Msg("init summary cache")
	}
	snap, err := snapshot.New(cfg.SnapshotDir, snapshot.MaxAge{
		Climate: cfg.SnapshotClimateMaxAge(),
		Air:     cfg.SnapshotAirMaxAge(),
		Marine:  cfg.SnapshotMarineMaxAge(),
	})
	if err != nil {
		zl.Fatal().Err(err).Msg("init snapshot store")
	}
	manualLoader := manual.New(cfg.ManualDataDir)

	var publisher *events.Publisher
	if cfg.KafkaBrokers != "" {
		brokers := splitCSV(cfg.KafkaBrokers)
		publisher, err = events.NewPublisher(brokers, "weather-summary-refresh", 1024, &zl)
		if err != nil {
			zl.Warn().Err(err).Msg("kafka refresh-event publisher disabled: connect failed")
			publisher = nil
		}
	}

	res := &resolver.Resolver{
		Catalog:       catalog,
		Snapshot:      snap,
		SummaryCache:  cache,
		Manual:        manualLoader,
		Builder:       builder,
		SingleFlight:  singleflight.New[summary.MonthlySummary](),
		BaselineYears: func(now time.Time) []int { return cfg.BaselineYearWindow(now.Year()) },
		Events:        publisher,
		Logger:        &zl,
	}

	updater := &autoupdate.Updater{
		Resolver:        res,
		Snapshot:        snap,
		BaselineYears:   res.BaselineYears,
		Interval:        cfg.AutoInterval(),
		BatchSize:       cfg.AutoBatchSize,
		UpstreamSpacing: cfg.UpstreamSpacing(),
		Logger:          &zl,
	}

	updaterCtx, cancelUpdater := context.WithCancel(context.Background())
	if cfg.AutoUpdateEnabled {
		go updater.Start(updaterCtx)
	}

	router := chi.NewRouter()
	router.Get("/healthz", health.Liveness())
	router.Get("/readyz", health.Readiness(readinessReporter{catalog: catalog, cacheDir: cfg.CacheDir, snapshotDir: cfg.SnapshotDir}))
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:              cfg.OpsAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		zl.Info().Str("addr", cfg.OpsAddr).Msg("ops http listen")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	shutdownSignalCh := make(chan os.Signal, 1)
	signal.Notify(shutdownSignalCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-shutdownSignalCh:
		zl.Info().Str("signal", sig.String()).Msg("signal received, shutting down")
	case err := <-serverErrCh:
		zl.Error().Err(err).Msg("ops http server error")
	}

	cancelUpdater()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
	if publisher != nil {
		_ = publisher.Close()
	}
	if redisMirror != nil {
		_ = redisMirror.Close()
	}
	zl.Info().Msg("weathersummaryd stopped")
}

type readinessReporter struct {
	catalog     *region.Catalog
	cacheDir    string
	snapshotDir string
}

func (r readinessReporter) Readiness() (bool, map[string]string) {
	detail := map[string]string{}
	ready := true
	if len(r.catalog.IDs()) == 0 {
		ready = false
		detail["regions"] = "empty catalog"
	}
	for name, dir := range map[string]string{"cache_dir": r.cacheDir, "snapshot_dir": r.snapshotDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			ready = false
			detail[name] = fmt.Sprintf("unreachable: %v", err)
		}
	}
	return ready, detail
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
