// Command weathersync runs exactly one auto-updater batch against the
// durable stores and exits, intended for cron-triggered refresh outside
// the long-lived weathersummaryd daemon.
package main

import (
	"context"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/weatherlake/summary-core/internal/autoupdate"
	"github.com/weatherlake/summary-core/internal/core/config"
	"github.com/weatherlake/summary-core/internal/core/httpclient"
	"github.com/weatherlake/summary-core/internal/core/observability"
	"github.com/weatherlake/summary-core/internal/logger"
	"github.com/weatherlake/summary-core/internal/region"
	"github.com/weatherlake/summary-core/internal/resolver"
	"github.com/weatherlake/summary-core/internal/store/manual"
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

func main() {
	cfg := config.FromEnv()
	zl := logger.Build(logger.Config{Level: cfg.LogLevel, Console: true}, os.Stdout)

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

	builder := &build.Builder{
		Climate: climate.New(fetcher, cfg.ClimateBaseURLs, cfg.YearCacheMaxEntries),
		Air:     air.New(fetcher, cfg.AirBaseURL, cfg.YearCacheMaxEntries),
		Marine:  marine.New(fetcher, cfg.MarineBaseURL, cfg.YearCacheMaxEntries),
		Logger:  &zl,
	}

	cache, err := summarycache.New(cfg.CacheDir, nil, &zl)
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

	res := &resolver.Resolver{
		Catalog:       catalog,
		Snapshot:      snap,
		SummaryCache:  cache,
		Manual:        manual.New(cfg.ManualDataDir),
		Builder:       builder,
		SingleFlight:  singleflight.New[summary.MonthlySummary](),
		BaselineYears: func(now time.Time) []int { return cfg.BaselineYearWindow(now.Year()) },
		Logger:        &zl,
	}

	updater := &autoupdate.Updater{
		Resolver:        res,
		Snapshot:        snap,
		BaselineYears:   res.BaselineYears,
		BatchSize:       cfg.AutoBatchSize,
		UpstreamSpacing: cfg.UpstreamSpacing(),
		Logger:          &zl,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Minute)
	defer cancel()
	updater.RunBatch(ctx)
}
