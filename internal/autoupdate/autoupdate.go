// Package autoupdate runs the background sweep that refreshes stale or
// missing snapshot rows in bounded batches, so resolver reads stay
// mostly warm without every caller paying a refresh.
package autoupdate

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/weatherlake/summary-core/internal/core/observability"
	"github.com/weatherlake/summary-core/internal/resolver"
	"github.com/weatherlake/summary-core/internal/store/snapshot"
)

// Updater owns the periodic sweep. A single process-wide running guard
// prevents overlapping batches.
type Updater struct {
	Resolver      *resolver.Resolver
	Snapshot      *snapshot.Store
	BaselineYears func(now time.Time) []int
	Interval      time.Duration
	BatchSize     int
	UpstreamSpacing time.Duration
	Logger        *zerolog.Logger
	Now           func() time.Time

	running atomic.Bool
}

func (u *Updater) now() time.Time {
	if u.Now != nil {
		return u.Now()
	}
	return time.Now()
}

// Start runs one batch immediately, then every Interval until ctx is
// canceled.
func (u *Updater) Start(ctx context.Context) {
	u.RunBatch(ctx)
	ticker := time.NewTicker(u.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.RunBatch(ctx)
		}
	}
}

type target struct {
	regionID string
	month    int
}

// RunBatch enumerates stale/missing rows across every region and month
// and refreshes up to BatchSize of them. A no-op if a batch is already
// running.
func (u *Updater) RunBatch(ctx context.Context) {
	if !u.running.CompareAndSwap(false, true) {
		return
	}
	defer u.running.Store(false)

	batchSize := u.BatchSize
	if batchSize <= 0 {
		batchSize = 24
	}

	baselineYears := u.BaselineYears(u.now())
	targets := u.collectTargets(baselineYears, batchSize)

	refreshed, stale, errs := 0, 0, 0
	for i, t := range targets {
		if ctx.Err() != nil {
			break
		}
		res, err := u.Resolver.ResolveWeatherSummaryForRegionMonth(ctx, resolver.Input{
			RegionID:           t.regionID,
			Month:              t.month,
			IncludeMarine:      true,
			Mode:               resolver.ModeRefreshIfStale,
			AllowStaleSnapshot: true,
		})
		switch {
		case err != nil:
			errs++
			if observability.Enabled() {
				observability.ObserveAutoUpdateTarget("error")
			}
		case res.Source == resolver.SourceRefreshed:
			refreshed++
			if observability.Enabled() {
				observability.ObserveAutoUpdateTarget("refreshed")
			}
		default:
			stale++
			if observability.Enabled() {
				observability.ObserveAutoUpdateTarget("stale")
			}
		}

		if i < len(targets)-1 {
			if !sleepCtx(ctx, u.UpstreamSpacing) {
				break
			}
		}
	}

	outcome := "ok"
	if errs > 0 {
		outcome = "partial_error"
	}
	if observability.Enabled() {
		observability.ObserveAutoUpdateBatch(outcome)
	}
	if u.Logger != nil {
		u.Logger.Info().
			Int("refreshed", refreshed).
			Int("stale", stale).
			Int("errors", errs).
			Int("targets", len(targets)).
			Msg("auto-update batch complete")
	}
}

func (u *Updater) collectTargets(baselineYears []int, batchSize int) []target {
	var out []target
	for _, regionID := range u.Resolver.ListWeatherRegionIds() {
		for month := 1; month <= 12; month++ {
			entry, hasSnapshot := u.Snapshot.Get(regionID, month)
			stale := true
			if hasSnapshot {
				reason := u.Snapshot.StaleReason(entry, baselineYears, entry.IncludesMarine, u.now())
				stale = reason != ""
			}
			if stale {
				out = append(out, target{regionID: regionID, month: month})
				if len(out) >= batchSize {
					return out
				}
			}
		}
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
