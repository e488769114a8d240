// Package resolver is the public contract of the weather summary engine:
// it combines snapshot freshness, manual overrides, and the requested
// mode to decide whether to serve stored data or trigger a refresh.
package resolver

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/weatherlake/summary-core/internal/core/observability"
	"github.com/weatherlake/summary-core/internal/events"
	"github.com/weatherlake/summary-core/internal/logger"
	"github.com/weatherlake/summary-core/internal/region"
	"github.com/weatherlake/summary-core/internal/store/manual"
	"github.com/weatherlake/summary-core/internal/store/singleflight"
	"github.com/weatherlake/summary-core/internal/store/snapshot"
	"github.com/weatherlake/summary-core/internal/store/summarycache"
	"github.com/weatherlake/summary-core/internal/summary"
	"github.com/weatherlake/summary-core/internal/weather/build"
)

// Mode selects how aggressively the Resolver is allowed to refresh.
type Mode string

const (
	ModeVerifiedOnly    Mode = "verified_only"
	ModeRefreshIfStale  Mode = "refresh_if_stale"
	ModeForceRefresh    Mode = "force_refresh"
)

// Source names where a returned summary came from.
const (
	SourceRefreshed     = "refreshed"
	SourceSnapshotFresh = "snapshot_fresh"
	SourceSnapshotStale = "snapshot_stale"
)

// Input is one resolve request.
type Input struct {
	RegionID            string
	Month               int
	IncludeMarine       bool
	Mode                Mode
	AllowStaleSnapshot  bool // zero value false: no stale-snapshot fallback unless the caller sets true
}

// Result is what a resolve call returns.
type Result struct {
	Summary summary.MonthlySummary
	Source  string
}

// ValidationError marks a request that was rejected before any upstream
// or storage work was attempted.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

// Resolver wires together every storage tier and the summary builder
// behind the public contract.
type Resolver struct {
	Catalog      *region.Catalog
	Snapshot     *snapshot.Store
	SummaryCache *summarycache.Store
	Manual       *manual.Loader
	Builder      *build.Builder
	SingleFlight *singleflight.Group[summary.MonthlySummary]
	BaselineYears func(now time.Time) []int
	Events       *events.Publisher // optional
	Logger       *zerolog.Logger
	Now          func() time.Time // overridable for tests; defaults to time.Now
}

func (r *Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// ListWeatherRegionIds returns every known region identifier, sorted.
func (r *Resolver) ListWeatherRegionIds() []string {
	return r.Catalog.IDs()
}

// GetWeatherSummaryForRegionMonth is a thin wrapper around Resolve that
// discards the source.
func (r *Resolver) GetWeatherSummaryForRegionMonth(ctx context.Context, in Input) (summary.MonthlySummary, error) {
	res, err := r.ResolveWeatherSummaryForRegionMonth(ctx, in)
	if err != nil {
		return summary.MonthlySummary{}, err
	}
	return res.Summary, nil
}

// ResolveWeatherSummaryForRegionMonth is the engine's full public
// contract: validation, the snapshot/manual/refresh decision table, and
// marine suppression on every return path.
func (r *Resolver) ResolveWeatherSummaryForRegionMonth(ctx context.Context, in Input) (Result, error) {
	start := r.now()
	res, err := r.resolve(ctx, in)
	if err == nil && observability.Enabled() {
		observability.ObserveResolve(res.Source, r.now().Sub(start))
	}
	return res, err
}

func (r *Resolver) resolve(ctx context.Context, in Input) (Result, error) {
	if in.Month < 1 || in.Month > 12 {
		return Result{}, &ValidationError{msg: fmt.Sprintf("invalid month %d: must be 1..12", in.Month)}
	}
	reg, ok := r.Catalog.Get(in.RegionID)
	if !ok {
		return Result{}, &ValidationError{msg: fmt.Sprintf("unknown region %q", in.RegionID)}
	}
	effectiveIncludeMarine := in.IncludeMarine && reg.IsCoastal

	ctx = logger.WithRegion(ctx, in.RegionID)
	ctx = logger.WithMonth(ctx, in.Month)

	baselineYears := r.BaselineYears(r.now())

	entry, hasSnapshot := r.Snapshot.Get(in.RegionID, in.Month)
	staleReason := ""
	if hasSnapshot {
		staleReason = r.Snapshot.StaleReason(entry, baselineYears, effectiveIncludeMarine, r.now())
	}
	fresh := hasSnapshot && staleReason == ""

	manualSummary, hasManual := r.Manual.Get(in.RegionID, in.Month)

	if in.Mode != ModeForceRefresh {
		if fresh {
			return Result{
				Summary: entry.Summary.WithMarinePreference(effectiveIncludeMarine),
				Source:  SourceSnapshotFresh,
			}, nil
		}
		if hasManual {
			return Result{
				Summary: manualSummary.WithMarinePreference(effectiveIncludeMarine),
				Source:  SourceSnapshotFresh,
			}, nil
		}
		if in.Mode == ModeVerifiedOnly {
			if hasSnapshot && in.AllowStaleSnapshot {
				return Result{
					Summary: entry.Summary.WithMarinePreference(effectiveIncludeMarine),
					Source:  SourceSnapshotStale,
				}, nil
			}
			return Result{}, fmt.Errorf("no verified summary for region %s month %d: run the refresh procedure", in.RegionID, in.Month)
		}
	}

	// refresh_if_stale (having fallen through) or force_refresh: invoke
	// the Summary Builder, coalescing concurrent identical requests.
	key := summarycache.Key{
		RegionID:      in.RegionID,
		Month:         in.Month,
		IncludeMarine: effectiveIncludeMarine,
		BaselineYears: baselineYears,
	}

	built, err := r.SingleFlight.Do(key.Canonical(), func() (summary.MonthlySummary, error) {
		return r.refresh(ctx, reg, in.Month, baselineYears, effectiveIncludeMarine, key)
	})
	if err != nil {
		if hasSnapshot && in.AllowStaleSnapshot {
			return Result{
				Summary: entry.Summary.WithMarinePreference(effectiveIncludeMarine),
				Source:  SourceSnapshotStale,
			}, nil
		}
		if hasManual {
			return Result{
				Summary: manualSummary.WithMarinePreference(effectiveIncludeMarine),
				Source:  SourceSnapshotStale,
			}, nil
		}
		return Result{}, err
	}

	return Result{Summary: built.WithMarinePreference(effectiveIncludeMarine), Source: SourceRefreshed}, nil
}

func (r *Resolver) refresh(ctx context.Context, reg region.Region, month int, baselineYears []int, includeMarine bool, key summarycache.Key) (summary.MonthlySummary, error) {
	if sm, ok := r.SummaryCache.Get(ctx, key); ok {
		return sm, nil
	}
	zl := logger.FromContext(logger.WithOperation(ctx, "refresh"), r.Logger)

	now := r.now()
	sm, err := r.Builder.Build(ctx, reg, month, baselineYears, includeMarine, now)
	if err != nil {
		if r.Logger != nil {
			zl.Warn().Err(err).Msg("summary refresh failed")
		}
		return summary.MonthlySummary{}, err
	}

	if err := r.SummaryCache.Put(ctx, key, sm, now); err != nil && r.Logger != nil {
		zl.Warn().Err(err).Msg("summary cache write failed")
	}

	years := append([]int(nil), baselineYears...)
	sort.Ints(years)
	entry := snapshot.MonthEntry{
		Month:          month,
		IncludesMarine: sm.HasMarine(),
		BaselineYears:  years,
		FetchedAt:      now,
		Source:         "open-meteo",
		Summary:        sm,
	}
	if err := r.Snapshot.Upsert(reg.ID, entry); err != nil && r.Logger != nil {
		zl.Warn().Err(err).Msg("snapshot write failed")
	}

	if r.Events != nil {
		r.Events.Publish(events.RefreshEvent{
			RegionID:       reg.ID,
			Month:          month,
			IncludesMarine: entry.IncludesMarine,
			Source:         SourceRefreshed,
			FetchedAt:      now,
		})
	}

	return sm, nil
}
