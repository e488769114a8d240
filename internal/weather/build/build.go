// Package build orchestrates the range loaders and the aggregator into a
// single summary for one (region, month) pair, applying the baseline-year
// fallback and rate-limit short-circuit rules.
package build

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/weatherlake/summary-core/internal/region"
	"github.com/weatherlake/summary-core/internal/summary"
	"github.com/weatherlake/summary-core/internal/upstream/fetch"
	"github.com/weatherlake/summary-core/internal/weather/aggregate"
	"github.com/weatherlake/summary-core/internal/weather/air"
	"github.com/weatherlake/summary-core/internal/weather/climate"
	"github.com/weatherlake/summary-core/internal/weather/marine"
)

// Builder produces MonthlySummary values from the three range loaders.
type Builder struct {
	Climate *climate.Loader
	Air     *air.Loader
	Marine  *marine.Loader
	Logger  *zerolog.Logger
}

// Build resolves the summary for region/month across baselineYears
// (ascending order expected), including marine data only when
// includeMarine is true. now stamps the three provenance timestamps.
func (b *Builder) Build(ctx context.Context, r region.Region, month int, baselineYears []int, includeMarine bool, now time.Time) (summary.MonthlySummary, error) {
	years := make([]aggregate.YearData, 0, len(baselineYears))
	var firstClimateErr error
	rateLimited := false

	for _, year := range baselineYears {
		days, err := b.Climate.FetchMonth(ctx, r, year, month)
		if err != nil {
			if firstClimateErr == nil {
				firstClimateErr = err
			}
			if fetch.IsRateLimited(err) {
				rateLimited = true
				break // a rate limit stops the baseline loop outright
			}
			continue // climate failure for this year alone does not abort the others
		}
		yd := aggregate.YearData{Year: year, ClimateDays: days}

		if byDay, err := b.Air.FetchMonth(ctx, r, year, month); err != nil {
			b.logTolerated("air quality", r.ID, year, month, err)
		} else {
			yd.AirByDay = byDay
		}

		if includeMarine && r.IsCoastal {
			if hours, err := b.Marine.FetchMonth(ctx, r, year, month); err != nil {
				b.logTolerated("marine", r.ID, year, month, err)
			} else {
				yd.MarineHours = hours
			}
		}

		years = append(years, yd)
	}

	if len(years) == 0 && len(baselineYears) > 0 {
		retryYears, retryErr := b.retryMostRecentYear(ctx, r, month, baselineYears, includeMarine, rateLimited)
		if retryErr != nil {
			firstClimateErr = retryErr
		}
		years = retryYears
	}

	if len(years) == 0 {
		if firstClimateErr != nil {
			return summary.MonthlySummary{}, firstClimateErr
		}
		return summary.MonthlySummary{}, fmt.Errorf("no climate data available for %s month %d", r.ID, month)
	}

	s := aggregate.Build(years)
	s.ClimateLastUpdated = now
	s.AirQualityLastUpdated = now
	s.MarineLastUpdated = now
	return s, nil
}

// retryMostRecentYear makes one more attempt at the single most recent
// baseline year's climate after a brief pause (2.2s nominal, 2.6s if a
// rate-limit was observed in the main baseline loop), tolerating air/
// marine failures as usual on this last-chance attempt.
func (b *Builder) retryMostRecentYear(ctx context.Context, r region.Region, month int, baselineYears []int, includeMarine, rateLimited bool) ([]aggregate.YearData, error) {
	year := baselineYears[len(baselineYears)-1]
	pause := 2200 * time.Millisecond
	if rateLimited {
		pause = 2600 * time.Millisecond
	}
	if !sleepCtx(ctx, pause) {
		return nil, ctx.Err()
	}

	days, err := b.Climate.FetchMonth(ctx, r, year, month)
	if err != nil {
		return nil, err
	}
	yd := aggregate.YearData{Year: year, ClimateDays: days}

	if byDay, err := b.Air.FetchMonth(ctx, r, year, month); err == nil {
		yd.AirByDay = byDay
	}
	if includeMarine && r.IsCoastal {
		if hours, err := b.Marine.FetchMonth(ctx, r, year, month); err == nil {
			yd.MarineHours = hours
		}
	}
	return []aggregate.YearData{yd}, nil
}

func (b *Builder) logTolerated(source, regionID string, year, month int, err error) {
	if b.Logger == nil {
		return
	}
	b.Logger.Warn().
		Str("source", source).
		Str("region", regionID).
		Int("year", year).
		Int("month", month).
		Err(err).
		Msg("range loader failed, continuing without it")
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
