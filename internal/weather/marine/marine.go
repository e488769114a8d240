// Package marine loads hourly wave series from a single configured base
// URL. Callers only invoke it for coastal regions with marine data
// requested; suppression of marine fields for inland regions happens one
// layer up, in the summary builder.
package marine

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/weatherlake/summary-core/internal/region"
	"github.com/weatherlake/summary-core/internal/upstream/fetch"
	"github.com/weatherlake/summary-core/internal/weather/series"
	"github.com/weatherlake/summary-core/internal/weather/yearcache"
)

// Hour is one hour's worth of wave series values.
type Hour struct {
	WaveHeight    *float64
	WaveDirection *float64
	WavePeriod    *float64
}

// Loader fetches and caches hourly wave series per region.
type Loader struct {
	Fetcher *fetch.Fetcher
	BaseURL string
	cache   *yearcache.Cache[Hour]
}

// New builds a marine Loader bounded to yearCacheMaxEntries distinct years.
func New(f *fetch.Fetcher, baseURL string, yearCacheMaxEntries int) *Loader {
	return &Loader{
		Fetcher: f,
		BaseURL: baseURL,
		cache:   yearcache.New[Hour](yearCacheMaxEntries),
	}
}

func monthDateRange(year, month int) (start, end string) {
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return first.Format("2006-01-02"), last.Format("2006-01-02")
}

func daysIn(start, end string) int {
	s, _ := time.Parse("2006-01-02", start)
	e, _ := time.Parse("2006-01-02", end)
	return int(e.Sub(s).Hours()/24) + 1
}

// FetchMonth returns every hourly wave record for region/year/month.
func (l *Loader) FetchMonth(ctx context.Context, r region.Region, year, month int) ([]Hour, error) {
	prefix := fmt.Sprintf("%04d-%02d", year, month)
	start, end := monthDateRange(year, month)
	expectedDays := daysIn(start, end)

	if cached := l.cache.Days(r.ID, year); cached != nil {
		if hours, ok := sliceMonth(cached, prefix, expectedDays); ok {
			return hours, nil
		}
	}

	if l.BaseURL == "" {
		return nil, fmt.Errorf("marine API (%s): no base URL configured", prefix)
	}

	var raw series.RawDaily
	u := buildURL(l.BaseURL, r, start, end)
	if err := l.Fetcher.FetchJSON(ctx, u, fmt.Sprintf("Marine API (%s)", prefix), &hourlyEnvelope{Hourly: &raw}); err != nil {
		return nil, err
	}

	fetched := toHours(raw)
	l.cache.Merge(r.ID, year, fetched)

	merged := l.cache.Days(r.ID, year)
	hours, _ := sliceMonth(merged, prefix, expectedDays)
	return hours, nil
}

type hourlyEnvelope struct {
	Hourly *series.RawDaily `json:"hourly"`
}

var heightAliases = []string{"wave_height"}
var directionAliases = []string{"wave_direction"}
var periodAliases = []string{"wave_period"}

func buildURL(base string, r region.Region, start, end string) string {
	v := url.Values{}
	v.Set("latitude", strconv.FormatFloat(r.Latitude, 'f', -1, 64))
	v.Set("longitude", strconv.FormatFloat(r.Longitude, 'f', -1, 64))
	v.Set("start_date", start)
	v.Set("end_date", end)
	v.Set("timezone", "UTC")
	v.Set("hourly", "wave_height,wave_direction,wave_period")
	return base + "?" + v.Encode()
}

func toHours(raw series.RawDaily) map[string]Hour {
	height := raw.Pick(heightAliases...)
	direction := raw.Pick(directionAliases...)
	period := raw.Pick(periodAliases...)

	out := make(map[string]Hour, len(raw.Time))
	for i, ts := range raw.Time {
		h := Hour{}
		if i < len(height) {
			h.WaveHeight = height[i]
		}
		if i < len(direction) {
			h.WaveDirection = direction[i]
		}
		if i < len(period) {
			h.WavePeriod = period[i]
		}
		out[ts] = h
	}
	return out
}

func sliceMonth(byHour map[string]Hour, prefix string, expectedDays int) ([]Hour, bool) {
	days := make(map[string]struct{})
	out := make([]Hour, 0, expectedDays*24)
	for ts, h := range byHour {
		if len(ts) < 7 || ts[:7] != prefix {
			continue
		}
		out = append(out, h)
		if len(ts) >= 10 {
			days[ts[:10]] = struct{}{}
		}
	}
	return out, expectedDays > 0 && len(days) >= expectedDays
}
