// Package air loads hourly air-quality series (PM2.5, AQI, UV index) from
// a single configured base URL.
package air

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

// Hour is one hour's worth of air-quality series values.
type Hour struct {
	PM25    *float64
	AQI     *float64
	UVIndex *float64
}

// Loader fetches and caches hourly air-quality series per region.
type Loader struct {
	Fetcher *fetch.Fetcher
	BaseURL string
	cache   *yearcache.Cache[Hour]
}

// New builds an air Loader bounded to yearCacheMaxEntries distinct years.
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

// FetchMonth returns the hourly air-quality records for region/year/month,
// keyed by calendar date ("2006-01-02") with that day's hourly records, so
// the aggregator can compute the per-day maximum UV index. The order of the
// records within a day is not defined.
func (l *Loader) FetchMonth(ctx context.Context, r region.Region, year, month int) (map[string][]Hour, error) {
	prefix := fmt.Sprintf("%04d-%02d", year, month)

	start, end := monthDateRange(year, month)
	expectedDays := daysIn(start, end)

	if cached := l.cache.Days(r.ID, year); cached != nil {
		if byDay, ok := groupMonth(cached, prefix, expectedDays); ok {
			return byDay, nil
		}
	}

	if l.BaseURL == "" {
		return nil, fmt.Errorf("air quality API (%s): no base URL configured", prefix)
	}

	var raw series.RawDaily
	u := buildURL(l.BaseURL, r, start, end)
	if err := l.Fetcher.FetchJSON(ctx, u, fmt.Sprintf("Air Quality API (%s)", prefix), &hourlyEnvelope{Hourly: &raw}); err != nil {
		return nil, err
	}

	fetched := toHours(raw)
	l.cache.Merge(r.ID, year, fetched)

	merged := l.cache.Days(r.ID, year)
	byDay, _ := groupMonth(merged, prefix, expectedDays)
	return byDay, nil
}

func daysIn(start, end string) int {
	s, _ := time.Parse("2006-01-02", start)
	e, _ := time.Parse("2006-01-02", end)
	return int(e.Sub(s).Hours()/24) + 1
}

type hourlyEnvelope struct {
	Hourly *series.RawDaily `json:"hourly"`
}

var pm25Aliases = []string{"pm2_5"}
var aqiAliases = []string{"us_aqi"}
var uvAliases = []string{"uv_index"}

func buildURL(base string, r region.Region, start, end string) string {
	v := url.Values{}
	v.Set("latitude", strconv.FormatFloat(r.Latitude, 'f', -1, 64))
	v.Set("longitude", strconv.FormatFloat(r.Longitude, 'f', -1, 64))
	v.Set("start_date", start)
	v.Set("end_date", end)
	v.Set("timezone", "UTC")
	v.Set("hourly", "pm2_5,us_aqi,uv_index")
	return base + "?" + v.Encode()
}

func toHours(raw series.RawDaily) map[string]Hour {
	pm25 := raw.Pick(pm25Aliases...)
	aqi := raw.Pick(aqiAliases...)
	uv := raw.Pick(uvAliases...)

	out := make(map[string]Hour, len(raw.Time))
	for i, ts := range raw.Time {
		h := Hour{}
		if i < len(pm25) {
			h.PM25 = pm25[i]
		}
		if i < len(aqi) {
			h.AQI = aqi[i]
		}
		if i < len(uv) {
			h.UVIndex = uv[i]
		}
		out[ts] = h
	}
	return out
}

// groupMonth buckets the cached hourly records for the given month into
// per-day slices, keyed by date ("2006-01-02"). ok reports whether every
// expected day of the month has at least one hourly record present.
func groupMonth(byHour map[string]Hour, prefix string, expectedDays int) (map[string][]Hour, bool) {
	byDay := make(map[string][]Hour)
	for ts, h := range byHour {
		if len(ts) < 7 || ts[:7] != prefix {
			continue
		}
		date := ts
		if len(ts) >= 10 {
			date = ts[:10]
		}
		byDay[date] = append(byDay[date], h)
	}
	return byDay, expectedDays > 0 && len(byDay) >= expectedDays
}
