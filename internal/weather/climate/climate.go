// Package climate loads monthly daily-climate series from the configured
// Open-Meteo-style base URLs, trying an ordered ladder of field-name
// variants on HTTP 400 before giving up on a given base URL.
package climate

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/weatherlake/summary-core/internal/region"
	"github.com/weatherlake/summary-core/internal/upstream/fetch"
	"github.com/weatherlake/summary-core/internal/weather/series"
	"github.com/weatherlake/summary-core/internal/weather/yearcache"
)

// Day is one day's worth of daily-mean climate series values. Fields are
// nil when the upstream did not report them.
type Day struct {
	TemperatureMean  *float64
	PrecipitationSum *float64
	HumidityMean     *float64
	WindMean         *float64
}

// Loader fetches and caches monthly climate series per region.
type Loader struct {
	Fetcher  *fetch.Fetcher
	BaseURLs []string
	cache    *yearcache.Cache[Day]
}

// New builds a climate Loader bounded to yearCacheMaxEntries distinct years.
func New(f *fetch.Fetcher, baseURLs []string, yearCacheMaxEntries int) *Loader {
	return &Loader{
		Fetcher:  f,
		BaseURLs: baseURLs,
		cache:    yearcache.New[Day](yearCacheMaxEntries),
	}
}

type fieldSet struct {
	name   string
	fields []string
}

// fieldLadder is the finite, ordered sequence of field-name variants
// attempted on HTTP 400.
var fieldLadder = []fieldSet{
	{
		name:   "primary",
		fields: []string{"temperature_2m_mean", "precipitation_sum", "relative_humidity_2m_mean", "wind_speed_10m_mean"},
	},
	{
		name:   "legacy-underscore-free",
		fields: []string{"temperature_2m_mean", "precipitation_sum", "relativehumidity_2m_mean", "windspeed_10m_mean"},
	},
	{
		name:   "minimal",
		fields: []string{"temperature", "precipitation"},
	},
}

var humidityAliases = []string{"relative_humidity_2m_mean", "relativehumidity_2m_mean"}
var windAliases = []string{"wind_speed_10m_mean", "windspeed_10m_mean"}
var temperatureAliases = []string{"temperature_2m_mean", "temperature"}
var precipitationAliases = []string{"precipitation_sum", "precipitation"}

func monthDateRange(year, month int) (start, end string) {
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return first.Format("2006-01-02"), last.Format("2006-01-02")
}

func monthKeyPrefix(year, month int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}

// FetchMonth returns the climate days for region/year/month, serving from
// the bounded year cache when every day in the month is already known and
// issuing a targeted month-range request otherwise.
func (l *Loader) FetchMonth(ctx context.Context, r region.Region, year, month int) ([]Day, error) {
	prefix := monthKeyPrefix(year, month)
	start, end := monthDateRange(year, month)
	expectedDays := daysIn(start, end)

	if cached := l.cache.Days(r.ID, year); cached != nil {
		if days, ok := sliceMonth(cached, prefix, expectedDays); ok {
			return days, nil
		}
	}

	fetched, err := l.fetchRange(ctx, r, start, end, fmt.Sprintf("Climate API (%s)", prefix))
	if err != nil {
		return nil, err
	}
	l.cache.Merge(r.ID, year, fetched)

	merged := l.cache.Days(r.ID, year)
	days, _ := sliceMonth(merged, prefix, expectedDays)
	return days, nil
}

func daysIn(start, end string) int {
	s, _ := time.Parse("2006-01-02", start)
	e, _ := time.Parse("2006-01-02", end)
	return int(e.Sub(s).Hours()/24) + 1
}

func sliceMonth(byDate map[string]Day, prefix string, expected int) ([]Day, bool) {
	out := make([]Day, 0, expected)
	for k, v := range byDate {
		if len(k) >= 7 && k[:7] == prefix {
			out = append(out, v)
		}
	}
	return out, len(out) >= expected && expected > 0
}

func (l *Loader) fetchRange(ctx context.Context, r region.Region, start, end, label string) (map[string]Day, error) {
	var lastErr error
	for _, base := range l.BaseURLs {
		for _, fs := range fieldLadder {
			var raw series.RawDaily
			u := buildURL(base, r, start, end, fs.fields)
			err := l.Fetcher.FetchJSON(ctx, u, label, &dailyEnvelope{Daily: &raw})
			if err == nil {
				return toDays(raw), nil
			}
			lastErr = err
			var statusErr *fetch.StatusError
			if errors.As(err, &statusErr) && statusErr.StatusCode == 400 {
				continue // try the next field-name variant against this base URL
			}
			break // any non-400 failure skips to the next base URL
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%s: no base URL configured", label)
	}
	return nil, lastErr
}

type dailyEnvelope struct {
	Daily *series.RawDaily `json:"daily"`
}

func buildURL(base string, r region.Region, start, end string, fields []string) string {
	v := url.Values{}
	v.Set("latitude", strconv.FormatFloat(r.Latitude, 'f', -1, 64))
	v.Set("longitude", strconv.FormatFloat(r.Longitude, 'f', -1, 64))
	v.Set("start_date", start)
	v.Set("end_date", end)
	v.Set("timezone", "UTC")
	joined := ""
	for i, f := range fields {
		if i > 0 {
			joined += ","
		}
		joined += f
	}
	v.Set("daily", joined)
	return base + "?" + v.Encode()
}

func toDays(raw series.RawDaily) map[string]Day {
	temp := raw.Pick(temperatureAliases...)
	precip := raw.Pick(precipitationAliases...)
	humidity := raw.Pick(humidityAliases...)
	wind := raw.Pick(windAliases...)

	out := make(map[string]Day, len(raw.Time))
	for i, date := range raw.Time {
		d := Day{}
		if i < len(temp) {
			d.TemperatureMean = temp[i]
		}
		if i < len(precip) {
			d.PrecipitationSum = precip[i]
		}
		if i < len(humidity) {
			d.HumidityMean = humidity[i]
		}
		if i < len(wind) {
			d.WindMean = wind[i]
		}
		out[date] = d
	}
	return out
}
