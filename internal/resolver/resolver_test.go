package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/weatherlake/summary-core/internal/region"
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

var fixedNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func baselineYears(time.Time) []int { return []int{2024, 2025} }

func f64(v float64) *float64 { return &v }

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResp(status int, body string, headers map[string]string) *http.Response {
	resp := &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body)), Header: make(http.Header)}
	for k, v := range headers {
		resp.Header.Set(k, v)
	}
	return resp
}

// climateBody produces a complete daily payload spanning exactly the
// start_date..end_date range the request asked for.
func climateBody(r *http.Request) string {
	q := r.URL.Query()
	start, _ := time.Parse("2006-01-02", q.Get("start_date"))
	end, _ := time.Parse("2006-01-02", q.Get("end_date"))
	var times, temps, precs, hums, winds []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		times = append(times, fmt.Sprintf("%q", d.Format("2006-01-02")))
		temps = append(temps, "27.5")
		precs = append(precs, "2.0")
		hums = append(hums, "75.0")
		winds = append(winds, "12.0")
	}
	return fmt.Sprintf(`{"daily":{"time":[%s],"temperature_2m_mean":[%s],"precipitation_sum":[%s],"relative_humidity_2m_mean":[%s],"wind_speed_10m_mean":[%s]}}`,
		strings.Join(times, ","), strings.Join(temps, ","), strings.Join(precs, ","),
		strings.Join(hums, ","), strings.Join(winds, ","))
}

func emptyHourly() string { return `{"hourly":{"time":[]}}` }

type harness struct {
	res   *Resolver
	sched *scheduler.Scheduler
	snap  *snapshot.Store
}

func catalogFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "regions.json")
	body := `[
		{"id": "vn-da-nang", "latitude": 16.05, "longitude": 108.2, "isCoastal": true},
		{"id": "at-innsbruck", "latitude": 47.27, "longitude": 11.39, "isCoastal": false},
		{"id": "r1", "latitude": 1.0, "longitude": 2.0, "isCoastal": false},
		{"id": "r2", "latitude": 3.0, "longitude": 4.0, "isCoastal": false}
	]`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	return path
}

func newHarness(t *testing.T, rt roundTripFunc, manualDir string) *harness {
	t.Helper()

	catalog, err := region.Load(catalogFile(t))
	if err != nil {
		t.Fatalf("region.Load: %v", err)
	}

	sched := scheduler.New(0)
	fetcher := &fetch.Fetcher{
		Client:     &http.Client{Transport: rt},
		Scheduler:  sched,
		Attempts:   1,
		PerAttempt: 2 * time.Second,
		BaseDelay:  time.Millisecond,
		MinBackoff: time.Millisecond,
	}
	builder := &build.Builder{
		Climate: climate.New(fetcher, []string{"https://climate.example/v1/archive"}, 6),
		Air:     air.New(fetcher, "https://air.example/v1/air-quality", 6),
		Marine:  marine.New(fetcher, "https://marine.example/v1/marine", 6),
	}

	cache, err := summarycache.New(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("summarycache.New: %v", err)
	}
	snap, err := snapshot.New(t.TempDir(), snapshot.MaxAge{
		Climate: 365 * 24 * time.Hour,
		Air:     90 * 24 * time.Hour,
		Marine:  365 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("snapshot.New: %v", err)
	}
	if manualDir == "" {
		manualDir = filepath.Join(t.TempDir(), "no-manual")
	}

	res := &Resolver{
		Catalog:       catalog,
		Snapshot:      snap,
		SummaryCache:  cache,
		Manual:        manual.New(manualDir),
		Builder:       builder,
		SingleFlight:  singleflight.New[summary.MonthlySummary](),
		BaselineYears: baselineYears,
		Now:           func() time.Time { return fixedNow },
	}
	return &harness{res: res, sched: sched, snap: snap}
}

func seedSnapshot(t *testing.T, h *harness, regionID string, month int, fetchedAt time.Time, withMarine bool) {
	t.Helper()
	sm := summary.MonthlySummary{
		TemperatureC:          f64(26.8),
		RainfallMm:            f64(90.5),
		HumidityPct:           f64(70),
		ClimateLastUpdated:    fetchedAt,
		AirQualityLastUpdated: fetchedAt,
	}
	if withMarine {
		sm.WaveHeightM = f64(1.1)
		sm.WavePeriodS = f64(7.4)
		sm.WaveDirectionDeg = f64(120)
		sm.MarineLastUpdated = fetchedAt
	}
	err := h.snap.Upsert(regionID, snapshot.MonthEntry{
		Month:          month,
		IncludesMarine: withMarine,
		BaselineYears:  baselineYears(fixedNow),
		FetchedAt:      fetchedAt,
		Source:         "open-meteo",
		Summary:        sm,
	})
	if err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}
}

func noUpstream(t *testing.T) (roundTripFunc, *atomic.Int32) {
	var calls atomic.Int32
	return func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResp(500, "", nil), nil
	}, &calls
}

func happyUpstream() (roundTripFunc, *atomic.Int32) {
	var climateCalls atomic.Int32
	return func(r *http.Request) (*http.Response, error) {
		switch {
		case strings.Contains(r.URL.Host, "air"), strings.Contains(r.URL.Host, "marine"):
			return jsonResp(200, emptyHourly(), nil), nil
		default:
			climateCalls.Add(1)
			return jsonResp(200, climateBody(r), nil), nil
		}
	}, &climateCalls
}

func TestValidation(t *testing.T) {
	rt, _ := noUpstream(t)
	h := newHarness(t, rt, "")

	for _, month := range []int{0, 13} {
		_, err := h.res.ResolveWeatherSummaryForRegionMonth(context.Background(), Input{
			RegionID: "vn-da-nang", Month: month, Mode: ModeVerifiedOnly, AllowStaleSnapshot: true,
		})
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("month=%d: want ValidationError, got %v", month, err)
		}
	}

	_, err := h.res.ResolveWeatherSummaryForRegionMonth(context.Background(), Input{
		RegionID: "nowhere", Month: 7, Mode: ModeVerifiedOnly, AllowStaleSnapshot: true,
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("unknown region: want ValidationError, got %v", err)
	}
}

func TestFreshSnapshotHit(t *testing.T) {
	rt, calls := noUpstream(t)
	h := newHarness(t, rt, "")
	seedSnapshot(t, h, "vn-da-nang", 7, fixedNow.Add(-10*24*time.Hour), true)

	res, err := h.res.ResolveWeatherSummaryForRegionMonth(context.Background(), Input{
		RegionID: "vn-da-nang", Month: 7, IncludeMarine: true,
		Mode: ModeVerifiedOnly, AllowStaleSnapshot: true,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Source != SourceSnapshotFresh {
		t.Fatalf("Source=%s want %s", res.Source, SourceSnapshotFresh)
	}
	if res.Summary.WaveHeightM == nil || *res.Summary.WaveHeightM != 1.1 {
		t.Fatalf("WaveHeightM=%v want 1.1", res.Summary.WaveHeightM)
	}
	if calls.Load() != 0 {
		t.Fatalf("a fresh snapshot hit must issue no upstream calls, saw %d", calls.Load())
	}
}

func TestStaleSnapshotRefreshThenFreshRead(t *testing.T) {
	rt, climateCalls := happyUpstream()
	h := newHarness(t, rt, "")
	seedSnapshot(t, h, "vn-da-nang", 7, fixedNow.Add(-400*24*time.Hour), false)

	res, err := h.res.ResolveWeatherSummaryForRegionMonth(context.Background(), Input{
		RegionID: "vn-da-nang", Month: 7,
		Mode: ModeRefreshIfStale, AllowStaleSnapshot: true,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Source != SourceRefreshed {
		t.Fatalf("Source=%s want %s", res.Source, SourceRefreshed)
	}
	if res.Summary.TemperatureC == nil || *res.Summary.TemperatureC != 27.5 {
		t.Fatalf("TemperatureC=%v want 27.5", res.Summary.TemperatureC)
	}
	if climateCalls.Load() == 0 {
		t.Fatal("a stale snapshot with refresh_if_stale must fetch upstream")
	}

	res2, err := h.res.ResolveWeatherSummaryForRegionMonth(context.Background(), Input{
		RegionID: "vn-da-nang", Month: 7,
		Mode: ModeVerifiedOnly, AllowStaleSnapshot: true,
	})
	if err != nil {
		t.Fatalf("resolve after refresh: %v", err)
	}
	if res2.Source != SourceSnapshotFresh {
		t.Fatalf("Source=%s want %s after refresh", res2.Source, SourceSnapshotFresh)
	}
	if *res2.Summary.TemperatureC != *res.Summary.TemperatureC {
		t.Fatal("verified read after refresh must return the refreshed summary")
	}
}

func TestRateLimitFallsBackToStaleAndExtendsCooldown(t *testing.T) {
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return jsonResp(429, "", map[string]string{"Retry-After": "60"}), nil
	})
	h := newHarness(t, rt, "")
	seedSnapshot(t, h, "vn-da-nang", 7, fixedNow.Add(-400*24*time.Hour), false)

	// a short deadline cuts the builder's last-chance retry pause off so
	// the test does not sit out the full retry sequence
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	res, err := h.res.ResolveWeatherSummaryForRegionMonth(ctx, Input{
		RegionID: "vn-da-nang", Month: 7,
		Mode: ModeRefreshIfStale, AllowStaleSnapshot: true,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Source != SourceSnapshotStale {
		t.Fatalf("Source=%s want %s", res.Source, SourceSnapshotStale)
	}
	if res.Summary.TemperatureC == nil || *res.Summary.TemperatureC != 26.8 {
		t.Fatal("the stale snapshot's summary must be returned")
	}
	if h.sched.CooldownRemaining() < 55*time.Second {
		t.Fatalf("429 with Retry-After: 60 must extend the cooldown, remaining=%v", h.sched.CooldownRemaining())
	}
}

func TestVerifiedOnlyWithoutFallbackFails(t *testing.T) {
	rt, calls := noUpstream(t)
	h := newHarness(t, rt, "")

	_, err := h.res.ResolveWeatherSummaryForRegionMonth(context.Background(), Input{
		RegionID: "r1", Month: 3, Mode: ModeVerifiedOnly, AllowStaleSnapshot: true,
	})
	if err == nil {
		t.Fatal("verified_only with nothing stored must fail")
	}
	if !strings.Contains(err.Error(), "refresh") {
		t.Fatalf("failure must instruct the operator to run refresh, got %q", err)
	}
	if calls.Load() != 0 {
		t.Fatal("verified_only must never call upstream")
	}
}

func TestSingleFlightCoalescesConcurrentRefreshes(t *testing.T) {
	rt, climateCalls := happyUpstream()
	h := newHarness(t, rt, "")

	const callers = 20
	var wg sync.WaitGroup
	results := make([]Result, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.res.ResolveWeatherSummaryForRegionMonth(context.Background(), Input{
				RegionID: "r1", Month: 3,
				Mode: ModeForceRefresh, AllowStaleSnapshot: true,
			})
		}(i)
	}
	wg.Wait()

	for i := range errs {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
	}
	// one build = one climate fetch per baseline year; every extra caller
	// either joined the in-flight build or hit the summary cache
	if n := climateCalls.Load(); n != int32(len(baselineYears(fixedNow))) {
		t.Fatalf("climate fetches=%d want %d (single-flight violated)", n, len(baselineYears(fixedNow)))
	}
	for i := 1; i < callers; i++ {
		if *results[i].Summary.TemperatureC != *results[0].Summary.TemperatureC {
			t.Fatal("all coalesced callers must receive identical summaries")
		}
	}
}

func TestInlandRegionMarineSuppression(t *testing.T) {
	rt, _ := noUpstream(t)
	h := newHarness(t, rt, "")
	// stored snapshot carries wave fields even though the region is inland
	seedSnapshot(t, h, "at-innsbruck", 7, fixedNow.Add(-10*24*time.Hour), true)

	res, err := h.res.ResolveWeatherSummaryForRegionMonth(context.Background(), Input{
		RegionID: "at-innsbruck", Month: 7, IncludeMarine: true,
		Mode: ModeVerifiedOnly, AllowStaleSnapshot: true,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Summary.WaveHeightM != nil || res.Summary.WavePeriodS != nil || res.Summary.WaveDirectionDeg != nil {
		t.Fatal("wave fields must be nulled for an inland region regardless of stored data")
	}
}

func TestManualOverrideFallback(t *testing.T) {
	manualDir := t.TempDir()
	body := `{"regionId":"r2","months":[{"month":11,"temperatureC":4.2,"rainfallMm":33.0}]}`
	if err := os.WriteFile(filepath.Join(manualDir, "r2.json"), []byte(body), 0o644); err != nil {
		t.Fatalf("write manual file: %v", err)
	}
	rt, calls := noUpstream(t)
	h := newHarness(t, rt, manualDir)

	res, err := h.res.ResolveWeatherSummaryForRegionMonth(context.Background(), Input{
		RegionID: "r2", Month: 11, Mode: ModeVerifiedOnly, AllowStaleSnapshot: true,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Source != SourceSnapshotFresh {
		t.Fatalf("Source=%s want %s", res.Source, SourceSnapshotFresh)
	}
	if res.Summary.TemperatureC == nil || *res.Summary.TemperatureC != 4.2 {
		t.Fatalf("TemperatureC=%v want the curated 4.2", res.Summary.TemperatureC)
	}
	if calls.Load() != 0 {
		t.Fatal("serving a manual override must issue no upstream calls")
	}
}

func TestForceRefreshIgnoresFreshSnapshot(t *testing.T) {
	rt, climateCalls := happyUpstream()
	h := newHarness(t, rt, "")
	seedSnapshot(t, h, "r1", 3, fixedNow.Add(-24*time.Hour), false)

	res, err := h.res.ResolveWeatherSummaryForRegionMonth(context.Background(), Input{
		RegionID: "r1", Month: 3, Mode: ModeForceRefresh, AllowStaleSnapshot: true,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Source != SourceRefreshed {
		t.Fatalf("Source=%s want %s", res.Source, SourceRefreshed)
	}
	if climateCalls.Load() == 0 {
		t.Fatal("force_refresh must rebuild even with a fresh snapshot")
	}
}

func TestListWeatherRegionIdsSorted(t *testing.T) {
	rt, _ := noUpstream(t)
	h := newHarness(t, rt, "")
	ids := h.res.ListWeatherRegionIds()
	want := []string{"at-innsbruck", "r1", "r2", "vn-da-nang"}
	if len(ids) != len(want) {
		t.Fatalf("ids=%v want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids=%v want %v", ids, want)
		}
	}
}
