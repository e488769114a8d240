// Package config loads the engine's environment-driven configuration.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable the engine reads from the environment, each
// with its default applied by FromEnv.
type Config struct {
	TimeoutMs            int
	Attempts              int
	RetryBaseDelayMs      int
	RateLimitMinBackoffMs int
	UpstreamSpacingMs     int
	YearCacheMaxEntries   int
	BaselineYears         int
	SnapshotClimateMaxAgeDays int
	SnapshotAirMaxAgeDays     int
	SnapshotMarineMaxAgeDays  int
	AutoUpdateEnabled     bool
	AutoIntervalMinutes   int
	AutoBatchSize         int
	ManualDataDir         string

	RegionCatalogPath string
	CacheDir          string
	SnapshotDir       string

	LogLevel        string
	MetricsEnabled  bool
	OpsAddr         string
	RedisAddr       string
	KafkaBrokers    string

	ClimateBaseURLs []string
	AirBaseURL      string
	MarineBaseURL   string
}

// FromEnv reads every WEATHER_* environment variable, falling back to the
// documented default for anything unset or unparsable.
func FromEnv() Config {
	return Config{
		TimeoutMs:             getint("WEATHER_SUMMARY_TIMEOUT_MS", 12000),
		Attempts:               getint("WEATHER_SUMMARY_ATTEMPTS", 3),
		RetryBaseDelayMs:       getint("WEATHER_SUMMARY_RETRY_BASE_DELAY_MS", 900),
		RateLimitMinBackoffMs:  getint("WEATHER_RATE_LIMIT_MIN_BACKOFF_MS", 45000),
		UpstreamSpacingMs:      getint("WEATHER_UPSTREAM_REQUEST_SPACING_MS", 350),
		YearCacheMaxEntries:    getint("WEATHER_YEAR_CACHE_MAX_ENTRIES", 6),
		BaselineYears:          getint("WEATHER_BASELINE_YEARS", 3),
		SnapshotClimateMaxAgeDays: getint("WEATHER_SNAPSHOT_CLIMATE_MAX_AGE_DAYS", 365),
		SnapshotAirMaxAgeDays:     getint("WEATHER_SNAPSHOT_AIR_MAX_AGE_DAYS", 90),
		SnapshotMarineMaxAgeDays:  getint("WEATHER_SNAPSHOT_MARINE_MAX_AGE_DAYS", 365),
		AutoUpdateEnabled:      getbool("WEATHER_SNAPSHOT_AUTO_UPDATE_ENABLED", true),
		AutoIntervalMinutes:    getint("WEATHER_SNAPSHOT_AUTO_INTERVAL_MINUTES", 360),
		AutoBatchSize:          getint("WEATHER_SNAPSHOT_AUTO_BATCH_SIZE", 24),
		ManualDataDir:          getenv("WEATHER_MANUAL_DATA_DIR", "data/manual-city-month"),

		RegionCatalogPath: getenv("WEATHER_REGION_CATALOG_PATH", "data/regions.json"),
		CacheDir:          getenv("WEATHER_CACHE_DIR", ".cache/weather-summary"),
		SnapshotDir:       getenv("WEATHER_SNAPSHOT_DIR", ".cache/weather-snapshot"),

		LogLevel:       getenv("WEATHER_LOG_LEVEL", "info"),
		MetricsEnabled: getbool("WEATHER_METRICS_ENABLED", true),
		OpsAddr:        getenv("WEATHER_OPS_ADDR", ":8099"),
		RedisAddr:      getenv("WEATHER_REDIS_ADDR", ""),
		KafkaBrokers:   getenv("WEATHER_KAFKA_BROKERS", ""),

		ClimateBaseURLs: getlist("WEATHER_CLIMATE_BASE_URLS", []string{
			"https://historical-forecast-api.open-meteo.com/v1/forecast",
			"https://archive-api.open-meteo.com/v1/archive",
		}),
		AirBaseURL:    getenv("WEATHER_AIR_BASE_URL", "https://air-quality-api.open-meteo.com/v1/air-quality"),
		MarineBaseURL: getenv("WEATHER_MARINE_BASE_URL", "https://marine-api.open-meteo.com/v1/marine"),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getlist(k string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// BaselineYearWindow returns the ascending list of baseline years for the
// given current year: [max(2022, currentYear-1-k+1) .. currentYear-1].
func (c Config) BaselineYearWindow(currentYear int) []int {
	k := c.BaselineYears
	if k <= 0 {
		k = 1
	}
	end := currentYear - 1
	start := end - k + 1
	if start < 2022 {
		start = 2022
	}
	if end < start {
		return nil
	}
	years := make([]int, 0, end-start+1)
	for y := start; y <= end; y++ {
		years = append(years, y)
	}
	return years
}

func (c Config) Timeout() time.Duration      { return time.Duration(c.TimeoutMs) * time.Millisecond }
func (c Config) RetryBaseDelay() time.Duration { return time.Duration(c.RetryBaseDelayMs) * time.Millisecond }
func (c Config) RateLimitMinBackoff() time.Duration {
	return time.Duration(c.RateLimitMinBackoffMs) * time.Millisecond
}
func (c Config) UpstreamSpacing() time.Duration {
	return time.Duration(c.UpstreamSpacingMs) * time.Millisecond
}
func (c Config) AutoInterval() time.Duration {
	return time.Duration(c.AutoIntervalMinutes) * time.Minute
}
func (c Config) SnapshotClimateMaxAge() time.Duration {
	return time.Duration(c.SnapshotClimateMaxAgeDays) * 24 * time.Hour
}
func (c Config) SnapshotAirMaxAge() time.Duration {
	return time.Duration(c.SnapshotAirMaxAgeDays) * 24 * time.Hour
}
func (c Config) SnapshotMarineMaxAge() time.Duration {
	return time.Duration(c.SnapshotMarineMaxAgeDays) * 24 * time.Hour
}
