// Package manual loads hand-curated monthly summaries used as a fallback
// when no fresh verified snapshot exists. The directory is scanned lazily
// on first access and held immutably afterward.
package manual

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/weatherlake/summary-core/internal/summary"
)

// sourceMonth mirrors one month row in an override file, using the
// source field names (matching MonthlySummary's JSON tags).
type sourceMonth struct {
	Month           int        `json:"month"`
	TemperatureC    *float64   `json:"temperatureC"`
	TemperatureMinC *float64   `json:"temperatureMinC"`
	TemperatureMaxC *float64   `json:"temperatureMaxC"`
	RainfallMm      *float64   `json:"rainfallMm"`
	HumidityPct     *float64   `json:"humidityPct"`
	WindKph         *float64   `json:"windKph"`
	UVIndex         *float64   `json:"uvIndex"`
	PM25            *float64   `json:"pm25"`
	AQI             *float64   `json:"aqi"`
	WaveHeightM     *float64   `json:"waveHeightM"`
	WavePeriodS     *float64   `json:"wavePeriodS"`
	WaveDirectionDeg *float64  `json:"waveDirectionDeg"`
	LastUpdated     *time.Time `json:"last_updated"`
}

type sourceFile struct {
	RegionID    string        `json:"regionId"`
	LastUpdated *time.Time    `json:"last_updated"`
	Months      []sourceMonth `json:"months"`
}

type key struct {
	regionID string
	month    int
}

// Loader serves curated overrides keyed by (regionId, month).
type Loader struct {
	dir  string
	once sync.Once
	mu   sync.RWMutex
	data map[key]summary.MonthlySummary
}

// New builds a Loader rooted at dir. dir need not exist yet; a missing
// directory simply yields no overrides.
func New(dir string) *Loader {
	return &Loader{dir: dir}
}

func (l *Loader) ensureLoaded() {
	l.once.Do(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.data = make(map[key]summary.MonthlySummary)

		entries, err := os.ReadDir(l.dir)
		if err != nil {
			return
		}
		loadedAt := time.Now()
		for _, de := range entries {
			if de.IsDir() || filepath.Ext(de.Name()) != ".json" {
				continue
			}
			l.loadFile(filepath.Join(l.dir, de.Name()), loadedAt)
		}
	})
}

func (l *Loader) loadFile(path string, loadedAt time.Time) {
	b, err := os.ReadFile(path)
	if err != nil {
		return // swallow: resilience over strictness
	}
	var sf sourceFile
	if err := json.Unmarshal(b, &sf); err != nil {
		return
	}
	if sf.RegionID == "" {
		return
	}
	fileUpdated := loadedAt
	if sf.LastUpdated != nil {
		fileUpdated = *sf.LastUpdated
	}

	for _, m := range sf.Months {
		if m.Month < 1 || m.Month > 12 {
			continue
		}
		sm := summary.MonthlySummary{
			TemperatureC:     m.TemperatureC,
			TemperatureMinC:  m.TemperatureMinC,
			TemperatureMaxC:  m.TemperatureMaxC,
			RainfallMm:       m.RainfallMm,
			HumidityPct:      m.HumidityPct,
			WindKph:          m.WindKph,
			UVIndex:          m.UVIndex,
			PM25:             m.PM25,
			AQI:              m.AQI,
			WaveHeightM:      m.WaveHeightM,
			WavePeriodS:      m.WavePeriodS,
			WaveDirectionDeg: m.WaveDirectionDeg,
		}
		if allNull(sm) {
			continue
		}
		updated := fileUpdated
		if m.LastUpdated != nil {
			updated = *m.LastUpdated
		}
		sm.ClimateLastUpdated = updated
		sm.AirQualityLastUpdated = updated
		if sm.HasMarine() {
			sm.MarineLastUpdated = updated
		}
		l.data[key{regionID: sf.RegionID, month: m.Month}] = sm
	}
}

func allNull(s summary.MonthlySummary) bool {
	return s.TemperatureC == nil && s.TemperatureMinC == nil && s.TemperatureMaxC == nil &&
		s.RainfallMm == nil && s.HumidityPct == nil && s.WindKph == nil &&
		s.UVIndex == nil && s.PM25 == nil && s.AQI == nil &&
		s.WaveHeightM == nil && s.WavePeriodS == nil && s.WaveDirectionDeg == nil
}

// Get returns the curated summary for regionID/month, if any.
func (l *Loader) Get(regionID string, month int) (summary.MonthlySummary, bool) {
	l.ensureLoaded()
	l.mu.RLock()
	defer l.mu.RUnlock()
	sm, ok := l.data[key{regionID: regionID, month: month}]
	return sm, ok
}
