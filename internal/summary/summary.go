// Package summary defines the MonthlySummary payload and its plausibility
// invariants. A stored summary failing any range check is treated as
// missing by the summary cache and the snapshot store; see Validate.
package summary

import (
	"math"
	"time"
)

// MonthlySummary is the derived meteorological payload the engine produces
// for a single (region, calendar month) pair. Every scalar field is
// independently nullable.
type MonthlySummary struct {
	TemperatureC    *float64 `json:"temperatureC,omitempty"`
	TemperatureMinC *float64 `json:"temperatureMinC,omitempty"`
	TemperatureMaxC *float64 `json:"temperatureMaxC,omitempty"`
	RainfallMm      *float64 `json:"rainfallMm,omitempty"`
	HumidityPct     *float64 `json:"humidityPct,omitempty"`
	WindKph         *float64 `json:"windKph,omitempty"`

	UVIndex *float64 `json:"uvIndex,omitempty"`
	PM25    *float64 `json:"pm25,omitempty"`
	AQI     *float64 `json:"aqi,omitempty"`

	WaveHeightM      *float64 `json:"waveHeightM,omitempty"`
	WavePeriodS      *float64 `json:"wavePeriodS,omitempty"`
	WaveDirectionDeg *float64 `json:"waveDirectionDeg,omitempty"`

	ClimateLastUpdated    time.Time `json:"climateLastUpdated"`
	AirQualityLastUpdated time.Time `json:"airQualityLastUpdated"`
	MarineLastUpdated     time.Time `json:"marineLastUpdated"`
}

type fieldRange struct {
	name     string
	value    *float64
	min, max float64
}

func (s *MonthlySummary) ranges() []fieldRange {
	return []fieldRange{
		{"temperatureC", s.TemperatureC, -80, 60},
		{"temperatureMinC", s.TemperatureMinC, -80, 60},
		{"temperatureMaxC", s.TemperatureMaxC, -80, 60},
		{"rainfallMm", s.RainfallMm, 0, 5000},
		{"humidityPct", s.HumidityPct, 0, 100},
		{"windKph", s.WindKph, 0, 500},
		{"uvIndex", s.UVIndex, 0, 20},
		{"pm25", s.PM25, 0, 1000},
		{"aqi", s.AQI, 0, 500},
		{"waveHeightM", s.WaveHeightM, 0, 30},
		{"wavePeriodS", s.WavePeriodS, 0, 40},
		{"waveDirectionDeg", s.WaveDirectionDeg, 0, 360},
	}
}

// Validate reports whether every populated numeric field is finite and
// within its plausibility range. A nil field is always valid.
func (s *MonthlySummary) Validate() bool {
	if s == nil {
		return false
	}
	for _, fr := range s.ranges() {
		if fr.value == nil {
			continue
		}
		v := *fr.value
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
		if v < fr.min || v > fr.max {
			return false
		}
	}
	return true
}

// WithMarinePreference returns a copy of s with the three wave fields
// nulled when includeMarine is false, per the marine suppression policy.
func (s MonthlySummary) WithMarinePreference(includeMarine bool) MonthlySummary {
	if includeMarine {
		return s
	}
	s.WaveHeightM = nil
	s.WavePeriodS = nil
	s.WaveDirectionDeg = nil
	return s
}

// HasMarine reports whether any wave field is populated.
func (s MonthlySummary) HasMarine() bool {
	return s.WaveHeightM != nil || s.WavePeriodS != nil || s.WaveDirectionDeg != nil
}

// Round2 rounds a finite float64 to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Ptr returns a pointer to v rounded to two decimals (Round2), or nil when
// ok is false or v is not finite.
func Ptr(v float64, ok bool) *float64 {
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	out := Round2(v)
	return &out
}
