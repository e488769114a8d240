// Package aggregate reduces one or more baseline years of daily/hourly
// range-loader output into a single monthly summary.
package aggregate

import (
	"github.com/weatherlake/summary-core/internal/summary"
	"github.com/weatherlake/summary-core/internal/weather/air"
	"github.com/weatherlake/summary-core/internal/weather/climate"
	"github.com/weatherlake/summary-core/internal/weather/marine"
	"github.com/weatherlake/summary-core/internal/weather/series"
)

// YearData is one baseline year's range-loader output for a single month.
type YearData struct {
	Year        int
	ClimateDays []climate.Day
	AirByDay    map[string][]air.Hour // keyed by date, per-day hourly readings
	MarineHours []marine.Hour
}

// Build reduces years into a MonthlySummary. Fields whose backing pool is
// empty across every year are left null rather than defaulted to zero.
func Build(years []YearData) summary.MonthlySummary {
	var (
		temps, precs, hums, winds []*float64
		monthlyPrecipSums         []*float64 // one sum per year, for rainfallMm
		pm25s, aqis               []*float64
		dailyUVMaxes              []*float64 // one max per day, for uvIndex
		waveHeights, waveDirs     []*float64
		wavePeriods               []*float64
	)

	for _, y := range years {
		var yearPrecip []*float64
		for _, d := range y.ClimateDays {
			temps = append(temps, d.TemperatureMean)
			precs = append(precs, d.PrecipitationSum)
			hums = append(hums, d.HumidityMean)
			winds = append(winds, d.WindMean)
			yearPrecip = append(yearPrecip, d.PrecipitationSum)
		}
		if sum, ok := series.Sum(yearPrecip); ok {
			v := sum
			monthlyPrecipSums = append(monthlyPrecipSums, &v)
		}

		for _, hours := range y.AirByDay {
			var dayUV []*float64
			for _, h := range hours {
				pm25s = append(pm25s, h.PM25)
				aqis = append(aqis, h.AQI)
				dayUV = append(dayUV, h.UVIndex)
			}
			if _, max, ok := series.MinMax(dayUV); ok {
				v := max
				dailyUVMaxes = append(dailyUVMaxes, &v)
			}
		}

		for _, h := range y.MarineHours {
			waveHeights = append(waveHeights, h.WaveHeight)
			waveDirs = append(waveDirs, h.WaveDirection)
			wavePeriods = append(wavePeriods, h.WavePeriod)
		}
	}

	s := summary.MonthlySummary{}

	if v, ok := series.Mean(temps); ok {
		s.TemperatureC = summary.Ptr(v, true)
	}
	if min, max, ok := series.MinMax(temps); ok {
		s.TemperatureMinC = summary.Ptr(min, true)
		s.TemperatureMaxC = summary.Ptr(max, true)
	}
	if v, ok := series.Mean(monthlyPrecipSums); ok {
		s.RainfallMm = summary.Ptr(v, true)
	}
	if v, ok := series.Mean(hums); ok {
		s.HumidityPct = summary.Ptr(v, true)
	}
	if v, ok := series.Mean(winds); ok {
		s.WindKph = summary.Ptr(v, true)
	}
	if v, ok := series.Mean(pm25s); ok {
		s.PM25 = summary.Ptr(v, true)
	}
	if v, ok := series.Mean(aqis); ok {
		s.AQI = summary.Ptr(v, true)
	}
	if v, ok := series.Mean(dailyUVMaxes); ok {
		s.UVIndex = summary.Ptr(v, true)
	}
	if v, ok := series.Mean(waveHeights); ok {
		s.WaveHeightM = summary.Ptr(v, true)
	}
	if v, ok := series.Mean(waveDirs); ok {
		s.WaveDirectionDeg = summary.Ptr(v, true)
	}
	if v, ok := series.Mean(wavePeriods); ok {
		s.WavePeriodS = summary.Ptr(v, true)
	}

	return s
}
