package models

// ForecastDay is one normalized daily forecast entry.
type ForecastDay struct {
	Date         string  `json:"date"`
	MeanTempC    float64 `json:"meanTempC"`
	RainProbPct  float64 `json:"rainProbPct"`
	WindSpeedKmh float64 `json:"windSpeedKmh"`
}

// ForecastSeries is the forecast for one chosen location. A failed fetch sets
// Failed and never carries days.
type ForecastSeries struct {
	Location ChosenLocation `json:"location"`
	Days     []ForecastDay  `json:"days,omitempty"`
	Failed   bool           `json:"failed,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// TimeSeries is the column-oriented view of a forecast used for charting.
type TimeSeries struct {
	Dates              []string  `json:"dates"`
	TemperatureC       []float64 `json:"temperatureC"`
	RainProbabilityPct []float64 `json:"rainProbabilityPct"`
	WindSpeedKmh       []float64 `json:"windSpeedKmh"`
}

// TimeSeries splits Days into the three display series. Returns an empty
// TimeSeries for a failed fetch.
func (s ForecastSeries) TimeSeries() TimeSeries {
	ts := TimeSeries{
		Dates:              make([]string, 0, len(s.Days)),
		TemperatureC:       make([]float64, 0, len(s.Days)),
		RainProbabilityPct: make([]float64, 0, len(s.Days)),
		WindSpeedKmh:       make([]float64, 0, len(s.Days)),
	}
	if s.Failed {
		return ts
	}
	for _, d := range s.Days {
		ts.Dates = append(ts.Dates, d.Date)
		ts.TemperatureC = append(ts.TemperatureC, d.MeanTempC)
		ts.RainProbabilityPct = append(ts.RainProbabilityPct, d.RainProbPct)
		ts.WindSpeedKmh = append(ts.WindSpeedKmh, d.WindSpeedKmh)
	}
	return ts
}
