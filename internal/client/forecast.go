package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kjstillabower/forecast-compare-service/internal/models"
	"github.com/kjstillabower/forecast-compare-service/internal/units"
)

type measure struct {
	Value *float64 `json:"Value"`
}

type dailyForecast struct {
	Date        *string `json:"Date"`
	Temperature *struct {
		Minimum *measure `json:"Minimum"`
		Maximum *measure `json:"Maximum"`
	} `json:"Temperature"`
	Day *struct {
		RainProbability *float64 `json:"RainProbability"`
		Wind            *struct {
			Speed *measure `json:"Speed"`
		} `json:"Wind"`
	} `json:"Day"`
}

type forecastResponse struct {
	DailyForecasts *[]dailyForecast `json:"DailyForecasts"`
}

// dateLayouts are tried in order after a trailing Z is stripped.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// forecastPath maps a horizon to the upstream granularity; only 1 uses the 1-day product.
func forecastPath(horizonDays int) string {
	if horizonDays == 1 {
		return "1day"
	}
	return "5day"
}

// Fetch retrieves the daily forecast for locationKey and normalizes it to Celsius and km/h.
// Any day missing a required field fails the whole call.
func (c *AccuWeatherClient) Fetch(ctx context.Context, locationKey string, horizonDays int) ([]models.ForecastDay, error) {
	rawURL := strings.TrimRight(c.forecastURL, "/") + "/" + forecastPath(horizonDays) + "/" + url.PathEscape(locationKey)

	params := url.Values{}
	params.Set("details", "true")

	var resp forecastResponse
	if err := c.getJSON(ctx, endpointForecast, rawURL, params, &resp); err != nil {
		return nil, fmt.Errorf("fetch forecast %s: %w", locationKey, err)
	}
	if resp.DailyForecasts == nil {
		return nil, fmt.Errorf("fetch forecast %s: %w: DailyForecasts missing", locationKey, ErrMalformedResponse)
	}

	daily := *resp.DailyForecasts
	if horizonDays > 0 && len(daily) > horizonDays {
		daily = daily[:horizonDays]
	}
	if len(daily) == 0 {
		return nil, fmt.Errorf("fetch forecast %s: %w: no daily forecasts", locationKey, ErrMalformedResponse)
	}

	days := make([]models.ForecastDay, 0, len(daily))
	for i, d := range daily {
		day, err := normalizeDay(d)
		if err != nil {
			return nil, fmt.Errorf("fetch forecast %s: day %d: %w", locationKey, i, err)
		}
		days = append(days, day)
	}
	return days, nil
}

func normalizeDay(d dailyForecast) (models.ForecastDay, error) {
	switch {
	case d.Date == nil:
		return models.ForecastDay{}, fmt.Errorf("%w: Date missing", ErrMalformedResponse)
	case d.Temperature == nil || d.Temperature.Maximum == nil || d.Temperature.Maximum.Value == nil ||
		d.Temperature.Minimum == nil || d.Temperature.Minimum.Value == nil:
		return models.ForecastDay{}, fmt.Errorf("%w: Temperature missing", ErrMalformedResponse)
	case d.Day == nil || d.Day.RainProbability == nil:
		return models.ForecastDay{}, fmt.Errorf("%w: Day.RainProbability missing", ErrMalformedResponse)
	case d.Day.Wind == nil || d.Day.Wind.Speed == nil || d.Day.Wind.Speed.Value == nil:
		return models.ForecastDay{}, fmt.Errorf("%w: Day.Wind.Speed missing", ErrMalformedResponse)
	}

	maxF, minF := *d.Temperature.Maximum.Value, *d.Temperature.Minimum.Value
	return models.ForecastDay{
		Date:         normalizeDate(*d.Date),
		MeanTempC:    units.Round2(units.FahrenheitToCelsius((maxF + minF) / 2)),
		RainProbPct:  units.Round2(*d.Day.RainProbability),
		WindSpeedKmh: units.Round2(units.MphToKmh(*d.Day.Wind.Speed.Value)),
	}, nil
}

// normalizeDate reduces an ISO-8601 timestamp to its calendar date in the timestamp's own
// offset. Unparsable input is returned unchanged.
func normalizeDate(raw string) string {
	s := strings.TrimSuffix(raw, "Z")
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return raw
}
