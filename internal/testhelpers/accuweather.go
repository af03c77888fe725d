package testhelpers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// Fixture bodies in the upstream wire format.
const (
	MoscowLocationsBody = `[
		{"Key":"key1","LocalizedName":"MoscowCityName","Country":{"LocalizedName":"Russia"},"AdministrativeArea":{"LocalizedName":"Moscow"}},
		{"Key":"key2","LocalizedName":"MoscowCityName","Country":{"LocalizedName":"Russia"},"AdministrativeArea":{"LocalizedName":"Moscow Oblast"}}
	]`
	ParisLocationsBody = `[
		{"Key":"key3","LocalizedName":"Paris","Country":{"LocalizedName":"France"},"AdministrativeArea":{"LocalizedName":"Ile-de-France"}}
	]`

	// OneDayForecastBody converts to mean 5.56 C, rain 40 %, wind 6.21 km/h.
	OneDayForecastBody = `{"DailyForecasts":[
		{"Date":"2023-05-01T07:00:00+03:00","Temperature":{"Minimum":{"Value":34},"Maximum":{"Value":50}},"Day":{"RainProbability":40,"Wind":{"Speed":{"Value":10}}}}
	]}`
	MissingDailyForecastsBody = `{"Headline":{}}`
)

// FakeAccuWeather serves canned locations and forecast responses. Unknown queries return
// an empty array; unknown location keys return 404.
type FakeAccuWeather struct {
	Server *httptest.Server

	mu        sync.Mutex
	locations map[string]string
	forecasts map[string]string
	failing   map[string]int
	requests  []*http.Request
}

// NewFakeAccuWeather starts a fake upstream that is closed when the test ends.
func NewFakeAccuWeather(t *testing.T) *FakeAccuWeather {
	t.Helper()
	f := &FakeAccuWeather{
		locations: make(map[string]string),
		forecasts: make(map[string]string),
		failing:   make(map[string]int),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Server.Close)
	return f
}

// LocationsURL is the autocomplete endpoint to configure the client with.
func (f *FakeAccuWeather) LocationsURL() string {
	return f.Server.URL + "/locations/v1/cities/autocomplete"
}

// ForecastURL is the daily forecast base to configure the client with.
func (f *FakeAccuWeather) ForecastURL() string {
	return f.Server.URL + "/forecasts/v1/daily"
}

// SetLocations makes lookups for query return body.
func (f *FakeAccuWeather) SetLocations(query, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locations[query] = body
}

// SetForecast makes forecasts for key return body, for both granularities.
func (f *FakeAccuWeather) SetForecast(key, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forecasts[key] = body
}

// FailWith makes requests whose q parameter or path key equals match answer with status.
func (f *FakeAccuWeather) FailWith(match string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[match] = status
}

// Requests returns the requests served so far.
func (f *FakeAccuWeather) Requests() []*http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*http.Request, len(f.requests))
	copy(out, f.requests)
	return out
}

func (f *FakeAccuWeather) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.Clone(r.Context()))
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasPrefix(r.URL.Path, "/locations/"):
		query := r.URL.Query().Get("q")
		if status, ok := f.failure(query); ok {
			w.WriteHeader(status)
			return
		}
		body, ok := f.lookup(f.locations, query)
		if !ok {
			body = "[]"
		}
		_, _ = w.Write([]byte(body))
	case strings.HasPrefix(r.URL.Path, "/forecasts/"):
		key := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		if status, ok := f.failure(key); ok {
			w.WriteHeader(status)
			return
		}
		body, ok := f.lookup(f.forecasts, key)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(body))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *FakeAccuWeather) failure(match string) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.failing[match]
	return status, ok
}

func (f *FakeAccuWeather) lookup(m map[string]string, k string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := m[k]
	return body, ok
}
