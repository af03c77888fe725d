package client

import (
	"context"
	"fmt"
	"net/url"
	"sort"

	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-compare-service/internal/models"
	"github.com/kjstillabower/forecast-compare-service/internal/observability"
)

type localizedName struct {
	LocalizedName *string `json:"LocalizedName"`
}

type locationRecord struct {
	Key                *string        `json:"Key"`
	LocalizedName      *string        `json:"LocalizedName"`
	Country            *localizedName `json:"Country"`
	AdministrativeArea *localizedName `json:"AdministrativeArea"`
}

// candidate returns the record as a LocationCandidate, or false when a required field is absent or null.
func (r locationRecord) candidate() (models.LocationCandidate, bool) {
	if r.Key == nil || r.LocalizedName == nil ||
		r.Country == nil || r.Country.LocalizedName == nil ||
		r.AdministrativeArea == nil || r.AdministrativeArea.LocalizedName == nil {
		return models.LocationCandidate{}, false
	}
	return models.LocationCandidate{
		Country: *r.Country.LocalizedName,
		Region:  *r.AdministrativeArea.LocalizedName,
		City:    *r.LocalizedName,
		Key:     *r.Key,
	}, true
}

// Resolve looks up query with the autocomplete endpoint and returns candidates sorted by
// (Country, Region, City). Zero matches yield an empty non-nil slice.
func (c *AccuWeatherClient) Resolve(ctx context.Context, query string) ([]models.LocationCandidate, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("language", c.language)

	var records *[]locationRecord
	if err := c.getJSON(ctx, endpointLocations, c.locationsURL, params, &records); err != nil {
		return nil, fmt.Errorf("resolve %q: %w", query, err)
	}
	if records == nil {
		return nil, fmt.Errorf("resolve %q: %w: null body", query, ErrMalformedResponse)
	}

	candidates := make([]models.LocationCandidate, 0, len(*records))
	skipped := 0
	for _, rec := range *records {
		cand, ok := rec.candidate()
		if !ok {
			skipped++
			continue
		}
		candidates = append(candidates, cand)
	}
	if skipped > 0 {
		observability.LocationRecordsSkippedTotal.Add(float64(skipped))
		observability.LoggerFromContext(ctx).Debug("skipped incomplete location records",
			zap.String("query", query),
			zap.Int("skipped", skipped),
		)
	}

	sortCandidates(candidates)
	return candidates, nil
}

func sortCandidates(candidates []models.LocationCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Country != b.Country {
			return a.Country < b.Country
		}
		if a.Region != b.Region {
			return a.Region < b.Region
		}
		return a.City < b.City
	})
}
