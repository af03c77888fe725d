package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-compare-service/internal/client"
	"github.com/kjstillabower/forecast-compare-service/internal/models"
	"github.com/kjstillabower/forecast-compare-service/internal/observability"
	"github.com/kjstillabower/forecast-compare-service/internal/selection"
	"github.com/kjstillabower/forecast-compare-service/internal/validation"
)

// validHorizon reports whether days is an offered forecast horizon.
func validHorizon(days int) bool {
	return days == 1 || days == 3 || days == 5
}

// SubmitQueries starts a fresh pipeline run from raw input slots. Blank slots are skipped;
// every remaining query is resolved concurrently and the session moves to CHOICE.
// All-blank input clears the session and returns ErrNoInput whatever the horizon.
func (o *Orchestrator) SubmitQueries(ctx context.Context, id string, texts []string, horizonDays int) (models.Session, error) {
	return o.transition(ctx, id, "submit_queries", func(ctx context.Context, sess *models.Session) error {
		queries, err := validation.NormalizeQueries(texts, o.queryMaxLength)
		if err != nil {
			sess.Message = err.Error()
			if errors.Is(err, validation.ErrTooManyQueries) {
				return errUnchanged(err)
			}
			return errUnchanged(fmt.Errorf("%w: %v", ErrInvalidQuery, err))
		}
		if len(queries) == 0 {
			sess.Reset(o.clock.Now().UTC())
			sess.Message = msgNoInput
			return ErrNoInput
		}
		if !validHorizon(horizonDays) {
			sess.Message = ErrInvalidHorizon.Error()
			return errUnchanged(ErrInvalidHorizon)
		}

		sess.Reset(o.clock.Now().UTC())
		sess.Queries = queries
		sess.HorizonDays = horizonDays
		sess.Candidates = o.resolveAll(ctx, queries)
		sess.Stage = models.StageChoice
		return nil
	})
}

// SubmitSelections turns per-group picks into chosen locations and fetches their forecasts.
// Individual fetch failures become Failed series; the stage still moves to RESULT.
func (o *Orchestrator) SubmitSelections(ctx context.Context, id string, selections []*models.Selection) (models.Session, error) {
	return o.transition(ctx, id, "submit_selections", func(ctx context.Context, sess *models.Session) error {
		if sess.Stage == models.StageResult {
			return errUnchanged(ErrWrongStage)
		}
		sess.Message = ""
		if len(sess.Candidates) == 0 {
			sess.Message = msgNoOptions
			return ErrNoCandidates
		}

		chosen := selection.Aggregate(sess.Candidates, selections)
		if len(chosen) == 0 {
			sess.Chosen = []models.ChosenLocation{}
			sess.Message = msgNoSelection
			return ErrNoSelection
		}

		sess.Chosen = chosen
		sess.Forecasts = o.fetchAll(ctx, chosen, sess.HorizonDays)
		sess.Stage = models.StageResult
		return nil
	})
}

// resolveAll looks up every query concurrently. A failed lookup is recorded on its group
// rather than returned.
func (o *Orchestrator) resolveAll(ctx context.Context, queries []models.LocationQuery) models.CandidateSet {
	logger := observability.LoggerFromContext(ctx)
	groups := make([]models.CandidateGroup, len(queries))

	fanOut(ctx, len(queries), o.maxConcurrentCalls, func(ctx context.Context, i int) {
		q := queries[i]
		group := models.CandidateGroup{Query: q, Candidates: []models.LocationCandidate{}}

		cands, err := o.resolver.Resolve(ctx, q.Text)
		switch {
		case err != nil:
			group.LookupFailed = true
			observability.LocationLookupsTotal.WithLabelValues("failed").Inc()
			logger.Warn("location lookup failed",
				zap.Int("query_index", q.Index),
				zap.String("query", q.Text),
				zap.String("category", string(client.CategorizeError(err))),
				zap.Error(err),
			)
		case len(cands) == 0:
			observability.LocationLookupsTotal.WithLabelValues("empty").Inc()
		default:
			group.Candidates = cands
			observability.LocationLookupsTotal.WithLabelValues("found").Inc()
		}
		groups[i] = group
	})

	set := make(models.CandidateSet, len(groups))
	for _, g := range groups {
		set[g.Query.Index] = g
	}
	return set
}

// fetchAll retrieves forecasts for every chosen location concurrently, preserving order.
func (o *Orchestrator) fetchAll(ctx context.Context, chosen []models.ChosenLocation, horizonDays int) []models.ForecastSeries {
	logger := observability.LoggerFromContext(ctx)
	series := make([]models.ForecastSeries, len(chosen))

	fanOut(ctx, len(chosen), o.maxConcurrentCalls, func(ctx context.Context, i int) {
		loc := chosen[i]
		days, err := o.fetcher.Fetch(ctx, loc.Key, horizonDays)
		if err != nil {
			category := client.CategorizeError(err)
			series[i] = models.ForecastSeries{Location: loc, Failed: true, Error: string(category)}
			observability.ForecastFetchesTotal.WithLabelValues("failed").Inc()
			logger.Warn("forecast fetch failed",
				zap.String("city", loc.City),
				zap.String("location_key", loc.Key),
				zap.String("category", string(category)),
				zap.Error(err),
			)
			return
		}
		series[i] = models.ForecastSeries{Location: loc, Days: days}
		observability.ForecastFetchesTotal.WithLabelValues("success").Inc()
	})
	return series
}
