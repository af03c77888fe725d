package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-compare-service/internal/client"
	"github.com/kjstillabower/forecast-compare-service/internal/models"
	"github.com/kjstillabower/forecast-compare-service/internal/observability"
	"github.com/kjstillabower/forecast-compare-service/internal/session"
	"github.com/kjstillabower/forecast-compare-service/internal/validation"
)

var (
	ErrNoInput              = errors.New("no location entered")
	ErrNoCandidates         = errors.New("no candidates to choose from")
	ErrNoSelection          = errors.New("no location selected")
	ErrWrongStage           = errors.New("operation not allowed in current stage")
	ErrInvalidHorizon       = errors.New("horizon must be 1, 3 or 5 days")
	ErrInvalidQuery         = errors.New("invalid location query")
	ErrTransitionInProgress = errors.New("another transition is in progress for this session")

	// ErrTooManyQueries is returned when more than models.MaxQueries entries are submitted.
	ErrTooManyQueries = validation.ErrTooManyQueries
)

// User-facing messages attached to the session snapshot.
const (
	msgNoInput     = "enter at least one location"
	msgNoOptions   = "no options"
	msgNoSelection = "no location selected"
)

const (
	defaultMaxConcurrentCalls = 5
	defaultQueryMaxLength     = 100
)

// Options tunes an Orchestrator. Zero values take defaults.
type Options struct {
	// MaxConcurrentCalls bounds upstream calls in flight within one stage.
	MaxConcurrentCalls int
	// QueryMaxLength bounds each trimmed query, in runes.
	QueryMaxLength int
	Clock          clockwork.Clock
}

// Orchestrator drives the INPUT -> CHOICE -> RESULT pipeline for each session.
// Each transition loads the session, computes the next snapshot and saves it; a second
// transition on the same session while one is running is rejected.
type Orchestrator struct {
	resolver client.LocationResolver
	fetcher  client.ForecastFetcher
	store    session.Store
	guard    *transitionGuard
	clock    clockwork.Clock

	maxConcurrentCalls int
	queryMaxLength     int
}

// NewOrchestrator creates an Orchestrator over the given collaborators.
func NewOrchestrator(resolver client.LocationResolver, fetcher client.ForecastFetcher, store session.Store, opts Options) *Orchestrator {
	o := &Orchestrator{
		resolver:           resolver,
		fetcher:            fetcher,
		store:              store,
		guard:              newTransitionGuard(),
		clock:              opts.Clock,
		maxConcurrentCalls: opts.MaxConcurrentCalls,
		queryMaxLength:     opts.QueryMaxLength,
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.maxConcurrentCalls <= 0 {
		o.maxConcurrentCalls = defaultMaxConcurrentCalls
	}
	if o.queryMaxLength <= 0 {
		o.queryMaxLength = defaultQueryMaxLength
	}
	return o
}

// Start creates a new session in the INPUT stage.
func (o *Orchestrator) Start(ctx context.Context) (models.Session, error) {
	sess := models.NewSession(uuid.NewString(), o.clock.Now().UTC())
	if err := o.store.Save(ctx, sess); err != nil {
		return models.Session{}, fmt.Errorf("save session: %w", err)
	}
	observability.SessionsStartedTotal.Inc()
	observability.LoggerFromContext(ctx).Info("session started", zap.String("session_id", sess.ID))
	return sess, nil
}

// Get returns the current snapshot of session id.
func (o *Orchestrator) Get(ctx context.Context, id string) (models.Session, error) {
	sess, err := o.store.Get(ctx, id)
	if err != nil {
		return models.Session{}, fmt.Errorf("load session %s: %w", id, err)
	}
	return sess, nil
}

// Restart discards all pipeline data and returns the session to INPUT.
func (o *Orchestrator) Restart(ctx context.Context, id string) (models.Session, error) {
	return o.transition(ctx, id, "restart", func(ctx context.Context, sess *models.Session) error {
		sess.Reset(o.clock.Now().UTC())
		return nil
	})
}

// End deletes the session.
func (o *Orchestrator) End(ctx context.Context, id string) error {
	if _, err := o.store.Get(ctx, id); err != nil {
		return fmt.Errorf("load session %s: %w", id, err)
	}
	if err := o.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	observability.LoggerFromContext(ctx).Info("session ended", zap.String("session_id", id))
	return nil
}

// transition runs step on the stored session under the per-session guard, and the store's
// lock when it is a session.Locker, and saves the result, including when step returns a
// validation error. Errors wrapped in errUnchanged are returned without saving.
func (o *Orchestrator) transition(ctx context.Context, id, name string, step func(ctx context.Context, sess *models.Session) error) (models.Session, error) {
	logger := observability.LoggerFromContext(ctx).With(zap.String("session_id", id), zap.String("transition", name))

	if !o.guard.TryAcquire(id) {
		return o.rejectInProgress(ctx, logger, id, name)
	}
	defer o.guard.Release(id)

	if locker, ok := o.store.(session.Locker); ok {
		unlock, err := locker.Lock(ctx, id)
		if errors.Is(err, session.ErrLocked) {
			return o.rejectInProgress(ctx, logger, id, name)
		}
		if err != nil {
			return models.Session{}, fmt.Errorf("lock session %s: %w", id, err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("release session lock failed", zap.Error(err))
			}
		}()
	}

	sess, err := o.store.Get(ctx, id)
	if err != nil {
		return models.Session{}, fmt.Errorf("load session %s: %w", id, err)
	}
	from := sess.Stage

	stepErr := step(ctx, &sess)
	var unchanged *unchangedError
	if errors.As(stepErr, &unchanged) {
		observability.StageTransitionsTotal.WithLabelValues(name, outcomeLabel(unchanged.err)).Inc()
		logger.Info("transition rejected", zap.String("stage", string(from)), zap.Error(unchanged.err))
		return sess, unchanged.err
	}

	// The request deadline may pass during fan-out; the snapshot is saved regardless.
	sess.UpdatedAt = o.clock.Now().UTC()
	if err := o.store.Save(context.WithoutCancel(ctx), sess); err != nil {
		return sess, fmt.Errorf("save session %s: %w", id, err)
	}

	observability.StageTransitionsTotal.WithLabelValues(name, outcomeLabel(stepErr)).Inc()
	if stepErr != nil {
		logger.Info("transition rejected",
			zap.String("stage", string(sess.Stage)),
			zap.String("message", sess.Message),
			zap.Error(stepErr),
		)
		return sess, stepErr
	}
	logger.Info("stage transition",
		zap.String("from", string(from)),
		zap.String("to", string(sess.Stage)),
	)
	return sess, nil
}

// rejectInProgress answers a transition that found the session busy with the current
// snapshot. A failed load yields a zero snapshot.
func (o *Orchestrator) rejectInProgress(ctx context.Context, logger *zap.Logger, id, name string) (models.Session, error) {
	observability.StageTransitionsTotal.WithLabelValues(name, "in_progress").Inc()
	sess, err := o.store.Get(ctx, id)
	if err != nil {
		logger.Debug("load session for in-progress rejection failed", zap.Error(err))
		return models.Session{}, ErrTransitionInProgress
	}
	return sess, ErrTransitionInProgress
}

// unchangedError marks a step failure that must not be persisted.
type unchangedError struct {
	err error
}

func (e *unchangedError) Error() string { return e.err.Error() }
func (e *unchangedError) Unwrap() error { return e.err }

func errUnchanged(err error) error {
	return &unchangedError{err: err}
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoInput):
		return "no_input"
	case errors.Is(err, ErrNoCandidates):
		return "no_candidates"
	case errors.Is(err, ErrNoSelection):
		return "no_selection"
	case errors.Is(err, ErrWrongStage):
		return "wrong_stage"
	case errors.Is(err, ErrInvalidHorizon), errors.Is(err, ErrInvalidQuery), errors.Is(err, ErrTooManyQueries):
		return "invalid"
	default:
		return "error"
	}
}
