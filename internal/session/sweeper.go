package session

import (
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Sweeper periodically removes expired sessions from an InMemoryStore.
type Sweeper struct {
	scheduler *gocron.Scheduler
	store     *InMemoryStore
	interval  time.Duration
	logger    *zap.Logger
}

// NewSweeper creates a Sweeper; call Start to schedule it.
func NewSweeper(store *InMemoryStore, interval time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		scheduler: gocron.NewScheduler(time.UTC),
		store:     store,
		interval:  interval,
		logger:    logger,
	}
}

// Start schedules the sweep job and starts the underlying scheduler.
func (s *Sweeper) Start() error {
	interval := s.interval
	if interval <= 0 {
		interval = time.Minute
	}

	_, err := s.scheduler.Every(interval).Do(func() {
		if removed := s.store.Sweep(); removed > 0 {
			s.logger.Debug("swept expired sessions", zap.Int("removed", removed))
		}
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels future sweeps.
func (s *Sweeper) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
