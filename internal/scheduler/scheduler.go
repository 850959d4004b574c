// Package scheduler runs daily background maintenance, currently the
// match history retention cleaner.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/stepgame/internal/config"
)

// Pruner deletes finished matches that ended before a cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	storage config.StorageConfig
	pruner  Pruner
	now     func() time.Time
	logger  zerolog.Logger
}

// NewScheduler creates a new task scheduler. pruner may be nil when
// history is disabled.
func NewScheduler(storage config.StorageConfig, pruner Pruner) *Scheduler {
	return &Scheduler{
		storage: storage,
		pruner:  pruner,
		now:     time.Now,
		logger:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start runs the scheduled tasks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if s.pruner == nil || s.storage.RetentionDays <= 0 {
		s.logger.Info().Msg("history cleaner disabled")
		<-ctx.Done()
		return
	}

	s.logger.Info().Int("retention_days", s.storage.RetentionDays).Msg("scheduler started")
	s.runCleanerLoop(ctx)
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runCleanerLoop(ctx context.Context) {
	for {
		nextRun := s.nextCleanupTime()
		sleep := nextRun.Sub(s.now())
		if sleep <= 0 {
			sleep = 24 * time.Hour
		}

		s.logger.Info().
			Time("next_run", nextRun).
			Dur("sleep", sleep).
			Msg("history cleaner scheduled")

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
			s.RunCleaner(ctx)
		}
	}
}

// RunCleaner deletes matches that ended more than RetentionDays ago.
func (s *Scheduler) RunCleaner(ctx context.Context) {
	cutoff := s.now().Add(-time.Duration(s.storage.RetentionDays) * 24 * time.Hour)

	removed, err := s.pruner.Prune(ctx, cutoff)
	if err != nil {
		s.logger.Warn().Err(err).Msg("history cleaner failed")
		return
	}

	s.logger.Info().
		Int64("deleted_matches", removed).
		Time("cutoff", cutoff).
		Msg("history cleaner completed")
}

// nextCleanupTime returns the next occurrence of the configured HH:MM.
func (s *Scheduler) nextCleanupTime() time.Time {
	hour, minute, err := config.ParseClock(s.storage.CleanupTime)
	if err != nil {
		hour, minute = 4, 0
	}

	now := s.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
