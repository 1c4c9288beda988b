// Package jobs runs the service's periodic maintenance on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/ehr/cohortbuilder/internal/platform/metrics"
)

// Purger removes history sessions idle for longer than ttl.
type Purger interface {
	PurgeIdle(ctx context.Context, ttl time.Duration) (int64, error)
}

type Scheduler struct {
	cron    *cron.Cron
	logger  zerolog.Logger
	timeout time.Duration
}

func NewScheduler(logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		logger:  logger.With().Str("component", "jobs").Logger(),
		timeout: 5 * time.Minute,
	}
}

// Add schedules fn on schedule. Each run gets its own bounded context.
func (s *Scheduler) Add(name, schedule string, fn func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		start := time.Now()
		if err := fn(ctx); err != nil {
			s.logger.Error().Err(err).Str("job", name).Msg("job failed")
			return
		}
		s.logger.Debug().Str("job", name).Dur("took", time.Since(start)).Msg("job completed")
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, schedule, err)
	}
	return nil
}

// AddPurge schedules the idle-session purge.
func (s *Scheduler) AddPurge(schedule string, p Purger, ttl time.Duration) error {
	return s.Add("history-purge", schedule, func(ctx context.Context) error {
		_, err := Purge(ctx, p, ttl, s.logger)
		return err
	})
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs, up to ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Purge runs one purge and records the removed sessions.
func Purge(ctx context.Context, p Purger, ttl time.Duration, logger zerolog.Logger) (int64, error) {
	n, err := p.PurgeIdle(ctx, ttl)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.PurgedSessions.Add(float64(n))
		logger.Info().Int64("sessions", n).Dur("ttl", ttl).Msg("purged idle history")
	}
	return n, nil
}
