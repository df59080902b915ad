// Package schedule runs one job on a cron expression until cancelled.
package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const DefaultSpec = "0 10 * * *"

// Job is the unit of work fired on every tick.
type Job func(ctx context.Context) error

type Scheduler struct {
	spec   string
	cron   *cron.Cron
	job    Job
	logger zerolog.Logger

	mu      sync.Mutex
	entry   cron.EntryID
	runCtx  context.Context
	lastRun time.Time
	lastErr error
}

// New validates spec (standard five-field syntax or a descriptor such as
// "@daily") and timezone ("" or "Local" means the host zone).
func New(spec, timezone string, job Job, logger zerolog.Logger) (*Scheduler, error) {
	if strings.TrimSpace(spec) == "" {
		spec = DefaultSpec
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	loc := time.Local
	if tz := strings.TrimSpace(timezone); tz != "" && tz != "Local" {
		var err error
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid schedule timezone %q: %w", tz, err)
		}
	}

	s := &Scheduler{spec: spec, job: job, logger: logger}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger})),
	)

	id, err := s.cron.AddFunc(spec, s.fire)
	if err != nil {
		return nil, fmt.Errorf("register schedule: %w", err)
	}
	s.entry = id

	return s, nil
}

// Run starts the scheduler and blocks until ctx is done. A job in flight is
// cancelled through ctx and waited for before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info().Str("spec", s.spec).Time("next", s.Next()).Msg("schedule started")

	<-ctx.Done()

	<-s.cron.Stop().Done()
	s.logger.Info().Msg("schedule stopped")
	return nil
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	start := time.Now()
	s.logger.Info().Msg("scheduled run starting")
	err := s.job(ctx)

	s.mu.Lock()
	s.lastRun = start
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("scheduled run failed")
	} else {
		s.logger.Info().Dur("duration", time.Since(start)).Msg("scheduled run finished")
	}
	s.logger.Info().Time("next", s.Next()).Msg("next scheduled run")
}

func (s *Scheduler) Spec() string { return s.spec }

// Next is the next fire time, or zero before Run.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// LastRun returns the start time and result of the latest completed run.
func (s *Scheduler) LastRun() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
