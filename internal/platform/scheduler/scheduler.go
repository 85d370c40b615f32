// Package scheduler runs named periodic jobs on cron expressions, guarded by
// a lease so a job never overlaps itself across replicas.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one run of a periodic task.
type Job func(ctx context.Context) error

type Scheduler struct {
	cron     *cron.Cron
	locker   Locker
	leaseTTL time.Duration
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{ l zerolog.Logger }

func (c cronLogger) Info(msg string, kv ...interface{}) {
	c.l.Debug().Fields(kv).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.l.Error().Err(err).Fields(kv).Msg(msg)
}

func New(logger zerolog.Logger, locker Locker, leaseTTL time.Duration) *Scheduler {
	if locker == nil {
		locker = NoopLocker{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		locker:   locker,
		leaseTTL: leaseTTL,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Add registers job under name on the standard five-field spec.
func (s *Scheduler) Add(name, spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.RunOnce(s.ctx, name, job)
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.logger.Info().Str("job", name).Str("spec", spec).Msg("job scheduled")
	return nil
}

// RunOnce runs job now if the lease for name can be taken. It reports
// whether the job ran.
func (s *Scheduler) RunOnce(ctx context.Context, name string, job Job) bool {
	log := s.logger.With().Str("job", name).Logger()
	release, ok, err := s.locker.Acquire(ctx, name, s.leaseTTL)
	if err != nil {
		log.Error().Err(err).Msg("lease unavailable, skipping run")
		return false
	}
	if !ok {
		log.Info().Msg("lease held elsewhere, skipping run")
		return false
	}
	defer release()

	start := time.Now()
	if err := job(ctx); err != nil {
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("job failed")
		return true
	}
	log.Info().Dur("elapsed", time.Since(start)).Msg("job finished")
	return true
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling, cancels running jobs and waits for them up to the
// deadline of ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
