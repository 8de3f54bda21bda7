// Package scheduler triggers periodic maintenance jobs.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Purger removes expired soft-deleted accounts.
type Purger interface {
	PurgeExpiredAccounts(ctx context.Context) (int, error)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ log *zap.SugaredLogger }

func (l cronLogger) Info(msg string, kv ...any) { l.log.Debugw(msg, kv...) }
func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Errorw(msg, append(kv, "error", err)...)
}

// Scheduler runs jobs on cron specs. A job never overlaps with itself.
type Scheduler struct {
	c          *cron.Cron
	log        *zap.Logger
	jobTimeout time.Duration
}

// New creates a stopped scheduler evaluating specs in UTC.
func New(log *zap.Logger) *Scheduler {
	cl := cronLogger{log: log.Named("cron").Sugar()}
	return &Scheduler{
		c:          cron.New(cron.WithLocation(time.UTC), cron.WithLogger(cl)),
		log:        log,
		jobTimeout: 10 * time.Minute,
	}
}

func (s *Scheduler) wrap(j cron.Job) cron.Job {
	cl := cronLogger{log: s.log.Named("cron").Sugar()}
	// recover inside the skip guard so a panicking run still releases it
	return cron.NewChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)).Then(j)
}

// purgeJob runs one purge bounded by the job timeout and derived from ctx.
func (s *Scheduler) purgeJob(ctx context.Context, p Purger) cron.Job {
	return cron.FuncJob(func() {
		jctx, cancel := context.WithTimeout(ctx, s.jobTimeout)
		defer cancel()
		start := time.Now()
		n, err := p.PurgeExpiredAccounts(jctx)
		if err != nil {
			s.log.Error("purge failed", zap.Error(err), zap.Duration("dur", time.Since(start)))
			return
		}
		s.log.Debug("purge run", zap.Int("purged", n), zap.Duration("dur", time.Since(start)))
	})
}

// SchedulePurge registers the purge job on expr, e.g. "0 0 * * *" for daily at midnight.
func (s *Scheduler) SchedulePurge(ctx context.Context, expr string, p Purger) error {
	_, err := s.c.AddJob(expr, s.wrap(s.purgeJob(ctx, p)))
	return err
}

// Start begins firing jobs in the background.
func (s *Scheduler) Start() { s.c.Start() }

// Stop prevents new runs and waits for running jobs until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out")
	}
}
