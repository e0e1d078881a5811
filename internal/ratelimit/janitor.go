package ratelimit

import (
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Janitor periodically evicts idle per-IP and per-key buckets from a
// Limiter, the way the teacher's scheduler runs singleton-mode cron jobs
// for periodic maintenance work.
type Janitor struct {
	cron    gocron.Scheduler
	limiter *Limiter
	logger  *zap.Logger
}

// NewJanitor creates a Janitor. Call Start to begin the periodic sweep.
func NewJanitor(limiter *Limiter, logger *zap.Logger) (*Janitor, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Janitor{cron: s, limiter: limiter, logger: logger.Named("ratelimit_janitor")}, nil
}

// Start schedules the eviction sweep to run every interval and starts the
// underlying cron scheduler.
func (j *Janitor) Start(interval time.Duration) error {
	_, err := j.cron.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if n := j.limiter.EvictIdle(); n > 0 {
				j.logger.Debug("evicted idle rate limit buckets", zap.Int("count", n))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

// Stop shuts down the scheduler, blocking until in-flight jobs finish.
func (j *Janitor) Stop() error {
	return j.cron.Shutdown()
}
