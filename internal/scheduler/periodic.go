package scheduler

import (
	"fmt"

	"funnel_sync_backend/platform/config"

	"github.com/hibiken/asynq"
)

const sweepSchedule = "@every 1m"

// NewPeriodic builds the asynq scheduler that enqueues the recurring
// maintenance tasks. The sweep cadence is coarse on purpose; readers
// filter stale records themselves, the sweep only reclaims rows.
func NewPeriodic(cfg config.SchedulerConfig) (*asynq.Scheduler, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	sched := asynq.NewScheduler(opt, nil)
	if _, err := sched.Register(sweepSchedule, NewBroadcastSweepTask(), asynq.Queue(queue)); err != nil {
		return nil, err
	}
	return sched, nil
}
