package scheduler

import (
	"context"
	"fmt"
	"time"

	"funnel_sync_backend/internal/funnel/broadcast"
	"funnel_sync_backend/internal/funnel/domain"
	"funnel_sync_backend/internal/funnel/repository"
	"funnel_sync_backend/platform/config"
	"funnel_sync_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// WorkerConfig combines the config interfaces the background worker needs.
type WorkerConfig interface {
	config.SchedulerConfig
	config.SyncConfig
}

type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	repo   *repository.Repository
	pub    *broadcast.Broadcaster
	limit  int
	log    *logger.Logger
}

func NewWorker(cfg WorkerConfig, pool *pgxpool.Pool, rdb *redis.Client, log *logger.Logger) (*Worker, error) {
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

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	repo := repository.New(pool)
	mux := asynq.NewServeMux()
	w := &Worker{
		server: server,
		mux:    mux,
		repo:   repo,
		pub:    broadcast.New(rdb, repo, pool, log, cfg.GetBroadcastRecordTTL(), cfg.GetBroadcastStaleAfter()),
		limit:  cfg.GetPollSnapshotLimit(),
		log:    log,
	}

	mux.HandleFunc(TaskBroadcastSweep, w.handleBroadcastSweep)
	mux.HandleFunc(TaskTenantResync, w.handleTenantResync)

	return w, nil
}

func (w *Worker) handleBroadcastSweep(ctx context.Context, _ *asynq.Task) error {
	deleted, err := w.repo.SweepBroadcasts(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if deleted > 0 {
		w.log.Info("swept expired broadcast records", "deleted", deleted)
	}
	return nil
}

// handleTenantResync re-publishes every active lead's current stage for
// the tenant. Receivers treat these like any other broadcast, so their
// local projections converge immediately.
func (w *Worker) handleTenantResync(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseTenantResyncPayload(task)
	if err != nil {
		return err
	}
	tenantID, err := uuid.Parse(payload.TenantID)
	if err != nil {
		return err
	}

	snapshots, err := w.repo.TenantSnapshots(ctx, tenantID, w.limit)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, snap := range snapshots {
		event := domain.StageChangeEvent{
			TenantID:  snap.TenantID,
			LeadID:    snap.LeadID,
			NewStage:  snap.Stage,
			Origin:    domain.OriginResync,
			Timestamp: now,
		}
		if err := w.pub.Publish(ctx, event); err != nil {
			return err
		}
	}

	w.log.Info("tenant resync published", "tenant_id", tenantID, "leads", len(snapshots))
	return nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
