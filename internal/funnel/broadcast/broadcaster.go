package broadcast

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"funnel_sync_backend/internal/funnel/domain"
	"funnel_sync_backend/internal/funnel/repository"
	"funnel_sync_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix  = "funnel:stage:"
	channelPattern = channelPrefix + "*"

	listenRetryDelay = time.Second
)

// ChannelFor returns the Redis pub/sub channel carrying a tenant's stage
// changes.
func ChannelFor(tenantID uuid.UUID) string {
	return channelPrefix + tenantID.String()
}

// Broadcaster fans stage change events out to other processes over two
// channels: Redis pub/sub as the fast path and a durable, self-expiring
// Postgres record (raised via pg_notify) as the fallback. Every publish
// goes to both; subscribers merge the streams and deduplicate, so losing
// either channel degrades latency, not correctness.
type Broadcaster struct {
	redis      *redis.Client
	store      repository.BroadcastStore
	pool       *pgxpool.Pool
	log        *logger.Logger
	recordTTL  time.Duration
	staleAfter time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

func New(rdb *redis.Client, store repository.BroadcastStore, pool *pgxpool.Pool, log *logger.Logger, recordTTL, staleAfter time.Duration) *Broadcaster {
	return &Broadcaster{
		redis:      rdb,
		store:      store,
		pool:       pool,
		log:        log,
		recordTTL:  recordTTL,
		staleAfter: staleAfter,
		seen:       make(map[string]time.Time),
	}
}

// Publish sends the event over both channels unconditionally. A failing
// channel is logged and tolerated; Publish errors only when neither
// channel accepted the event, since then nothing will carry it and only
// the reconciliation poller can converge the other processes.
func (b *Broadcaster) Publish(ctx context.Context, event domain.StageChangeEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	// Remember our own event so its echo from either channel is dropped.
	b.markSeen(event)

	var redisErr error
	if b.redis != nil {
		payload, err := json.Marshal(event)
		if err != nil {
			return err
		}
		redisErr = b.redis.Publish(ctx, ChannelFor(event.TenantID), payload).Err()
		if redisErr != nil && b.log != nil {
			b.log.BroadcastError("redis", redisErr)
		}
	}

	storeErr := b.store.InsertBroadcast(ctx, event, b.recordTTL)
	if storeErr != nil {
		if b.log != nil {
			b.log.BroadcastError("fallback", storeErr)
		}
		if b.redis == nil || redisErr != nil {
			return storeErr
		}
	}
	return nil
}

// Subscribe starts background readers on both channels and invokes
// handler once per logical event until ctx is cancelled. Duplicate
// deliveries and events older than the staleness horizon are dropped.
func (b *Broadcaster) Subscribe(ctx context.Context, handler func(context.Context, domain.StageChangeEvent)) {
	if b.redis != nil {
		go b.readRedis(ctx, handler)
	}
	if b.pool != nil {
		go b.readNotifications(ctx, handler)
	}
}

func (b *Broadcaster) readRedis(ctx context.Context, handler func(context.Context, domain.StageChangeEvent)) {
	sub := b.redis.PSubscribe(ctx, channelPattern)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			b.dispatch(ctx, []byte(msg.Payload), handler)
		}
	}
}

func (b *Broadcaster) readNotifications(ctx context.Context, handler func(context.Context, domain.StageChangeEvent)) {
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := repository.ListenConn(ctx, b.pool)
		if err != nil {
			if b.log != nil {
				b.log.BroadcastError("listen", err)
			}
			if !sleepCtx(ctx, listenRetryDelay) {
				return
			}
			continue
		}
		b.waitLoop(ctx, conn, handler)
	}
}

// waitLoop consumes notifications on one connection until it fails, then
// returns so the caller can reconnect.
func (b *Broadcaster) waitLoop(ctx context.Context, conn *pgxpool.Conn, handler func(context.Context, domain.StageChangeEvent)) {
	defer conn.Release()
	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil && b.log != nil {
				b.log.BroadcastError("listen", err)
			}
			return
		}
		b.dispatch(ctx, []byte(notification.Payload), handler)
	}
}

func (b *Broadcaster) dispatch(ctx context.Context, payload []byte, handler func(context.Context, domain.StageChangeEvent)) {
	var event domain.StageChangeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		if b.log != nil {
			b.log.BroadcastError("decode", err)
		}
		return
	}
	if event.LeadID == "" || strings.TrimSpace(string(event.NewStage)) == "" {
		return
	}
	if time.Since(event.Timestamp) > b.staleAfter {
		return
	}
	if !b.markSeen(event) {
		return
	}
	handler(ctx, event)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// markSeen records the event's dedupe key and reports whether it was new.
// Old entries are pruned opportunistically once past the staleness
// horizon, after which re-delivery is impossible anyway.
func (b *Broadcaster) markSeen(event domain.StageChangeEvent) bool {
	key := event.DedupeKey()
	now := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()
	for k, at := range b.seen {
		if now.Sub(at) > b.staleAfter {
			delete(b.seen, k)
		}
	}
	if _, dup := b.seen[key]; dup {
		return false
	}
	b.seen[key] = now
	return true
}
