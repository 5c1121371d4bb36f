package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"funnel_sync_backend/internal/funnel/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotifyChannel is the Postgres notification channel the durable fallback
// publishes on. Subscribers LISTEN here and receive the event payload
// without polling the table.
const NotifyChannel = "stage_broadcasts"

// BroadcastRecord is a durable, self-expiring copy of a stage change
// event. It exists so processes without a live subscription at publish
// time can still observe the change; readers ignore records older than
// the configured staleness horizon.
type BroadcastRecord struct {
	ID          uuid.UUID
	Event       domain.StageChangeEvent
	PublishedAt time.Time
	ExpiresAt   time.Time
}

// BroadcastStore persists fallback-channel records.
type BroadcastStore interface {
	InsertBroadcast(ctx context.Context, event domain.StageChangeEvent, ttl time.Duration) error
	RecentBroadcasts(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]domain.StageChangeEvent, error)
	SweepBroadcasts(ctx context.Context, olderThan time.Time) (int64, error)
}

// InsertBroadcast writes the durable record and raises a pg_notify on the
// same connection so listening processes get the payload immediately.
func (r *Repository) InsertBroadcast(ctx context.Context, event domain.StageChangeEvent, ttl time.Duration) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode broadcast payload: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO stage_broadcasts (id, tenant_id, lead_id, new_stage, previous_stage, origin, published_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		uuid.New(), event.TenantID, event.LeadID, string(event.NewStage),
		string(event.PreviousStage), string(event.Origin),
		event.Timestamp, event.Timestamp.Add(ttl),
	)
	if err != nil {
		return err
	}

	if _, err = tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, string(payload)); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// RecentBroadcasts returns non-stale fallback records for a tenant, oldest
// first, for late readers backfilling on connect.
func (r *Repository) RecentBroadcasts(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]domain.StageChangeEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT tenant_id, lead_id, new_stage, previous_stage, origin, published_at
		FROM stage_broadcasts
		WHERE tenant_id = $1 AND published_at >= $2
		ORDER BY published_at ASC
	`, tenantID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.StageChangeEvent, 0)
	for rows.Next() {
		var ev domain.StageChangeEvent
		var newStage, prevStage, origin string
		if err := rows.Scan(&ev.TenantID, &ev.LeadID, &newStage, &prevStage, &origin, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.NewStage = domain.Stage(newStage)
		ev.PreviousStage = domain.Stage(prevStage)
		ev.Origin = domain.Origin(origin)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// SweepBroadcasts deletes expired records. The worker runs this
// periodically; correctness does not depend on it since readers filter by
// publish time anyway.
func (r *Repository) SweepBroadcasts(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM stage_broadcasts
		WHERE expires_at < $1
	`, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListenConn acquires a dedicated connection subscribed to NotifyChannel.
// The caller owns the returned connection and must Release it.
func ListenConn(ctx context.Context, pool *pgxpool.Pool) (*pgxpool.Conn, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, `LISTEN `+NotifyChannel); err != nil {
		conn.Release()
		return nil, err
	}
	return conn, nil
}

var _ BroadcastStore = (*Repository)(nil)
