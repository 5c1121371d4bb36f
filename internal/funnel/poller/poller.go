// Package poller implements the reconciliation loop that converges this
// process with stage changes performed by other writers. Broadcasts are
// the fast path; the poller is the safety net that catches anything the
// broadcast channels dropped.
package poller

import (
	"context"
	"time"

	"funnel_sync_backend/internal/funnel/domain"
	"funnel_sync_backend/internal/funnel/state"
	"funnel_sync_backend/platform/logger"
)

// SnapshotSource provides the recently active leads to diff against the
// local projection.
type SnapshotSource interface {
	RecentSnapshots(ctx context.Context, limit int) ([]domain.Snapshot, error)
}

// Applier consumes the stage changes the poller detects.
type Applier interface {
	ApplyLocal(ctx context.Context, event domain.StageChangeEvent)
}

type Poller struct {
	source  SnapshotSource
	applier Applier
	state   *state.SyncState
	log     *logger.Logger

	interval     time.Duration
	fetchTimeout time.Duration
	limit        int

	// warmed flips after the first successful tick. The first snapshot
	// only seeds the projection; emitting diffs against an empty
	// projection after a restart would replay every lead as a change.
	warmed bool
}

func New(source SnapshotSource, applier Applier, syncState *state.SyncState, log *logger.Logger, interval, fetchTimeout time.Duration, limit int) *Poller {
	return &Poller{
		source:       source,
		applier:      applier,
		state:        syncState,
		log:          log,
		interval:     interval,
		fetchTimeout: fetchTimeout,
		limit:        limit,
	}
}

// Run ticks until ctx is cancelled. A failed fetch skips the tick; the
// next one starts from a fresh timeout.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick fetches one snapshot batch and applies the differences against
// the local projection.
func (p *Poller) Tick(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	snapshots, err := p.source.RecentSnapshots(fetchCtx, p.limit)
	if err != nil {
		if p.log != nil {
			p.log.PollTickFailed(err)
		}
		return
	}

	warming := !p.warmed
	p.warmed = true

	for _, snap := range snapshots {
		if warming {
			p.state.Observe(snap.TenantID, snap.LeadID, snap.Stage, snap.DisplayName)
			continue
		}
		known, ok := p.state.LastKnown(snap.TenantID, snap.LeadID)
		if ok && known.Stage == snap.Stage {
			if known.DisplayName != snap.DisplayName {
				p.state.Observe(snap.TenantID, snap.LeadID, snap.Stage, snap.DisplayName)
			}
			continue
		}
		event := domain.StageChangeEvent{
			TenantID:  snap.TenantID,
			LeadID:    snap.LeadID,
			NewStage:  snap.Stage,
			Origin:    domain.OriginPoller,
			Timestamp: time.Now().UTC(),
		}
		if ok {
			event.PreviousStage = known.Stage
		}
		p.applier.ApplyLocal(ctx, event)
		p.state.Observe(snap.TenantID, snap.LeadID, snap.Stage, snap.DisplayName)
	}
}
