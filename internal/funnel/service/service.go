// Package service implements the stage synchronization engine: identity
// resolution, duplicate-safe upsert of stage changes, and the local apply
// path used by the broadcast subscriber and the reconciliation poller.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"funnel_sync_backend/internal/events"
	"funnel_sync_backend/internal/funnel/domain"
	"funnel_sync_backend/internal/funnel/governor"
	"funnel_sync_backend/internal/funnel/repository"
	"funnel_sync_backend/internal/funnel/state"
	"funnel_sync_backend/platform/apperr"
	"funnel_sync_backend/platform/logger"
	"funnel_sync_backend/platform/phone"
	"funnel_sync_backend/platform/sanitize"

	"github.com/google/uuid"
)

// Publisher fans a confirmed stage change out to other processes.
type Publisher interface {
	Publish(ctx context.Context, event domain.StageChangeEvent) error
}

// Service coordinates stage changes against the durable store. The store
// is the only serialization point: updates are conditional, creates
// signal uniqueness conflicts, and no in-process lock is held across
// store calls.
type Service struct {
	store     repository.Store
	resolver  *Resolver
	governor  *governor.Governor
	publisher Publisher
	bus       events.Bus
	state     *state.SyncState
	log       *logger.Logger
}

func New(store repository.Store, resolver *Resolver, gov *governor.Governor, publisher Publisher, bus events.Bus, syncState *state.SyncState, log *logger.Logger) *Service {
	return &Service{
		store:     store,
		resolver:  resolver,
		governor:  gov,
		publisher: publisher,
		bus:       bus,
		state:     syncState,
		log:       log,
	}
}

// Resolve exposes identity resolution for read callers.
func (s *Service) Resolve(ctx context.Context, tenantID uuid.UUID, leadRef string) (domain.Resolution, error) {
	return s.resolver.Resolve(ctx, tenantID, leadRef)
}

// RecentActivity lists the tenant's non-stale broadcast records so a
// board UI can backfill missed changes on connect.
func (s *Service) RecentActivity(ctx context.Context, tenantID uuid.UUID, horizon time.Duration) ([]domain.StageChangeEvent, error) {
	bstore, ok := s.store.(repository.BroadcastStore)
	if !ok {
		return nil, nil
	}
	events, err := bstore.RecentBroadcasts(ctx, tenantID, time.Now().Add(-horizon))
	if err != nil {
		return nil, storeErr("activity.recent", err)
	}
	return events, nil
}

// ApplyStage performs update-else-create of a stage change:
//
//  1. Resolve the reference and try a conditional direct update.
//  2. On zero affected rows or no resolution, create a lead whose id
//     equals the original reference when a fallback record was supplied,
//     retrying exactly once via contact match if the create races.
//  3. Re-applying the current stage is a no-op, not an error.
//
// Each step awaits the previous one; the outcome decides whether the
// next runs.
func (s *Service) ApplyStage(ctx context.Context, tenantID uuid.UUID, leadRef string, targetLabel string, fallback *domain.FallbackRecord, origin domain.Origin) (domain.ApplyResult, error) {
	stage := domain.NormalizeStage(targetLabel)
	if !domain.IsKnownStage(stage) {
		return domain.ApplyResult{}, apperr.Validation("unknown target stage: " + targetLabel)
	}

	res, err := s.resolver.Resolve(ctx, tenantID, leadRef)
	if err != nil {
		return domain.ApplyResult{}, err
	}

	governorKey := strings.TrimSpace(leadRef)
	if res.Resolved() {
		governorKey = res.CanonicalID
	}

	if res.Resolved() && res.Lead.Stage == stage {
		// Idempotent re-apply, terminal or linear: no write.
		s.observe(tenantID, res.CanonicalID, stage, res.Lead.DisplayName)
		return domain.ApplyResult{
			LeadID:        res.CanonicalID,
			StageChanged:  false,
			PreviousStage: res.Lead.Stage,
		}, nil
	}

	if !s.governor.CanProceed(governorKey) {
		if s.log != nil {
			s.log.StageSkipped(leadRef, "rate_limited", string(origin))
		}
		if origin.Internal() {
			return domain.ApplyResult{LeadID: res.CanonicalID, RateLimited: true}, nil
		}
		return domain.ApplyResult{}, apperr.RateLimited("stage updates for this lead are being applied too fast")
	}

	if res.Resolved() {
		result, retry, err := s.updateResolved(ctx, tenantID, res, stage, origin)
		if err != nil {
			return domain.ApplyResult{}, err
		}
		if !retry {
			return result, nil
		}
		// The resolved row vanished under us (race with a delete, or an
		// alias pointing at a missing canonical row): fall through to the
		// create path.
	}

	return s.createFallback(ctx, tenantID, leadRef, stage, fallback, origin)
}

func (s *Service) updateResolved(ctx context.Context, tenantID uuid.UUID, res domain.Resolution, stage domain.Stage, origin domain.Origin) (domain.ApplyResult, bool, error) {
	patch := stagePatch(stage, origin)

	affected, err := s.store.UpdateStage(ctx, tenantID, res.CanonicalID, stage, patch)
	if err != nil {
		return domain.ApplyResult{}, false, storeErr("apply.update", err)
	}
	if affected == 0 {
		return domain.ApplyResult{}, true, nil
	}

	previous := res.Lead.Stage
	s.committed(ctx, tenantID, res.CanonicalID, stage, previous, res.Lead.DisplayName, origin, false)

	return domain.ApplyResult{
		LeadID:        res.CanonicalID,
		StageChanged:  true,
		PreviousStage: previous,
	}, false, nil
}

func (s *Service) createFallback(ctx context.Context, tenantID uuid.UUID, leadRef string, stage domain.Stage, fallback *domain.FallbackRecord, origin domain.Origin) (domain.ApplyResult, error) {
	if fallback == nil {
		return domain.ApplyResult{}, apperr.NotFound("no lead matches reference " + leadRef)
	}

	ref := strings.TrimSpace(leadRef)
	metadata := stagePatch(stage, origin)
	// Preserve the caller's reference so future lookups by the same ref
	// still resolve.
	metadata[domain.MetaOriginalLeadID] = ref
	metadata[domain.MetaCreatedFrom] = "fallback"
	if fallback.Source != "" {
		metadata["source"] = fallback.Source
	}

	lead := domain.Lead{
		ID:          ref,
		TenantID:    tenantID,
		DisplayName: sanitize.Text(fallback.DisplayName),
		Email:       strings.ToLower(strings.TrimSpace(fallback.Email)),
		Phone:       phone.NormalizeE164(fallback.Phone),
		Stage:       stage,
		Metadata:    metadata,
	}

	err := s.store.CreateLead(ctx, lead)
	if err == nil {
		s.committed(ctx, tenantID, lead.ID, stage, "", lead.DisplayName, origin, true)
		return domain.ApplyResult{
			LeadID:       lead.ID,
			StageChanged: true,
			Created:      true,
		}, nil
	}
	if !errors.Is(err, repository.ErrDuplicate) {
		return domain.ApplyResult{}, storeErr("apply.create", err)
	}

	// Another writer created the lead concurrently. Retry the update path
	// exactly once through a contact match against the fallback record.
	res, rerr := s.resolver.ResolveByContact(ctx, tenantID, fallback)
	if rerr != nil {
		return domain.ApplyResult{}, rerr
	}
	if !res.Resolved() {
		return domain.ApplyResult{}, apperr.Conflict("lead creation raced and no contact match found for " + leadRef)
	}

	if res.Lead.Stage == stage {
		s.observe(tenantID, res.CanonicalID, stage, res.Lead.DisplayName)
		return domain.ApplyResult{
			LeadID:        res.CanonicalID,
			StageChanged:  false,
			PreviousStage: res.Lead.Stage,
		}, nil
	}

	affected, uerr := s.store.UpdateStage(ctx, tenantID, res.CanonicalID, stage, stagePatch(stage, origin))
	if uerr != nil {
		return domain.ApplyResult{}, storeErr("apply.retry", uerr)
	}
	if affected == 0 {
		return domain.ApplyResult{}, apperr.Conflict("lead creation race could not be reconciled for " + leadRef)
	}

	previous := res.Lead.Stage
	s.committed(ctx, tenantID, res.CanonicalID, stage, previous, res.Lead.DisplayName, origin, false)
	return domain.ApplyResult{
		LeadID:        res.CanonicalID,
		StageChanged:  true,
		PreviousStage: previous,
	}, nil
}

// ApplyLocal replays an externally observed stage change into this
// process's projection without writing to the store (the store already
// holds the change). Both the broadcast subscriber and the poller call
// this; the governor keeps mutual observation from becoming a feedback
// storm.
func (s *Service) ApplyLocal(ctx context.Context, event domain.StageChangeEvent) {
	if !s.state.StageChanged(event.TenantID, event.LeadID, event.NewStage) {
		return
	}
	if !s.governor.CanProceed(event.LeadID) {
		if s.log != nil {
			s.log.StageSkipped(event.LeadID, "rate_limited", string(event.Origin))
		}
		return
	}

	s.governor.Record(event.LeadID)
	known, _ := s.state.LastKnown(event.TenantID, event.LeadID)
	s.state.Observe(event.TenantID, event.LeadID, event.NewStage, known.DisplayName)

	if s.bus != nil {
		s.bus.Publish(ctx, events.StageChanged{
			BaseEvent:     events.NewBaseEvent(),
			TenantID:      event.TenantID,
			LeadID:        event.LeadID,
			NewStage:      event.NewStage,
			PreviousStage: event.PreviousStage,
			Origin:        event.Origin,
		})
	}
}

// committed runs the bookkeeping shared by every successful write: the
// governor records the write, the local projection is updated, and the
// change fans out to other processes and in-process subscribers.
func (s *Service) committed(ctx context.Context, tenantID uuid.UUID, leadID string, stage, previous domain.Stage, displayName string, origin domain.Origin, created bool) {
	s.governor.Record(leadID)
	s.observe(tenantID, leadID, stage, displayName)

	if s.log != nil {
		s.log.StageApplied(leadID, string(previous), string(stage), string(origin), created)
	}

	event := domain.StageChangeEvent{
		TenantID:      tenantID,
		LeadID:        leadID,
		NewStage:      stage,
		PreviousStage: previous,
		Origin:        origin,
		Timestamp:     time.Now().UTC(),
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, event); err != nil && s.log != nil {
			// Broadcast delivery is best effort; the poller converges
			// any process that misses this.
			s.log.BroadcastError("publish", err)
		}
	}

	if s.bus != nil {
		s.bus.Publish(ctx, events.StageChanged{
			BaseEvent:     events.NewBaseEvent(),
			TenantID:      tenantID,
			LeadID:        leadID,
			NewStage:      stage,
			PreviousStage: previous,
			Origin:        origin,
		})
		if created {
			s.bus.Publish(ctx, events.LeadCreatedFromFallback{
				BaseEvent: events.NewBaseEvent(),
				TenantID:  tenantID,
				LeadID:    leadID,
				Stage:     stage,
			})
		}
	}
}

func (s *Service) observe(tenantID uuid.UUID, leadID string, stage domain.Stage, displayName string) {
	if s.state != nil {
		s.state.Observe(tenantID, leadID, stage, displayName)
	}
}

// stagePatch builds the additive metadata patch for a stage write,
// including the terminal side-effect flags.
func stagePatch(stage domain.Stage, origin domain.Origin) map[string]any {
	patch := map[string]any{
		domain.MetaUpdatedVia: string(origin),
	}
	switch stage {
	case domain.StageConfirmed:
		patch[domain.MetaHasAppointment] = true
	case domain.StageClosed:
		patch[domain.MetaIsActive] = false
	}
	return patch
}
