package service

import (
	"context"
	"sync"
	"testing"

	"funnel_sync_backend/internal/funnel/domain"
	"funnel_sync_backend/internal/funnel/governor"
	"funnel_sync_backend/internal/funnel/repository"
	"funnel_sync_backend/internal/funnel/state"
	"funnel_sync_backend/platform/apperr"

	"github.com/google/uuid"
)

// fakeStore is an in-memory Store used to exercise the coordinator
// protocol without a database.
type fakeStore struct {
	mu    sync.Mutex
	leads map[string]domain.Lead

	createCalls int
	updateCalls int
	// failNextCreate makes the next CreateLead report a duplicate, as if
	// another writer won the race.
	failNextCreate bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{leads: make(map[string]domain.Lead)}
}

func (f *fakeStore) put(lead domain.Lead) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lead.Metadata == nil {
		lead.Metadata = map[string]any{}
	}
	f.leads[lead.ID] = lead
}

func (f *fakeStore) get(id string) domain.Lead {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leads[id]
}

func (f *fakeStore) GetByID(_ context.Context, tenantID uuid.UUID, id string) (domain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lead, ok := f.leads[id]
	if !ok || lead.TenantID != tenantID {
		return domain.Lead{}, repository.ErrNotFound
	}
	return lead, nil
}

func (f *fakeStore) GetByAlias(_ context.Context, tenantID uuid.UUID, field, ref string) (domain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, lead := range f.leads {
		if lead.TenantID != tenantID {
			continue
		}
		if value, ok := lead.Metadata[field].(string); ok && value == ref {
			return lead, nil
		}
	}
	return domain.Lead{}, repository.ErrNotFound
}

func (f *fakeStore) FindByContact(_ context.Context, tenantID uuid.UUID, key, value string) ([]domain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	matches := make([]domain.Lead, 0)
	for _, lead := range f.leads {
		if lead.TenantID != tenantID {
			continue
		}
		var field string
		switch key {
		case "email":
			field = lead.Email
		case "phone":
			field = lead.Phone
		case "display_name":
			field = lead.DisplayName
		}
		if field != "" && field == value {
			matches = append(matches, lead)
		}
	}
	return matches, nil
}

func (f *fakeStore) UpdateStage(_ context.Context, tenantID uuid.UUID, id string, stage domain.Stage, metadata map[string]any) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	lead, ok := f.leads[id]
	if !ok || lead.TenantID != tenantID {
		return 0, nil
	}
	lead.Stage = stage
	for k, v := range metadata {
		lead.Metadata[k] = v
	}
	f.leads[id] = lead
	return 1, nil
}

func (f *fakeStore) CreateLead(_ context.Context, lead domain.Lead) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.failNextCreate {
		f.failNextCreate = false
		return repository.ErrDuplicate
	}
	if _, exists := f.leads[lead.ID]; exists {
		return repository.ErrDuplicate
	}
	if lead.Metadata == nil {
		lead.Metadata = map[string]any{}
	}
	f.leads[lead.ID] = lead
	return nil
}

func (f *fakeStore) RecentSnapshots(_ context.Context, limit int) ([]domain.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snaps := make([]domain.Snapshot, 0, len(f.leads))
	for _, lead := range f.leads {
		snaps = append(snaps, domain.Snapshot{
			TenantID:    lead.TenantID,
			LeadID:      lead.ID,
			Stage:       lead.Stage,
			DisplayName: lead.DisplayName,
		})
		if len(snaps) == limit {
			break
		}
	}
	return snaps, nil
}

func (f *fakeStore) TenantSnapshots(ctx context.Context, tenantID uuid.UUID, limit int) ([]domain.Snapshot, error) {
	all, err := f.RecentSnapshots(ctx, limit)
	if err != nil {
		return nil, err
	}
	snaps := make([]domain.Snapshot, 0)
	for _, snap := range all {
		if snap.TenantID == tenantID {
			snaps = append(snaps, snap)
		}
	}
	return snaps, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.StageChangeEvent
}

func (p *fakePublisher) Publish(_ context.Context, event domain.StageChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func newTestService(store *fakeStore, opts ...governor.Option) (*Service, *fakePublisher) {
	pub := &fakePublisher{}
	gov := governor.New(append([]governor.Option{
		governor.WithMinInterval(0),
		governor.WithMaxPerWindow(1000),
	}, opts...)...)
	resolver := NewResolver(store, nil)
	svc := New(store, resolver, gov, pub, nil, state.New(), nil)
	return svc, pub
}

var testTenant = uuid.MustParse("7b1e3f04-6f43-4b1c-9e8a-2f60de1e1c11")

func seedLead(store *fakeStore, id string, stage domain.Stage, metadata map[string]any) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	store.put(domain.Lead{
		ID:       id,
		TenantID: testTenant,
		Stage:    stage,
		Metadata: metadata,
	})
}

func TestApplyStageViaAliasThenRepeatIsNoOp(t *testing.T) {
	store := newFakeStore()
	seedLead(store, "lead-1", domain.StageNew, map[string]any{domain.MetaDBID: "db-9"})
	svc, pub := newTestService(store)

	result, err := svc.ApplyStage(context.Background(), testTenant, "db-9", "prospecting", nil, domain.OriginAPI)
	if err != nil {
		t.Fatalf("ApplyStage: %v", err)
	}
	if result.LeadID != "lead-1" {
		t.Fatalf("expected alias to resolve to lead-1, got %q", result.LeadID)
	}
	if !result.StageChanged || result.PreviousStage != domain.StageNew {
		t.Fatalf("expected stage change from new, got %+v", result)
	}
	if pub.count() != 1 {
		t.Fatalf("expected 1 broadcast, got %d", pub.count())
	}

	repeat, err := svc.ApplyStage(context.Background(), testTenant, "db-9", "prospecting", nil, domain.OriginAPI)
	if err != nil {
		t.Fatalf("repeat ApplyStage: %v", err)
	}
	if repeat.StageChanged {
		t.Fatal("repeating the same apply must report stageChanged=false")
	}
	if pub.count() != 1 {
		t.Fatalf("idempotent re-apply must not broadcast, got %d events", pub.count())
	}
}

func TestApplyStageTerminalIdempotence(t *testing.T) {
	store := newFakeStore()
	seedLead(store, "lead-1", domain.StageConfirmed, nil)
	svc, _ := newTestService(store)

	updatesBefore := store.updateCalls
	result, err := svc.ApplyStage(context.Background(), testTenant, "lead-1", "confirmado", nil, domain.OriginAPI)
	if err != nil {
		t.Fatalf("ApplyStage: %v", err)
	}
	if result.StageChanged {
		t.Fatal("re-applying a terminal stage must be a no-op")
	}
	if store.updateCalls != updatesBefore {
		t.Fatal("terminal re-apply must not issue a write")
	}
}

func TestFallbackCreateDeterminism(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	fallback := &domain.FallbackRecord{DisplayName: "Jane Doe", Email: "jane@x.com"}

	result, err := svc.ApplyStage(context.Background(), testTenant, "ghost-42", "confirmado", fallback, domain.OriginChatbot)
	if err != nil {
		t.Fatalf("ApplyStage: %v", err)
	}
	if !result.Created || result.LeadID != "ghost-42" {
		t.Fatalf("expected a created lead with id ghost-42, got %+v", result)
	}

	lead := store.get("ghost-42")
	if lead.Stage != domain.StageConfirmed {
		t.Fatalf("expected stage confirmed, got %q", lead.Stage)
	}
	if lead.Metadata[domain.MetaHasAppointment] != true {
		t.Fatal("transition to confirmed must set has_appointment")
	}
	if lead.Metadata[domain.MetaOriginalLeadID] != "ghost-42" {
		t.Fatal("fallback create must stamp original_lead_id with the caller's reference")
	}
	if lead.Metadata[domain.MetaCreatedFrom] != "fallback" {
		t.Fatal("fallback create must stamp created_from")
	}

	// Second apply with the same ref must update, never create a twin.
	again, err := svc.ApplyStage(context.Background(), testTenant, "ghost-42", "cerrado", fallback, domain.OriginChatbot)
	if err != nil {
		t.Fatalf("second ApplyStage: %v", err)
	}
	if again.Created {
		t.Fatal("second apply for the same ref must not create")
	}
	if store.createCalls != 1 {
		t.Fatalf("expected exactly one create, got %d", store.createCalls)
	}
	if store.get("ghost-42").Metadata[domain.MetaIsActive] != false {
		t.Fatal("transition to closed must set is_active=false")
	}
}

func TestTerminalSideEffectPreservesMetadata(t *testing.T) {
	store := newFakeStore()
	seedLead(store, "lead-1", domain.StageOpportunity, map[string]any{
		"campaign": "spring",
		domain.MetaDBID: "db-7",
	})
	svc, _ := newTestService(store)

	if _, err := svc.ApplyStage(context.Background(), testTenant, "lead-1", "confirmed", nil, domain.OriginBoard); err != nil {
		t.Fatalf("ApplyStage: %v", err)
	}

	metadata := store.get("lead-1").Metadata
	if metadata[domain.MetaHasAppointment] != true {
		t.Fatal("expected has_appointment=true")
	}
	if metadata["campaign"] != "spring" || metadata[domain.MetaDBID] != "db-7" {
		t.Fatalf("metadata merge dropped unrelated keys: %v", metadata)
	}
}

func TestNoFallbackNoMatchIsNotFound(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)

	_, err := svc.ApplyStage(context.Background(), testTenant, "ghost-1", "prospecting", nil, domain.OriginAPI)
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestUnknownStageIsInvalid(t *testing.T) {
	store := newFakeStore()
	seedLead(store, "lead-1", domain.StageNew, nil)
	svc, _ := newTestService(store)

	_, err := svc.ApplyStage(context.Background(), testTenant, "lead-1", "etapa_experimental", nil, domain.OriginAPI)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected Validation, got %v", err)
	}
}

func TestMalformedRefIsInvalid(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)

	for _, ref := range []string{"", "undefined", "null", "[object Object]"} {
		_, err := svc.ApplyStage(context.Background(), testTenant, ref, "prospecting", nil, domain.OriginAPI)
		if !apperr.Is(err, apperr.KindValidation) {
			t.Fatalf("ref %q: expected Validation, got %v", ref, err)
		}
	}
}

func TestCreateRaceRetriesViaContactMatch(t *testing.T) {
	store := newFakeStore()
	// The concurrent winner created the lead under a different id but the
	// same contact details.
	store.put(domain.Lead{
		ID:       "winner-7",
		TenantID: testTenant,
		Email:    "jane@x.com",
		Stage:    domain.StageNew,
		Metadata: map[string]any{},
	})
	store.failNextCreate = true
	svc, _ := newTestService(store)

	fallback := &domain.FallbackRecord{DisplayName: "Jane Doe", Email: "jane@x.com"}
	result, err := svc.ApplyStage(context.Background(), testTenant, "ghost-9", "oportunidad", fallback, domain.OriginChatbot)
	if err != nil {
		t.Fatalf("ApplyStage: %v", err)
	}
	if result.Created {
		t.Fatal("race retry must reconcile, not create")
	}
	if result.LeadID != "winner-7" {
		t.Fatalf("expected contact match to pick winner-7, got %q", result.LeadID)
	}
	if store.get("winner-7").Stage != domain.StageOpportunity {
		t.Fatal("expected the raced lead to carry the requested stage")
	}
}

func TestCreateRaceWithoutContactMatchIsConflict(t *testing.T) {
	store := newFakeStore()
	store.failNextCreate = true
	svc, _ := newTestService(store)

	fallback := &domain.FallbackRecord{DisplayName: "Nobody Known"}
	_, err := svc.ApplyStage(context.Background(), testTenant, "ghost-9", "oportunidad", fallback, domain.OriginChatbot)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

func TestGovernorBoundsApplies(t *testing.T) {
	store := newFakeStore()
	seedLead(store, "lead-1", domain.StageNew, nil)
	svc, _ := newTestService(store, governor.WithMaxPerWindow(10))

	// Alternate between two stages so every accepted apply is a real write.
	stages := []string{"prospecting", "new"}
	applied := 0
	for i := 0; i < 12; i++ {
		result, err := svc.ApplyStage(context.Background(), testTenant, "lead-1", stages[i%2], nil, domain.OriginBroadcast)
		if err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
		if result.StageChanged {
			applied++
		}
	}
	if applied > 10 {
		t.Fatalf("governor must cap applies at 10, got %d", applied)
	}
}

func TestGovernorVetoSurfacesForExternalCallers(t *testing.T) {
	store := newFakeStore()
	seedLead(store, "lead-1", domain.StageNew, nil)
	svc, _ := newTestService(store, governor.WithMaxPerWindow(1))

	if _, err := svc.ApplyStage(context.Background(), testTenant, "lead-1", "prospecting", nil, domain.OriginAPI); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	_, err := svc.ApplyStage(context.Background(), testTenant, "lead-1", "qualification", nil, domain.OriginAPI)
	if !apperr.Is(err, apperr.KindRateLimited) {
		t.Fatalf("expected RateLimited for external caller, got %v", err)
	}

	// The same veto is a silent no-op for internal origins.
	result, err := svc.ApplyStage(context.Background(), testTenant, "lead-1", "qualification", nil, domain.OriginPoller)
	if err != nil {
		t.Fatalf("internal apply: %v", err)
	}
	if !result.RateLimited || result.StageChanged {
		t.Fatalf("expected a silent rate-limited no-op, got %+v", result)
	}
}

func TestApplyLocalDeduplicatesAndGates(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)

	event := domain.StageChangeEvent{
		TenantID: testTenant,
		LeadID:   "lead-1",
		NewStage: domain.StageProspecting,
		Origin:   domain.OriginBroadcast,
	}
	svc.ApplyLocal(context.Background(), event)

	known, ok := svc.state.LastKnown(testTenant, "lead-1")
	if !ok || known.Stage != domain.StageProspecting {
		t.Fatalf("expected local projection to move to prospecting, got %+v", known)
	}

	// Re-delivery of the same logical event is a no-op.
	svc.ApplyLocal(context.Background(), event)
	known, _ = svc.state.LastKnown(testTenant, "lead-1")
	if known.Stage != domain.StageProspecting {
		t.Fatal("duplicate delivery must not change the projection")
	}
}
