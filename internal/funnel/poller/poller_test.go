package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"funnel_sync_backend/internal/funnel/domain"
	"funnel_sync_backend/internal/funnel/state"

	"github.com/google/uuid"
)

type fakeSource struct {
	mu        sync.Mutex
	snapshots []domain.Snapshot
	err       error
}

func (f *fakeSource) RecentSnapshots(context.Context, int) ([]domain.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.Snapshot, len(f.snapshots))
	copy(out, f.snapshots)
	return out, nil
}

func (f *fakeSource) set(snapshots []domain.Snapshot, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = snapshots
	f.err = err
}

type recordingApplier struct {
	mu     sync.Mutex
	events []domain.StageChangeEvent
}

func (r *recordingApplier) ApplyLocal(_ context.Context, event domain.StageChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingApplier) all() []domain.StageChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.StageChangeEvent, len(r.events))
	copy(out, r.events)
	return out
}

var pollTenant = uuid.MustParse("4f8a1f3e-1111-4f7c-8b3c-0a9d5a2b6c01")

func snap(leadID string, stage domain.Stage) domain.Snapshot {
	return domain.Snapshot{TenantID: pollTenant, LeadID: leadID, Stage: stage, DisplayName: "Lead " + leadID}
}

func newPoller(source *fakeSource, applier *recordingApplier) (*Poller, *state.SyncState) {
	syncState := state.New()
	p := New(source, applier, syncState, nil, time.Second, 5*time.Second, 500)
	return p, syncState
}

func TestFirstTickOnlySeedsProjection(t *testing.T) {
	source := &fakeSource{}
	source.set([]domain.Snapshot{snap("lead-1", domain.StageNew), snap("lead-2", domain.StageOpportunity)}, nil)
	applier := &recordingApplier{}
	p, syncState := newPoller(source, applier)

	p.Tick(context.Background())

	if len(applier.all()) != 0 {
		t.Fatalf("warm-up tick must not emit changes, got %d", len(applier.all()))
	}
	if syncState.Len() != 2 {
		t.Fatalf("warm-up tick must seed the projection, got %d leads", syncState.Len())
	}
}

func TestDetectsStageChangeAfterWarmup(t *testing.T) {
	source := &fakeSource{}
	source.set([]domain.Snapshot{snap("lead-1", domain.StageNew)}, nil)
	applier := &recordingApplier{}
	p, _ := newPoller(source, applier)

	p.Tick(context.Background())
	source.set([]domain.Snapshot{snap("lead-1", domain.StageProspecting)}, nil)
	p.Tick(context.Background())

	events := applier.all()
	if len(events) != 1 {
		t.Fatalf("expected 1 detected change, got %d", len(events))
	}
	if events[0].LeadID != "lead-1" || events[0].NewStage != domain.StageProspecting {
		t.Fatalf("unexpected event: %+v", events[0])
	}
	if events[0].PreviousStage != domain.StageNew {
		t.Fatalf("expected previous stage new, got %q", events[0].PreviousStage)
	}
	if events[0].Origin != domain.OriginPoller {
		t.Fatalf("expected poller origin, got %q", events[0].Origin)
	}
}

func TestUnchangedSnapshotsEmitNothing(t *testing.T) {
	source := &fakeSource{}
	source.set([]domain.Snapshot{snap("lead-1", domain.StageNew)}, nil)
	applier := &recordingApplier{}
	p, _ := newPoller(source, applier)

	p.Tick(context.Background())
	p.Tick(context.Background())
	p.Tick(context.Background())

	if len(applier.all()) != 0 {
		t.Fatalf("unchanged snapshots must emit nothing, got %d", len(applier.all()))
	}
}

func TestNewLeadAfterWarmupIsEmitted(t *testing.T) {
	source := &fakeSource{}
	source.set([]domain.Snapshot{snap("lead-1", domain.StageNew)}, nil)
	applier := &recordingApplier{}
	p, _ := newPoller(source, applier)

	p.Tick(context.Background())
	source.set([]domain.Snapshot{snap("lead-1", domain.StageNew), snap("lead-2", domain.StageQualification)}, nil)
	p.Tick(context.Background())

	events := applier.all()
	if len(events) != 1 {
		t.Fatalf("expected 1 event for the new lead, got %d", len(events))
	}
	if events[0].LeadID != "lead-2" || events[0].PreviousStage != "" {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestFailedFetchSkipsTick(t *testing.T) {
	source := &fakeSource{}
	source.set([]domain.Snapshot{snap("lead-1", domain.StageNew)}, nil)
	applier := &recordingApplier{}
	p, _ := newPoller(source, applier)

	p.Tick(context.Background())
	source.set(nil, errors.New("connection refused"))
	p.Tick(context.Background())

	// The failure must not poison the loop; the next good tick still
	// detects changes.
	source.set([]domain.Snapshot{snap("lead-1", domain.StageConfirmed)}, nil)
	p.Tick(context.Background())

	events := applier.all()
	if len(events) != 1 || events[0].NewStage != domain.StageConfirmed {
		t.Fatalf("expected recovery after failed tick, got %+v", events)
	}
}
