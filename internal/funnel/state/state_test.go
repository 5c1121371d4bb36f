package state

import (
	"testing"

	"funnel_sync_backend/internal/funnel/domain"

	"github.com/google/uuid"
)

var tenantA = uuid.MustParse("0d6f9f1a-2222-4c3d-9e0f-6a7b8c9d0e1f")
var tenantB = uuid.MustParse("1e7f0a2b-3333-4d4e-af10-7b8c9d0e1f2a")

func TestObserveAndLastKnown(t *testing.T) {
	s := New()

	if _, ok := s.LastKnown(tenantA, "lead-1"); ok {
		t.Fatal("unobserved lead must be unknown")
	}

	s.Observe(tenantA, "lead-1", domain.StageNew, "Jane")
	known, ok := s.LastKnown(tenantA, "lead-1")
	if !ok || known.Stage != domain.StageNew || known.DisplayName != "Jane" {
		t.Fatalf("unexpected projection: %+v", known)
	}
}

func TestTenantsAreIsolated(t *testing.T) {
	s := New()
	s.Observe(tenantA, "lead-1", domain.StageNew, "")

	if _, ok := s.LastKnown(tenantB, "lead-1"); ok {
		t.Fatal("same lead id under another tenant must be unknown")
	}
}

func TestChangedComparesStageAndName(t *testing.T) {
	s := New()
	s.Observe(tenantA, "lead-1", domain.StageNew, "Jane")

	if s.Changed(tenantA, "lead-1", domain.StageNew, "Jane") {
		t.Fatal("identical projection must not report changed")
	}
	if !s.Changed(tenantA, "lead-1", domain.StageProspecting, "Jane") {
		t.Fatal("stage move must report changed")
	}
	if !s.Changed(tenantA, "lead-1", domain.StageNew, "Janet") {
		t.Fatal("rename must report changed")
	}
	if !s.Changed(tenantA, "lead-2", domain.StageNew, "") {
		t.Fatal("unobserved lead must report changed")
	}
}

func TestStageChangedIgnoresName(t *testing.T) {
	s := New()
	s.Observe(tenantA, "lead-1", domain.StageNew, "Jane")

	if s.StageChanged(tenantA, "lead-1", domain.StageNew) {
		t.Fatal("same stage must not report changed regardless of name")
	}
	if !s.StageChanged(tenantA, "lead-1", domain.StageConfirmed) {
		t.Fatal("stage move must report changed")
	}
}

func TestLen(t *testing.T) {
	s := New()
	s.Observe(tenantA, "lead-1", domain.StageNew, "")
	s.Observe(tenantA, "lead-1", domain.StageProspecting, "")
	s.Observe(tenantB, "lead-1", domain.StageNew, "")

	if s.Len() != 2 {
		t.Fatalf("expected 2 observed leads, got %d", s.Len())
	}
}
