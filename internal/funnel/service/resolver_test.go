package service

import (
	"context"
	"testing"

	"funnel_sync_backend/internal/funnel/domain"
	"funnel_sync_backend/platform/apperr"
)

func TestValidateRefRejectsPlaceholders(t *testing.T) {
	for _, ref := range []string{"", "  ", "undefined", "NULL", "[object Object]", "[object HTMLElement]"} {
		if err := ValidateRef(ref); !apperr.Is(err, apperr.KindValidation) {
			t.Fatalf("ref %q: expected Validation, got %v", ref, err)
		}
	}
	for _, ref := range []string{"lead-1", "db-42", "7", "nullable-thing"} {
		if err := ValidateRef(ref); err != nil {
			t.Fatalf("ref %q: unexpected error %v", ref, err)
		}
	}
}

func TestResolveDirectIDWinsOverAlias(t *testing.T) {
	store := newFakeStore()
	seedLead(store, "lead-1", domain.StageNew, nil)
	// A second lead carries the other lead's id as an alias; the direct
	// match must still win.
	seedLead(store, "lead-2", domain.StageNew, map[string]any{domain.MetaDBID: "lead-1"})
	resolver := NewResolver(store, nil)

	res, err := resolver.Resolve(context.Background(), testTenant, "lead-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.CanonicalID != "lead-1" || res.MatchedVia != domain.MatchedDirect {
		t.Fatalf("expected direct match on lead-1, got %+v", res)
	}
}

func TestResolveAliasOrder(t *testing.T) {
	store := newFakeStore()
	seedLead(store, "lead-db", domain.StageNew, map[string]any{domain.MetaDBID: "shared-ref"})
	seedLead(store, "lead-orig", domain.StageNew, map[string]any{domain.MetaOriginalLeadID: "shared-ref"})
	resolver := NewResolver(store, nil)

	res, err := resolver.Resolve(context.Background(), testTenant, "shared-ref")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.CanonicalID != "lead-db" || res.MatchedVia != domain.MatchedAliasDB {
		t.Fatalf("db_id alias must take priority, got %+v", res)
	}
}

func TestResolveUnknownRefIsNotAnError(t *testing.T) {
	store := newFakeStore()
	resolver := NewResolver(store, nil)

	res, err := resolver.Resolve(context.Background(), testTenant, "ghost-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Resolved() {
		t.Fatalf("unknown ref must resolve to none, got %+v", res)
	}
}

func TestResolveByContactPrefersEmail(t *testing.T) {
	store := newFakeStore()
	store.put(domain.Lead{ID: "by-email", TenantID: testTenant, Email: "jane@x.com", Stage: domain.StageNew, Metadata: map[string]any{}})
	store.put(domain.Lead{ID: "by-name", TenantID: testTenant, DisplayName: "Jane Doe", Stage: domain.StageNew, Metadata: map[string]any{}})
	resolver := NewResolver(store, nil)

	res, err := resolver.ResolveByContact(context.Background(), testTenant, &domain.FallbackRecord{
		DisplayName: "Jane Doe",
		Email:       "Jane@X.com",
	})
	if err != nil {
		t.Fatalf("ResolveByContact: %v", err)
	}
	if res.CanonicalID != "by-email" || res.MatchedVia != domain.MatchedContact {
		t.Fatalf("email must outrank display name, got %+v", res)
	}
}

func TestResolveByContactFallsThroughToName(t *testing.T) {
	store := newFakeStore()
	store.put(domain.Lead{ID: "by-name", TenantID: testTenant, DisplayName: "Jane Doe", Stage: domain.StageNew, Metadata: map[string]any{}})
	resolver := NewResolver(store, nil)

	res, err := resolver.ResolveByContact(context.Background(), testTenant, &domain.FallbackRecord{
		DisplayName: "Jane Doe",
		Email:       "nobody@x.com",
	})
	if err != nil {
		t.Fatalf("ResolveByContact: %v", err)
	}
	if res.CanonicalID != "by-name" {
		t.Fatalf("expected display name match, got %+v", res)
	}
}

func TestResolveByContactEmptyRecord(t *testing.T) {
	store := newFakeStore()
	resolver := NewResolver(store, nil)

	res, err := resolver.ResolveByContact(context.Background(), testTenant, &domain.FallbackRecord{})
	if err != nil {
		t.Fatalf("ResolveByContact: %v", err)
	}
	if res.Resolved() {
		t.Fatalf("empty record must not match, got %+v", res)
	}
}
