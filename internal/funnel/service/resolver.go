package service

import (
	"context"
	"errors"
	"strings"

	"funnel_sync_backend/internal/funnel/domain"
	"funnel_sync_backend/internal/funnel/repository"
	"funnel_sync_backend/platform/apperr"
	"funnel_sync_backend/platform/logger"
	"funnel_sync_backend/platform/phone"

	"github.com/google/uuid"
)

// Resolver maps an arbitrary lead reference (canonical id or one of the
// historical alias fields) to a canonical lead identity. Lookup order is
// fixed: direct id, then db_id, real_id, original_lead_id aliases.
// Contact-based fuzzy matching is a separate entry point used only by the
// fallback-create path, never for read queries.
type Resolver struct {
	store repository.Store
	log   *logger.Logger
}

func NewResolver(store repository.Store, log *logger.Logger) *Resolver {
	return &Resolver{store: store, log: log}
}

// aliasOrder fixes the priority of alias lookups.
var aliasOrder = []struct {
	field      string
	matchedVia domain.MatchedVia
}{
	{domain.MetaDBID, domain.MatchedAliasDB},
	{domain.MetaRealID, domain.MatchedAliasReal},
	{domain.MetaOriginalLeadID, domain.MatchedAliasOrig},
}

// ValidateRef rejects structurally invalid lead references. These signal
// an upstream bug (a serializer leaking placeholders into an id field)
// and must fail fast rather than silently coerce.
func ValidateRef(leadRef string) error {
	trimmed := strings.TrimSpace(leadRef)
	if trimmed == "" {
		return apperr.Validation("lead reference is empty")
	}
	switch strings.ToLower(trimmed) {
	case "undefined", "null":
		return apperr.Validation("lead reference is a literal " + strings.ToLower(trimmed))
	}
	if strings.HasPrefix(trimmed, "[object ") && strings.HasSuffix(trimmed, "]") {
		return apperr.Validation("lead reference is a serialized object placeholder")
	}
	return nil
}

// Resolve maps leadRef to a canonical identity. A reference that matches
// nothing yields MatchedNone and no error; the caller decides between
// create and error.
func (r *Resolver) Resolve(ctx context.Context, tenantID uuid.UUID, leadRef string) (domain.Resolution, error) {
	if err := ValidateRef(leadRef); err != nil {
		return domain.Resolution{}, err
	}

	ref := strings.TrimSpace(leadRef)

	lead, err := r.store.GetByID(ctx, tenantID, ref)
	if err == nil {
		return domain.Resolution{CanonicalID: lead.ID, MatchedVia: domain.MatchedDirect, Lead: &lead}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return domain.Resolution{}, storeErr("resolve.direct", err)
	}

	for _, alias := range aliasOrder {
		lead, err := r.store.GetByAlias(ctx, tenantID, alias.field, ref)
		if err == nil {
			return domain.Resolution{CanonicalID: lead.ID, MatchedVia: alias.matchedVia, Lead: &lead}, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return domain.Resolution{}, storeErr("resolve.alias", err)
		}
	}

	return domain.Resolution{MatchedVia: domain.MatchedNone}, nil
}

// ResolveByContact fuzzy-matches a candidate record by email, then phone,
// then display name, taking the first match. Collisions are possible
// (two leads sharing a phone within a tenant); the deterministic
// first-match pick is a documented leniency, logged when more than one
// candidate matched.
func (r *Resolver) ResolveByContact(ctx context.Context, tenantID uuid.UUID, record *domain.FallbackRecord) (domain.Resolution, error) {
	if record.Empty() {
		return domain.Resolution{MatchedVia: domain.MatchedNone}, nil
	}

	keys := []struct {
		key   string
		value string
	}{
		{"email", strings.ToLower(strings.TrimSpace(record.Email))},
		{"phone", phone.NormalizeE164(record.Phone)},
		{"display_name", strings.TrimSpace(record.DisplayName)},
	}

	for _, candidate := range keys {
		if candidate.value == "" {
			continue
		}
		leads, err := r.store.FindByContact(ctx, tenantID, candidate.key, candidate.value)
		if err != nil {
			return domain.Resolution{}, storeErr("resolve.contact", err)
		}
		if len(leads) == 0 {
			continue
		}
		if len(leads) > 1 && r.log != nil {
			r.log.ResolutionAmbiguous(candidate.value, leads[0].ID, len(leads))
		}
		lead := leads[0]
		return domain.Resolution{CanonicalID: lead.ID, MatchedVia: domain.MatchedContact, Lead: &lead}, nil
	}

	return domain.Resolution{MatchedVia: domain.MatchedNone}, nil
}

func storeErr(op string, err error) error {
	return apperr.Wrap(apperr.KindUnavailable, "store unavailable", err).WithOp(op)
}
