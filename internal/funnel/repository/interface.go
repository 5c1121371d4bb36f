package repository

import (
	"context"

	"funnel_sync_backend/internal/funnel/domain"

	"github.com/google/uuid"
)

// Store is the durable-store surface the sync engine depends on. The
// pgx-backed Repository is the production implementation; tests use an
// in-memory fake.
type Store interface {
	// GetByID fetches a lead by canonical id. Returns ErrNotFound when no
	// row matches.
	GetByID(ctx context.Context, tenantID uuid.UUID, id string) (domain.Lead, error)

	// GetByAlias fetches a lead whose metadata alias field equals ref.
	// field must be one of the alias metadata keys.
	GetByAlias(ctx context.Context, tenantID uuid.UUID, field, ref string) (domain.Lead, error)

	// FindByContact returns all leads matching the given contact key,
	// most recently updated first. key is "email", "phone" or
	// "display_name"; value is compared for equality.
	FindByContact(ctx context.Context, tenantID uuid.UUID, key, value string) ([]domain.Lead, error)

	// UpdateStage conditionally sets the stage of the identified lead and
	// additively merges extra metadata. Returns the number of rows
	// affected; zero means the identity raced with a delete.
	UpdateStage(ctx context.Context, tenantID uuid.UUID, id string, stage domain.Stage, metadata map[string]any) (int64, error)

	// CreateLead inserts a new lead. Returns ErrDuplicate when another
	// writer created the same id concurrently.
	CreateLead(ctx context.Context, lead domain.Lead) error

	// RecentSnapshots returns lightweight stage snapshots ordered by
	// recency, bounded by limit, across all tenants.
	RecentSnapshots(ctx context.Context, limit int) ([]domain.Snapshot, error)

	// TenantSnapshots returns snapshots for a single tenant's active leads.
	TenantSnapshots(ctx context.Context, tenantID uuid.UUID, limit int) ([]domain.Snapshot, error)
}
