package domain

import (
	"time"

	"github.com/google/uuid"
)

// Metadata keys written by this engine. Metadata merges are additive: an
// update must never drop unrelated keys already present on the lead.
const (
	MetaOriginalLeadID    = "original_lead_id"
	MetaDBID              = "db_id"
	MetaRealID            = "real_id"
	MetaCreatedFrom       = "created_from"
	MetaUpdatedVia        = "updated_via"
	MetaHasAppointment    = "has_appointment"
	MetaIsActive          = "is_active"
	MetaIsDeleted         = "is_deleted"
	MetaRemovedFromFunnel = "removed_from_funnel"
)

// Lead is the canonical business entity tracked through the funnel.
// The id is opaque: historically UUID-shaped but not guaranteed. Alias
// identity strings live in Metadata under db_id / real_id /
// original_lead_id and are append-only for the life of the lead.
type Lead struct {
	ID          string
	TenantID    uuid.UUID
	DisplayName string
	Email       string
	Phone       string
	Stage       Stage
	Metadata    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Snapshot is the lightweight projection the reconciliation poller diffs.
type Snapshot struct {
	TenantID    uuid.UUID
	LeadID      string
	Stage       Stage
	DisplayName string
	UpdatedAt   time.Time
}

// FallbackRecord carries the minimal lead data a caller may supply so the
// coordinator can create a lead when the reference resolves to nothing.
type FallbackRecord struct {
	DisplayName string
	Email       string
	Phone       string
	Source      string
}

// Empty reports whether the record carries no usable matching key.
func (f *FallbackRecord) Empty() bool {
	return f == nil || (f.DisplayName == "" && f.Email == "" && f.Phone == "")
}
