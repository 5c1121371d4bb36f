package domain

import (
	"time"

	"github.com/google/uuid"
)

// MatchedVia identifies which lookup path resolved a lead reference.
type MatchedVia string

const (
	MatchedDirect    MatchedVia = "direct-id"
	MatchedAliasDB   MatchedVia = "alias-db_id"
	MatchedAliasReal MatchedVia = "alias-real_id"
	MatchedAliasOrig MatchedVia = "alias-original_id"
	MatchedContact   MatchedVia = "contact-match"
	MatchedNone      MatchedVia = "none"
)

// Resolution is the outcome of resolving an arbitrary lead reference to a
// canonical identity. When MatchedVia is MatchedNone, Lead is nil and the
// caller decides between create and error.
type Resolution struct {
	CanonicalID string
	MatchedVia  MatchedVia
	Lead        *Lead
}

// Resolved reports whether the reference mapped to a canonical identity.
func (r Resolution) Resolved() bool {
	return r.MatchedVia != MatchedNone && r.MatchedVia != ""
}

// Origin identifies which writer produced a stage change.
type Origin string

const (
	OriginAPI       Origin = "api"
	OriginChatbot   Origin = "chatbot"
	OriginBoard     Origin = "board"
	OriginBroadcast Origin = "broadcast"
	OriginPoller    Origin = "poller"
	OriginResync    Origin = "resync"
)

// Internal reports whether the origin is one of the engine's own feedback
// paths. A governor veto is a silent no-op for internal origins and a
// surfaced error for external ones.
func (o Origin) Internal() bool {
	return o == OriginBroadcast || o == OriginPoller || o == OriginResync
}

// StageChangeEvent is the ephemeral message fanned out to other processes
// after a confirmed stage change. It is not persisted beyond the short
// propagation window; subscribers deduplicate by (LeadID, Timestamp).
type StageChangeEvent struct {
	TenantID      uuid.UUID `json:"tenantId"`
	LeadID        string    `json:"leadId"`
	NewStage      Stage     `json:"newStage"`
	PreviousStage Stage     `json:"previousStage,omitempty"`
	Origin        Origin    `json:"origin"`
	Timestamp     time.Time `json:"timestamp"`
}

// DedupeKey identifies the logical event across both broadcast channels.
func (e StageChangeEvent) DedupeKey() string {
	return e.LeadID + "@" + e.Timestamp.UTC().Format(time.RFC3339Nano)
}

// ApplyResult is the outcome of an upsert.
type ApplyResult struct {
	LeadID        string
	StageChanged  bool
	PreviousStage Stage
	Created       bool
	// RateLimited marks an apply skipped by the update-rate governor.
	// Internal callers treat this as success; the HTTP layer surfaces it.
	RateLimited bool
}
