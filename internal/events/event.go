// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"funnel_sync_backend/internal/funnel/domain"
	"funnel_sync_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Funnel Domain Events
// =============================================================================

// StageChanged is published after a lead's funnel stage changed, whether
// through a direct apply, a broadcast receipt, or a poller diff.
type StageChanged struct {
	BaseEvent
	TenantID      uuid.UUID     `json:"tenantId"`
	LeadID        string        `json:"leadId"`
	NewStage      domain.Stage  `json:"newStage"`
	PreviousStage domain.Stage  `json:"previousStage,omitempty"`
	Origin        domain.Origin `json:"origin"`
}

func (e StageChanged) EventName() string { return "funnel.stage.changed" }

// LeadCreatedFromFallback is published when the upsert coordinator created
// a lead because the incoming reference matched nothing.
type LeadCreatedFromFallback struct {
	BaseEvent
	TenantID uuid.UUID    `json:"tenantId"`
	LeadID   string       `json:"leadId"`
	Stage    domain.Stage `json:"stage"`
	Source   string       `json:"source,omitempty"`
}

func (e LeadCreatedFromFallback) EventName() string { return "funnel.lead.created_fallback" }
