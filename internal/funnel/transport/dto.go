// Package transport defines the HTTP request and response shapes for the
// funnel context.
package transport

import (
	"funnel_sync_backend/internal/funnel/domain"
)

// ApplyStageRequest moves a lead to a target stage. LeadRef comes from
// the URL; the body carries the stage and an optional fallback record
// used only when the reference resolves to nothing.
type ApplyStageRequest struct {
	TargetStage string           `json:"targetStage" validate:"required,min=1,max=64"`
	Origin      string           `json:"origin" validate:"omitempty,oneof=api chatbot board"`
	Fallback    *FallbackRequest `json:"fallback" validate:"omitempty"`
}

// FallbackRequest carries the contact details to create a lead from when
// identity resolution finds no match.
type FallbackRequest struct {
	DisplayName string `json:"displayName" validate:"omitempty,max=255"`
	Email       string `json:"email" validate:"omitempty,email,max=255"`
	Phone       string `json:"phone" validate:"omitempty,max=32"`
	Source      string `json:"source" validate:"omitempty,max=64"`
}

// Record converts the request shape into the domain fallback record.
func (f *FallbackRequest) Record() *domain.FallbackRecord {
	if f == nil {
		return nil
	}
	return &domain.FallbackRecord{
		DisplayName: f.DisplayName,
		Email:       f.Email,
		Phone:       f.Phone,
		Source:      f.Source,
	}
}

// ApplyStageResponse reports the outcome of a stage apply.
type ApplyStageResponse struct {
	LeadID        string `json:"leadId"`
	StageChanged  bool   `json:"stageChanged"`
	PreviousStage string `json:"previousStage,omitempty"`
	Created       bool   `json:"created"`
}

// LeadResponse is the read-side representation of a lead.
type LeadResponse struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"displayName,omitempty"`
	Email       string         `json:"email,omitempty"`
	Phone       string         `json:"phone,omitempty"`
	Stage       string         `json:"stage"`
	MatchedVia  string         `json:"matchedVia"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ActivityResponse lists recent stage changes for a tenant.
type ActivityResponse struct {
	Events []ActivityEvent `json:"events"`
}

// ActivityEvent is one recent stage change.
type ActivityEvent struct {
	LeadID        string `json:"leadId"`
	NewStage      string `json:"newStage"`
	PreviousStage string `json:"previousStage,omitempty"`
	Origin        string `json:"origin"`
	Timestamp     string `json:"timestamp"`
}

// NewLeadResponse builds the read-side shape from a resolution.
func NewLeadResponse(res domain.Resolution) LeadResponse {
	lead := res.Lead
	return LeadResponse{
		ID:          lead.ID,
		DisplayName: lead.DisplayName,
		Email:       lead.Email,
		Phone:       lead.Phone,
		Stage:       string(lead.Stage),
		MatchedVia:  string(res.MatchedVia),
		Metadata:    lead.Metadata,
	}
}
