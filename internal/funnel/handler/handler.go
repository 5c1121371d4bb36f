// Package handler exposes the funnel context over HTTP.
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"funnel_sync_backend/internal/funnel/domain"
	"funnel_sync_backend/internal/funnel/service"
	"funnel_sync_backend/internal/funnel/transport"
	"funnel_sync_backend/platform/apperr"
	"funnel_sync_backend/platform/httpkit"
	"funnel_sync_backend/platform/validator"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"

	activityHorizon = 5 * time.Minute
)

// ResyncEnqueuer schedules a background resync for a tenant.
type ResyncEnqueuer interface {
	EnqueueTenantResync(tenantID string) error
}

// Handler handles HTTP requests for the funnel context.
type Handler struct {
	svc    *service.Service
	val    *validator.Validator
	resync ResyncEnqueuer
}

// New creates a new funnel handler. resync may be nil when no background
// worker is configured.
func New(svc *service.Service, val *validator.Validator, resync ResyncEnqueuer) *Handler {
	return &Handler{svc: svc, val: val, resync: resync}
}

// ApplyStage moves a lead to a target stage, creating it from the
// fallback record when the reference resolves to nothing.
// POST /api/v1/leads/:ref/stage
func (h *Handler) ApplyStage(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	var req transport.ApplyStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	result, err := h.svc.ApplyStage(
		c.Request.Context(),
		identity.TenantID(),
		c.Param("ref"),
		req.TargetStage,
		req.Fallback.Record(),
		h.origin(identity, req.Origin),
	)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.ApplyStageResponse{
		LeadID:        result.LeadID,
		StageChanged:  result.StageChanged,
		PreviousStage: string(result.PreviousStage),
		Created:       result.Created,
	})
}

// GetLead resolves an arbitrary lead reference and returns the lead.
// GET /api/v1/leads/:ref
func (h *Handler) GetLead(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	res, err := h.svc.Resolve(c.Request.Context(), identity.TenantID(), c.Param("ref"))
	if httpkit.HandleError(c, err) {
		return
	}
	if !res.Resolved() {
		httpkit.HandleError(c, apperr.NotFound("lead not found"))
		return
	}
	httpkit.OK(c, transport.NewLeadResponse(res))
}

// RecentActivity lists the tenant's stage changes from the propagation
// window.
// GET /api/v1/leads/activity
func (h *Handler) RecentActivity(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	events, err := h.svc.RecentActivity(c.Request.Context(), identity.TenantID(), activityHorizon)
	if httpkit.HandleError(c, err) {
		return
	}

	resp := transport.ActivityResponse{Events: make([]transport.ActivityEvent, 0, len(events))}
	for _, ev := range events {
		resp.Events = append(resp.Events, transport.ActivityEvent{
			LeadID:        ev.LeadID,
			NewStage:      string(ev.NewStage),
			PreviousStage: string(ev.PreviousStage),
			Origin:        string(ev.Origin),
			Timestamp:     ev.Timestamp.UTC().Format(time.RFC3339Nano),
		})
	}
	httpkit.OK(c, resp)
}

// TriggerResync schedules a background resync of the tenant's funnel.
// POST /api/v1/admin/funnel/resync
func (h *Handler) TriggerResync(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	if h.resync == nil {
		httpkit.Error(c, http.StatusServiceUnavailable, "resync unavailable", nil)
		return
	}
	if err := h.resync.EnqueueTenantResync(identity.TenantID().String()); err != nil {
		httpkit.Error(c, http.StatusServiceUnavailable, "failed to schedule resync", nil)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "scheduled"})
}

// origin decides the writer identity recorded on the change. Machine
// accounts may declare chatbot or board; user sessions are always api.
func (h *Handler) origin(identity httpkit.Identity, requested string) domain.Origin {
	if requested != "" && identity.IsService() {
		return domain.Origin(requested)
	}
	return domain.OriginAPI
}
