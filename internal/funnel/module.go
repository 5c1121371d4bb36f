// Package funnel provides the lead stage synchronization bounded context.
package funnel

import (
	"context"

	"funnel_sync_backend/internal/events"
	"funnel_sync_backend/internal/funnel/broadcast"
	"funnel_sync_backend/internal/funnel/domain"
	"funnel_sync_backend/internal/funnel/governor"
	"funnel_sync_backend/internal/funnel/handler"
	"funnel_sync_backend/internal/funnel/poller"
	"funnel_sync_backend/internal/funnel/repository"
	"funnel_sync_backend/internal/funnel/service"
	"funnel_sync_backend/internal/funnel/state"
	"funnel_sync_backend/internal/funnel/stream"
	apphttp "funnel_sync_backend/internal/http"
	"funnel_sync_backend/platform/config"
	"funnel_sync_backend/platform/httpkit"
	"funnel_sync_backend/platform/logger"
	"funnel_sync_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Module is the funnel bounded context module implementing http.Module.
type Module struct {
	handler     *handler.Handler
	service     *service.Service
	repo        *repository.Repository
	stream      *stream.Service
	broadcaster *broadcast.Broadcaster
	poller      *poller.Poller
}

// NewModule creates and initializes the funnel module. rdb may be nil;
// broadcasting then degrades to the durable fallback channel only.
func NewModule(pool *pgxpool.Pool, rdb *redis.Client, bus events.Bus, cfg config.SyncConfig, val *validator.Validator, log *logger.Logger, resync handler.ResyncEnqueuer) *Module {
	repo := repository.New(pool)

	gov := governor.New(
		governor.WithMinInterval(cfg.GetGovernorMinInterval()),
		governor.WithMaxPerWindow(cfg.GetGovernorMaxPerWindow()),
		governor.WithIdleTTL(cfg.GetGovernorIdleTTL()),
	)
	syncState := state.New()
	broadcaster := broadcast.New(rdb, repo, pool, log, cfg.GetBroadcastRecordTTL(), cfg.GetBroadcastStaleAfter())
	resolver := service.NewResolver(repo, log)
	svc := service.New(repo, resolver, gov, broadcaster, bus, syncState, log)
	p := poller.New(repo, svc, syncState, log, cfg.GetPollInterval(), cfg.GetPollFetchTimeout(), cfg.GetPollSnapshotLimit())

	return &Module{
		handler:     handler.New(svc, val, resync),
		service:     svc,
		repo:        repo,
		stream:      stream.New(log),
		broadcaster: broadcaster,
		poller:      p,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "funnel"
}

// Service returns the service layer for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// Repository returns the repository for direct access if needed.
func (m *Module) Repository() *repository.Repository {
	return m.repo
}

// Start launches the background synchronization loops: the broadcast
// subscriber and the reconciliation poller. Both stop when ctx is
// cancelled.
func (m *Module) Start(ctx context.Context) {
	m.broadcaster.Subscribe(ctx, func(ctx context.Context, event domain.StageChangeEvent) {
		m.service.ApplyLocal(ctx, event)
	})
	go m.poller.Run(ctx)
}

// RegisterRoutes mounts funnel routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	leads := ctx.Protected.Group("/leads")
	leads.POST("/:ref/stage", ctx.WriteRateLimiter.RateLimit(), m.handler.ApplyStage)
	leads.GET("/activity", m.handler.RecentActivity)
	leads.GET("/stream", m.stream.Handler(tenantFromContext))
	leads.GET("/:ref", m.handler.GetLead)

	ctx.Admin.POST("/funnel/resync", m.handler.TriggerResync)
}

// RegisterHandlers subscribes the SSE bridge to domain events.
func (m *Module) RegisterHandlers(bus *events.InMemoryBus) {
	bus.Subscribe(events.StageChanged{}.EventName(), m)
	bus.Subscribe(events.LeadCreatedFromFallback{}.EventName(), m)
}

// Handle routes domain events to connected SSE clients.
func (m *Module) Handle(_ context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.StageChanged:
		m.stream.Publish(e.TenantID, stream.Event{
			Type:          stream.EventStageChanged,
			LeadID:        e.LeadID,
			NewStage:      e.NewStage,
			PreviousStage: e.PreviousStage,
			Origin:        string(e.Origin),
		})
	case events.LeadCreatedFromFallback:
		m.stream.Publish(e.TenantID, stream.Event{
			Type:     stream.EventLeadCreated,
			LeadID:   e.LeadID,
			NewStage: e.Stage,
		})
	}
	return nil
}

func tenantFromContext(c *gin.Context) (uuid.UUID, bool) {
	identity := httpkit.GetIdentity(c)
	if !identity.IsAuthenticated() {
		return uuid.Nil, false
	}
	return identity.TenantID(), true
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
