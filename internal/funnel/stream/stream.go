// Package stream provides Server-Sent Events fan-out of stage changes to
// connected dashboard clients.
package stream

import (
	"encoding/json"
	"net/http"
	"sync"

	"funnel_sync_backend/internal/funnel/domain"
	"funnel_sync_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// EventType labels the SSE events the stream emits.
type EventType string

const (
	EventStageChanged EventType = "stage_changed"
	EventLeadCreated  EventType = "lead_created"
)

// Event is one SSE payload.
type Event struct {
	Type          EventType    `json:"type"`
	LeadID        string       `json:"leadId"`
	NewStage      domain.Stage `json:"newStage,omitempty"`
	PreviousStage domain.Stage `json:"previousStage,omitempty"`
	Origin        string       `json:"origin,omitempty"`
}

// client is one open SSE connection.
type client struct {
	tenantID uuid.UUID
	events   chan Event
}

// Service manages SSE connections grouped by tenant.
type Service struct {
	log *logger.Logger

	mu      sync.RWMutex
	clients map[uuid.UUID][]*client
}

func New(log *logger.Logger) *Service {
	return &Service{
		log:     log,
		clients: make(map[uuid.UUID][]*client),
	}
}

func (s *Service) addClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.tenantID] = append(s.clients[c.tenantID], c)
}

func (s *Service) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clients := s.clients[c.tenantID]
	for i, cl := range clients {
		if cl == c {
			s.clients[c.tenantID] = append(clients[:i], clients[i+1:]...)
			break
		}
	}
	if len(s.clients[c.tenantID]) == 0 {
		delete(s.clients, c.tenantID)
	}
	close(c.events)
}

// Publish fans an event out to every client of the tenant. Slow clients
// drop events rather than block the publisher. The read lock is held
// across the sends so a concurrent disconnect cannot close a channel
// mid-fanout; sends never block, so the hold is short.
func (s *Service) Publish(tenantID uuid.UUID, event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.clients[tenantID] {
		select {
		case c.events <- event:
		default:
			if s.log != nil {
				s.log.StageSkipped(event.LeadID, "sse_buffer_full", event.Origin)
			}
		}
	}
}

// ClientCount returns the number of open connections for a tenant.
func (s *Service) ClientCount(tenantID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients[tenantID])
}

// Handler returns the gin handler serving the SSE endpoint.
func (s *Service) Handler(getTenantID func(*gin.Context) (uuid.UUID, bool)) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := getTenantID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")

		cl := &client{
			tenantID: tenantID,
			events:   make(chan Event, 32),
		}
		s.addClient(cl)
		defer s.removeClient(cl)

		c.SSEvent("connected", gin.H{"tenantId": tenantID})
		c.Writer.Flush()

		clientGone := c.Request.Context().Done()
		for {
			select {
			case <-clientGone:
				return
			case event, ok := <-cl.events:
				if !ok {
					return
				}
				data, _ := json.Marshal(event)
				c.SSEvent(string(event.Type), string(data))
				c.Writer.Flush()
			}
		}
	}
}

// Close drops every open connection.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, clients := range s.clients {
		for _, c := range clients {
			close(c.events)
		}
	}
	s.clients = make(map[uuid.UUID][]*client)
}
