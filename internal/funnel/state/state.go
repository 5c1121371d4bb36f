// Package state holds the per-process projection of last-known lead
// stages. It is constructor-injected into the poller and stream module so
// tests can instantiate isolated instances; it is never shared across the
// process boundary except indirectly through broadcast messages.
package state

import (
	"sync"

	"funnel_sync_backend/internal/funnel/domain"

	"github.com/google/uuid"
)

// Known is one lead's last observed projection.
type Known struct {
	Stage       domain.Stage
	DisplayName string
}

// SyncState tracks the last known stage and display name per lead. A lead
// moves from unknown to known on first observation and stays known for
// the life of the process.
type SyncState struct {
	mu    sync.RWMutex
	leads map[string]Known
}

func New() *SyncState {
	return &SyncState{leads: make(map[string]Known)}
}

func key(tenantID uuid.UUID, leadID string) string {
	return tenantID.String() + "/" + leadID
}

// LastKnown returns the lead's last observed projection and whether the
// lead has been observed at all.
func (s *SyncState) LastKnown(tenantID uuid.UUID, leadID string) (Known, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	known, ok := s.leads[key(tenantID, leadID)]
	return known, ok
}

// Observe records the latest projection for a lead.
func (s *SyncState) Observe(tenantID uuid.UUID, leadID string, stage domain.Stage, displayName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[key(tenantID, leadID)] = Known{Stage: stage, DisplayName: displayName}
}

// Changed reports whether the given projection differs from the last
// observed one. An unobserved lead is always reported as changed.
func (s *SyncState) Changed(tenantID uuid.UUID, leadID string, stage domain.Stage, displayName string) bool {
	known, ok := s.LastKnown(tenantID, leadID)
	if !ok {
		return true
	}
	return known.Stage != stage || known.DisplayName != displayName
}

// StageChanged reports whether the given stage differs from the last
// observed one, ignoring the display name. An unobserved lead is always
// reported as changed.
func (s *SyncState) StageChanged(tenantID uuid.UUID, leadID string, stage domain.Stage) bool {
	known, ok := s.LastKnown(tenantID, leadID)
	if !ok {
		return true
	}
	return known.Stage != stage
}

// Len returns the number of observed leads.
func (s *SyncState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.leads)
}
