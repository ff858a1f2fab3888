package web

import (
	"sync"

	"github.com/google/uuid"
)

// ProgressSnapshot is what import progress polling returns.
type ProgressSnapshot struct {
	RunID     uuid.UUID `json:"runId"`
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	Running   bool      `json:"running"`
}

// progressRegistry keeps the latest progress update per import run for
// polling. Entries live for the process lifetime; imports are rare enough
// that eviction is not worth the bookkeeping.
type progressRegistry struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]ProgressSnapshot
}

func newProgressRegistry() *progressRegistry {
	return &progressRegistry{entries: make(map[uuid.UUID]ProgressSnapshot)}
}

func (p *progressRegistry) get(runID uuid.UUID) (ProgressSnapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	snap, ok := p.entries[runID]
	return snap, ok
}

// sink returns an importer.ProgressSink bound to one run.
func (p *progressRegistry) sink(runID uuid.UUID) *registrySink {
	p.mu.Lock()
	p.entries[runID] = ProgressSnapshot{RunID: runID, Running: true}
	p.mu.Unlock()
	return &registrySink{registry: p, runID: runID}
}

type registrySink struct {
	registry *progressRegistry
	runID    uuid.UUID
}

// Update implements importer.ProgressSink.
func (s *registrySink) Update(processed, total int, running bool) {
	s.registry.mu.Lock()
	s.registry.entries[s.runID] = ProgressSnapshot{
		RunID:     s.runID,
		Processed: processed,
		Total:     total,
		Running:   running,
	}
	s.registry.mu.Unlock()
}
