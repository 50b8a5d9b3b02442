// enrichment.go provides thread-safe storage for per-run context captured
// by hooks and read back when a capture happens.

package agentssdk

import (
	"sync"
	"time"
)

// maxBreadcrumbs bounds the trail kept per run; older entries are dropped.
const maxBreadcrumbs = 10

// Enrichment contains per-run context captured from hooks.
type Enrichment struct {
	AgentName string
	Model     string
	Provider  string
	ToolName  string

	ToolCallID string

	// Operation is the kind of work in progress: "llm" or "tool".
	Operation string

	OperationID string

	// Breadcrumbs lists the most recent completed operations, oldest first.
	Breadcrumbs []Breadcrumb

	llmStartedAt time.Time
	llmDetail    map[string]any
	toolStarts   map[string]time.Time
}

func (e *Enrichment) addBreadcrumb(b Breadcrumb) {
	e.Breadcrumbs = append(e.Breadcrumbs, b)
	if over := len(e.Breadcrumbs) - maxBreadcrumbs; over > 0 {
		e.Breadcrumbs = append(e.Breadcrumbs[:0], e.Breadcrumbs[over:]...)
	}
}

// EnrichmentStore provides thread-safe storage for per-run enrichment data.
type EnrichmentStore interface {
	// Update applies fn to the enrichment for runID, creating it if
	// needed. fn runs under the store lock and must not call back into
	// the store.
	Update(runID string, fn func(e *Enrichment))

	// Get returns a copy of the enrichment for runID.
	Get(runID string) (Enrichment, bool)

	// Delete removes the enrichment for runID.
	Delete(runID string)
}

type memoryEnrichmentStore struct {
	mu   sync.RWMutex
	data map[string]*Enrichment
}

// NewEnrichmentStore creates an in-memory enrichment store.
func NewEnrichmentStore() EnrichmentStore {
	return &memoryEnrichmentStore{data: make(map[string]*Enrichment)}
}

func (s *memoryEnrichmentStore) Update(runID string, fn func(e *Enrichment)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[runID]
	if !ok {
		e = &Enrichment{}
		s.data[runID] = e
	}
	fn(e)
}

func (s *memoryEnrichmentStore) Get(runID string) (Enrichment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[runID]
	if !ok {
		return Enrichment{}, false
	}
	out := *e
	out.Breadcrumbs = append([]Breadcrumb(nil), e.Breadcrumbs...)
	out.llmDetail = nil
	out.toolStarts = nil
	return out, true
}

func (s *memoryEnrichmentStore) Delete(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, runID)
}
