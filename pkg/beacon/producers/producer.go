// Package producers supplies metric records to the engine's buffers.
//
// A Producer samples some part of the host on demand. A Registry groups
// producers by the platform tag they apply to, and a Runner polls the
// producers for the active platform on an interval and pushes every
// record through AddMetric.
package producers

import (
	"context"
	"sort"
	"sync"

	"github.com/strongdm/beacon/pkg/beacon"
)

// Producer samples metrics on demand.
type Producer interface {
	// Name identifies the producer in logs.
	Name() string

	// Collect returns the current samples. Timestamps may be left zero;
	// the engine fills them in.
	Collect(ctx context.Context) ([]beacon.MetricRecord, error)
}

// MetricSink receives collected records. *beacon.Engine satisfies it.
type MetricSink interface {
	AddMetric(record beacon.MetricRecord)
}

// CriticalSink sends a single record on the critical path.
// *beacon.Engine satisfies it.
type CriticalSink interface {
	SendCritical(ctx context.Context, record beacon.MetricRecord) error
}

// Registry maps platform tags to the producers that run on them.
type Registry struct {
	mu         sync.RWMutex
	byPlatform map[string][]Producer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byPlatform: make(map[string][]Producer)}
}

// Register adds p for each of the given platforms.
func (r *Registry) Register(p Producer, platforms ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, platform := range platforms {
		r.byPlatform[platform] = append(r.byPlatform[platform], p)
	}
}

// For returns the producers registered for platform, in registration order.
func (r *Registry) For(platform string) []Producer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Producer(nil), r.byPlatform[platform]...)
}

// Platforms returns the platform tags with at least one producer, sorted.
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byPlatform))
	for platform, list := range r.byPlatform {
		if len(list) > 0 {
			out = append(out, platform)
		}
	}
	sort.Strings(out)
	return out
}

// DefaultRegistry registers the process producer for the platforms
// backed by a long-lived Go process.
func DefaultRegistry(process *Process) *Registry {
	r := NewRegistry()
	r.Register(process, beacon.PlatformServer, beacon.PlatformWorker, beacon.PlatformCLI, beacon.PlatformAgent)
	return r
}
