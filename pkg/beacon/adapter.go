// adapter.go defines the boundary between the engine and host-runtime adapters.

package beacon

import "context"

// PlatformUnknown is used when no adapter supplies a platform tag.
const PlatformUnknown = "unknown"

// Adapter translates a host runtime's hooks into engine calls and supplies
// the ambient context attached to every envelope.
type Adapter interface {
	// Name identifies the adapter, e.g. "agents-sdk".
	Name() string

	// Platform is the platform tag used in buffer keys and envelopes.
	Platform() string

	// Context returns a snapshot of the adapter's ambient context. The
	// caller owns the returned map.
	Context(ctx context.Context) map[string]any
}

// staticAdapter reports a fixed platform and runtime context.
type staticAdapter struct {
	name     string
	platform string
	fields   map[string]any
}

// NewStaticAdapter returns an Adapter with a fixed name, platform and
// context. Use it when the host has no framework integration.
func NewStaticAdapter(name, platform string, fields map[string]any) Adapter {
	return &staticAdapter{name: name, platform: platform, fields: cloneFields(fields)}
}

func (a *staticAdapter) Name() string { return a.name }

func (a *staticAdapter) Platform() string { return a.platform }

func (a *staticAdapter) Context(ctx context.Context) map[string]any {
	return cloneFields(a.fields)
}

// cloneFields returns a shallow copy of m, never nil.
func cloneFields(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
