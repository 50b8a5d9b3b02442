// adapter.go exposes run enrichment to the engine as envelope context.

package agentssdk

import (
	"context"
	"runtime"

	"github.com/strongdm/beacon/pkg/beacon"
)

// AdapterName identifies this adapter in batches.
const AdapterName = "agents-sdk"

// Adapter is a beacon.Adapter reporting the agent platform. Its context
// includes the enrichment of the run found in ctx, if any.
type Adapter struct {
	store EnrichmentStore
}

var _ beacon.Adapter = (*Adapter)(nil)

// NewAdapter creates an Adapter reading from store. Pass the same store
// to Instrument with WithEnrichmentStore.
func NewAdapter(store EnrichmentStore) *Adapter {
	return &Adapter{store: store}
}

func (a *Adapter) Name() string { return AdapterName }

func (a *Adapter) Platform() string { return beacon.PlatformAgent }

// Context returns runtime fields plus the current run's enrichment.
func (a *Adapter) Context(ctx context.Context) map[string]any {
	fields := map[string]any{
		"go_version": runtime.Version(),
		"go_os":      runtime.GOOS,
		"go_arch":    runtime.GOARCH,
	}

	runID, ok := RunIDFromContext(ctx)
	if !ok {
		return fields
	}
	fields["run_id"] = runID
	if a.store == nil {
		return fields
	}
	e, ok := a.store.Get(runID)
	if !ok {
		return fields
	}

	set := func(key, value string) {
		if value != "" {
			fields[key] = value
		}
	}
	set("agent", e.AgentName)
	set("operation", e.Operation)
	set("operation_id", e.OperationID)
	set("tool", e.ToolName)
	set("tool_call_id", e.ToolCallID)
	set("model", e.Model)
	set("provider", e.Provider)

	if len(e.Breadcrumbs) > 0 {
		crumbs := make([]any, len(e.Breadcrumbs))
		for i, b := range e.Breadcrumbs {
			crumbs[i] = b.fields()
		}
		fields["breadcrumbs"] = crumbs
	}
	return fields
}
