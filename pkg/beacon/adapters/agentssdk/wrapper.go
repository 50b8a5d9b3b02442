// wrapper.go implements WrappedRunner, which wraps agents.Runner to capture
// errors and panics. Hooks provide enrichment only.

package agentssdk

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/strongdm/ai-agents-sdk/pkg/agents"
	"github.com/strongdm/beacon/pkg/beacon"
	"github.com/strongdm/beacon/pkg/beacon/sinks/cxdb"
	"github.com/strongdm/beacon/pkg/clock"
)

// ContextIDProvider is implemented by sessions persisted in a cxdb
// context. Captures from such runs are pinned to that context.
type ContextIDProvider interface {
	ContextID(ctx context.Context) (uint64, error)
}

// agentRunner is the subset of *agents.Runner the wrapper drives.
type agentRunner interface {
	Run(ctx context.Context, agent *agents.Agent, input string, session agents.Session, cfg *agents.RunConfig) (agents.RunResult, error)
	RunOnce(ctx context.Context, agent *agents.Agent, input string, cfg *agents.RunConfig) (agents.RunResult, error)
	RunStream(ctx context.Context, agent *agents.Agent, input string, session agents.Session, cfg *agents.RunConfig) (*agents.StreamingRun, error)
}

// WrappedRunner wraps an agents.Runner. Run errors are captured and
// returned unchanged; panics are captured and re-panicked.
type WrappedRunner struct {
	inner       agentRunner
	capturer    beacon.Capturer
	enrichments EnrichmentStore
	clock       clock.Clock
	logger      *slog.Logger
	newRunID    func() string
}

// WrapOption configures a WrappedRunner.
type WrapOption func(*WrappedRunner)

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) WrapOption {
	return func(w *WrappedRunner) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithEnrichmentStore sets the store shared with Adapter.
func WithEnrichmentStore(store EnrichmentStore) WrapOption {
	return func(w *WrappedRunner) {
		if store != nil {
			w.enrichments = store
		}
	}
}

// WithClock sets the clock used to time LLM and tool calls.
func WithClock(clk clock.Clock) WrapOption {
	return func(w *WrappedRunner) {
		if clk != nil {
			w.clock = clk
		}
	}
}

// Instrument wraps runner with error and panic capture. Metrics emitted
// by the run hooks go to capturer.AddMetric.
//
//	runner := agentssdk.Instrument(agents.NewRunner(client), engine)
//	result, err := runner.Run(ctx, agent, input, session, nil)
func Instrument(runner *agents.Runner, capturer beacon.Capturer, opts ...WrapOption) *WrappedRunner {
	return newWrappedRunner(runner, capturer, opts...)
}

func newWrappedRunner(inner agentRunner, capturer beacon.Capturer, opts ...WrapOption) *WrappedRunner {
	w := &WrappedRunner{
		inner:       inner,
		capturer:    capturer,
		enrichments: NewEnrichmentStore(),
		clock:       clock.Real(),
		logger:      slog.New(slog.DiscardHandler),
		newRunID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run executes the agent with the given input and session.
func (w *WrappedRunner) Run(ctx context.Context, agent *agents.Agent, input string, session agents.Session, cfg *agents.RunConfig) (agents.RunResult, error) {
	runID := w.newRunID()
	ctx = withRunID(ctx, runID)
	base := sessionExtra(ctx, session)
	defer w.enrichments.Delete(runID)
	defer w.capturePanic(ctx, runID, base)

	result, err := w.inner.Run(ctx, agent, input, session, w.wrapRunConfig(cfg))
	if err != nil {
		w.captureError(ctx, runID, err, base)
	}
	return result, err
}

// RunOnce executes a single turn of the agent.
func (w *WrappedRunner) RunOnce(ctx context.Context, agent *agents.Agent, input string, cfg *agents.RunConfig) (agents.RunResult, error) {
	runID := w.newRunID()
	ctx = withRunID(ctx, runID)
	defer w.enrichments.Delete(runID)
	defer w.capturePanic(ctx, runID, nil)

	result, err := w.inner.RunOnce(ctx, agent, input, w.wrapRunConfig(cfg))
	if err != nil {
		w.captureError(ctx, runID, err, nil)
	}
	return result, err
}

// RunStream starts a streaming run. Only errors returned while starting
// the stream are captured. The run's enrichment is released when ctx is
// done.
func (w *WrappedRunner) RunStream(ctx context.Context, agent *agents.Agent, input string, session agents.Session, cfg *agents.RunConfig) (*agents.StreamingRun, error) {
	runID := w.newRunID()
	ctx = withRunID(ctx, runID)
	base := sessionExtra(ctx, session)
	defer w.capturePanic(ctx, runID, base)

	stream, err := w.inner.RunStream(ctx, agent, input, session, w.wrapRunConfig(cfg))
	if err != nil {
		w.captureError(ctx, runID, err, base)
		w.enrichments.Delete(runID)
		return stream, err
	}
	context.AfterFunc(ctx, func() { w.enrichments.Delete(runID) })
	return stream, nil
}

// Inner returns the underlying Runner, or nil when the wrapper was built
// around something else.
func (w *WrappedRunner) Inner() *agents.Runner {
	r, _ := w.inner.(*agents.Runner)
	return r
}

// wrapRunConfig clones cfg and installs a HookAdapter around its hooks.
func (w *WrappedRunner) wrapRunConfig(cfg *agents.RunConfig) *agents.RunConfig {
	var cloned agents.RunConfig
	if cfg != nil {
		cloned = *cfg
	}
	cloned.Hooks = NewHookAdapter(w.enrichments, cloned.Hooks, w.capturer, w.clock, w.logger)
	return &cloned
}

// sessionExtra returns the cxdb context pin of session, if it has one.
func sessionExtra(ctx context.Context, session any) map[string]any {
	provider, ok := session.(ContextIDProvider)
	if !ok {
		return nil
	}
	id, err := provider.ContextID(ctx)
	if err != nil || id == 0 {
		return nil
	}
	return map[string]any{cxdb.ContextIDKey: id}
}

func withBase(base map[string]any, fields map[string]any) map[string]any {
	for k, v := range base {
		fields[k] = v
	}
	return fields
}

func (w *WrappedRunner) captureError(ctx context.Context, runID string, err error, base map[string]any) {
	id := w.capturer.CaptureException(ctx, err, withBase(base, map[string]any{
		"mechanism":   "runner",
		"error_class": classifyError(err),
	}))
	w.logger.Debug("agent run failed", "run_id", runID, "envelope", id, "error", err)
}

// capturePanic recovers a panic, captures it and panics again.
func (w *WrappedRunner) capturePanic(ctx context.Context, runID string, base map[string]any) {
	r := recover()
	if r == nil {
		return
	}
	id := w.capturer.CaptureException(ctx, &beacon.PanicError{Value: r}, withBase(base, map[string]any{
		"mechanism":   "panic",
		"error_class": "panic",
	}))
	w.logger.Debug("agent run panicked", "run_id", runID, "envelope", id)
	panic(r)
}
