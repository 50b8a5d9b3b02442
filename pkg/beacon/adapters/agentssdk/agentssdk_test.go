package agentssdk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/strongdm/ai-agents-sdk/pkg/agents"
	llmsdk "github.com/strongdm/ai-llm-sdk/pkg/llm"
	"github.com/strongdm/beacon/pkg/beacon"
	"github.com/strongdm/beacon/pkg/beacon/sinks/cxdb"
	"github.com/strongdm/beacon/pkg/clock"
)

var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type capturedException struct {
	ctx     context.Context
	err     error
	extra   map[string]any
	context map[string]any
}

// testCapturer records calls for verification. When adapter is set, the
// adapter context is snapshotted at capture time like the engine does.
type testCapturer struct {
	adapter *Adapter

	mu         sync.Mutex
	exceptions []capturedException
	metrics    []beacon.MetricRecord
}

func (c *testCapturer) CaptureException(ctx context.Context, err error, extra map[string]any) string {
	var fields map[string]any
	if c.adapter != nil {
		fields = c.adapter.Context(ctx)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exceptions = append(c.exceptions, capturedException{ctx: ctx, err: err, extra: extra, context: fields})
	return fmt.Sprintf("env-%d", len(c.exceptions))
}

func (c *testCapturer) CaptureMessage(ctx context.Context, message string, level beacon.Level, extra map[string]any) string {
	return ""
}

func (c *testCapturer) AddMetric(record beacon.MetricRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = append(c.metrics, record)
}

func (c *testCapturer) getExceptions() []capturedException {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]capturedException(nil), c.exceptions...)
}

func (c *testCapturer) getMetrics() []beacon.MetricRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]beacon.MetricRecord(nil), c.metrics...)
}

// fakeRunner stands in for *agents.Runner. onRun runs inside the call
// with the context and config the wrapper passed.
type fakeRunner struct {
	err   error
	panic any
	onRun func(ctx context.Context, cfg *agents.RunConfig)

	gotCfg *agents.RunConfig
	gotCtx context.Context
}

func (r *fakeRunner) call(ctx context.Context, cfg *agents.RunConfig) error {
	r.gotCtx = ctx
	r.gotCfg = cfg
	if r.onRun != nil {
		r.onRun(ctx, cfg)
	}
	if r.panic != nil {
		panic(r.panic)
	}
	return r.err
}

func (r *fakeRunner) Run(ctx context.Context, agent *agents.Agent, input string, session agents.Session, cfg *agents.RunConfig) (agents.RunResult, error) {
	var result agents.RunResult
	return result, r.call(ctx, cfg)
}

func (r *fakeRunner) RunOnce(ctx context.Context, agent *agents.Agent, input string, cfg *agents.RunConfig) (agents.RunResult, error) {
	var result agents.RunResult
	return result, r.call(ctx, cfg)
}

func (r *fakeRunner) RunStream(ctx context.Context, agent *agents.Agent, input string, session agents.Session, cfg *agents.RunConfig) (*agents.StreamingRun, error) {
	return nil, r.call(ctx, cfg)
}

// mockRunHooks records which inner hooks were called.
type mockRunHooks struct {
	agentStartCalled bool
	toolStartCalled  bool
	toolEndCalled    bool
	llmStartCalled   bool
	llmEndCalled     bool
	returnErr        error
}

func (m *mockRunHooks) OnAgentStart(ctx context.Context, runCtx *agents.AgentHookContext, agent *agents.Agent) error {
	m.agentStartCalled = true
	return m.returnErr
}

func (m *mockRunHooks) OnAgentEnd(ctx context.Context, runCtx *agents.AgentHookContext, agent *agents.Agent, result agents.RunResult) error {
	return m.returnErr
}

func (m *mockRunHooks) OnHandoff(ctx context.Context, runCtx *agents.RunContext, from *agents.Agent, to *agents.Agent) error {
	return m.returnErr
}

func (m *mockRunHooks) OnToolStart(ctx context.Context, runCtx *agents.RunContext, agent *agents.Agent, tool agents.Tool, call llmsdk.ToolCall) error {
	m.toolStartCalled = true
	return m.returnErr
}

func (m *mockRunHooks) OnToolEnd(ctx context.Context, runCtx *agents.RunContext, agent *agents.Agent, tool agents.Tool, output string) error {
	m.toolEndCalled = true
	return m.returnErr
}

func (m *mockRunHooks) OnLLMStart(ctx context.Context, runCtx *agents.RunContext, agent *agents.Agent, req llmsdk.Request) error {
	m.llmStartCalled = true
	return m.returnErr
}

func (m *mockRunHooks) OnLLMEnd(ctx context.Context, runCtx *agents.RunContext, agent *agents.Agent, resp llmsdk.Response) error {
	m.llmEndCalled = true
	return m.returnErr
}

func newTestWrapper(inner agentRunner, capturer beacon.Capturer, opts ...WrapOption) *WrappedRunner {
	w := newWrappedRunner(inner, capturer, opts...)
	w.newRunID = func() string { return "run-1" }
	return w
}

func TestWrappedRunner_Run_CapturesErrorAndReturnsIt(t *testing.T) {
	capturer := &testCapturer{}
	runErr := errors.New("run failed")
	w := newTestWrapper(&fakeRunner{err: runErr}, capturer)

	_, err := w.Run(context.Background(), nil, "input", nil, nil)

	require.ErrorIs(t, err, runErr)
	got := capturer.getExceptions()
	require.Len(t, got, 1)
	assert.Same(t, runErr, got[0].err)
	assert.Equal(t, "runner", got[0].extra["mechanism"])
	assert.Equal(t, "error", got[0].extra["error_class"])

	runID, ok := RunIDFromContext(got[0].ctx)
	require.True(t, ok)
	assert.Equal(t, "run-1", runID)
}

// pinnedSession reports a cxdb context ID.
type pinnedSession struct {
	contextID uint64
	err       error
}

func (s *pinnedSession) ContextID(ctx context.Context) (uint64, error) { return s.contextID, s.err }

func TestSessionExtra(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, map[string]any{cxdb.ContextIDKey: uint64(98765)},
		sessionExtra(ctx, &pinnedSession{contextID: 98765}))
	assert.Nil(t, sessionExtra(ctx, &pinnedSession{}))
	assert.Nil(t, sessionExtra(ctx, &pinnedSession{contextID: 1, err: errors.New("no context")}))
	assert.Nil(t, sessionExtra(ctx, nil))
	assert.Nil(t, sessionExtra(ctx, "not a session"))
}

func TestWrappedRunner_CaptureError_MergesSessionExtra(t *testing.T) {
	capturer := &testCapturer{}
	w := newTestWrapper(&fakeRunner{}, capturer)

	w.captureError(context.Background(), "run-1", errors.New("boom"), map[string]any{cxdb.ContextIDKey: uint64(7)})

	got := capturer.getExceptions()
	require.Len(t, got, 1)
	assert.Equal(t, uint64(7), got[0].extra[cxdb.ContextIDKey])
	assert.Equal(t, "runner", got[0].extra["mechanism"])
}

func TestWrappedRunner_RunOnce_NoErrorNoCapture(t *testing.T) {
	capturer := &testCapturer{}
	w := newTestWrapper(&fakeRunner{}, capturer)

	_, err := w.RunOnce(context.Background(), nil, "input", nil)

	require.NoError(t, err)
	assert.Empty(t, capturer.getExceptions())
}

func TestWrappedRunner_Run_CapturesPanicAndRepanics(t *testing.T) {
	capturer := &testCapturer{}
	w := newTestWrapper(&fakeRunner{panic: "boom"}, capturer)

	assert.PanicsWithValue(t, "boom", func() {
		_, _ = w.Run(context.Background(), nil, "input", nil, nil)
	})

	got := capturer.getExceptions()
	require.Len(t, got, 1)
	var panicErr *beacon.PanicError
	require.ErrorAs(t, got[0].err, &panicErr)
	assert.Equal(t, "boom", panicErr.Value)
	assert.Equal(t, "panic", got[0].extra["mechanism"])
}

func TestWrappedRunner_ClassifiesTimeout(t *testing.T) {
	capturer := &testCapturer{}
	w := newTestWrapper(&fakeRunner{err: fmt.Errorf("llm call: %w", context.DeadlineExceeded)}, capturer)

	_, _ = w.RunOnce(context.Background(), nil, "input", nil)

	got := capturer.getExceptions()
	require.Len(t, got, 1)
	assert.Equal(t, "timeout", got[0].extra["error_class"])
}

func TestWrappedRunner_PreservesInnerHooks(t *testing.T) {
	inner := &mockRunHooks{}
	runner := &fakeRunner{}
	w := newTestWrapper(runner, &testCapturer{})

	cfg := &agents.RunConfig{Hooks: inner}
	_, err := w.Run(context.Background(), nil, "input", nil, cfg)
	require.NoError(t, err)

	require.NotNil(t, runner.gotCfg)
	adapter, ok := runner.gotCfg.Hooks.(*HookAdapter)
	require.True(t, ok, "hooks should be wrapped")
	assert.Same(t, inner, adapter.inner)
	assert.Same(t, inner, cfg.Hooks, "caller's config must not be modified")

	require.NoError(t, adapter.OnAgentStart(runner.gotCtx, nil, nil))
	assert.True(t, inner.agentStartCalled)
}

func TestWrappedRunner_EnrichmentVisibleAtCaptureThenReleased(t *testing.T) {
	store := NewEnrichmentStore()
	capturer := &testCapturer{adapter: NewAdapter(store)}
	runner := &fakeRunner{err: errors.New("tool failed")}
	runner.onRun = func(ctx context.Context, cfg *agents.RunConfig) {
		agent := agents.NewAgent(agents.AgentConfig{Name: "researcher"})
		_ = cfg.Hooks.OnToolStart(ctx, nil, agent, agents.Tool{Name: "WebSearch"}, llmsdk.ToolCall{ID: "call-1"})
	}
	w := newTestWrapper(runner, capturer, WithEnrichmentStore(store))

	_, _ = w.Run(context.Background(), nil, "input", nil, nil)

	got := capturer.getExceptions()
	require.Len(t, got, 1)
	assert.Equal(t, "researcher", got[0].context["agent"])
	assert.Equal(t, "tool", got[0].context["operation"])
	assert.Equal(t, "WebSearch", got[0].context["tool"])
	assert.Equal(t, "call-1", got[0].context["tool_call_id"])
	assert.Equal(t, "run-1", got[0].context["run_id"])

	_, ok := store.Get("run-1")
	assert.False(t, ok, "enrichment should be deleted after the run")
}

func TestWrappedRunner_RunStream_ReleasesEnrichmentOnContextDone(t *testing.T) {
	store := NewEnrichmentStore()
	runner := &fakeRunner{}
	runner.onRun = func(ctx context.Context, cfg *agents.RunConfig) {
		_ = cfg.Hooks.OnLLMStart(ctx, nil, nil, llmsdk.Request{Model: "claude"})
	}
	w := newTestWrapper(runner, &testCapturer{}, WithEnrichmentStore(store))

	ctx, cancel := context.WithCancel(context.Background())
	_, err := w.RunStream(ctx, nil, "input", nil, nil)
	require.NoError(t, err)

	_, ok := store.Get("run-1")
	require.True(t, ok, "enrichment should outlive RunStream while the stream is active")

	cancel()
	require.Eventually(t, func() bool {
		_, ok := store.Get("run-1")
		return !ok
	}, time.Second, time.Millisecond)
}

func TestInstrument_Defaults(t *testing.T) {
	w := Instrument(nil, &testCapturer{})
	assert.NotNil(t, w.enrichments)
	assert.Nil(t, w.Inner())
}
