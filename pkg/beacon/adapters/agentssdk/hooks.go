// hooks.go implements agents.RunHooks to capture enrichment and emit
// latency metrics. Error detection is done by WrappedRunner.

package agentssdk

import (
	"context"
	"log/slog"
	"time"

	"github.com/strongdm/ai-agents-sdk/pkg/agents"
	llmsdk "github.com/strongdm/ai-llm-sdk/pkg/llm"
	"github.com/strongdm/beacon/pkg/beacon"
	"github.com/strongdm/beacon/pkg/clock"
)

// Metric names emitted by HookAdapter.
const (
	MetricLLMLatency   = "llm.latency"
	MetricLLMTokens    = "llm.tokens"
	MetricToolDuration = "tool.duration"
)

// MetricSink receives metric records. beacon.Capturer satisfies it.
type MetricSink interface {
	AddMetric(record beacon.MetricRecord)
}

// HookAdapter wraps an inner agents.RunHooks. Every hook is forwarded to
// the inner hooks and only their errors are returned.
type HookAdapter struct {
	store   EnrichmentStore
	inner   agents.RunHooks
	metrics MetricSink
	clock   clock.Clock
	logger  *slog.Logger
}

// NewHookAdapter creates a HookAdapter. inner and metrics may be nil.
func NewHookAdapter(store EnrichmentStore, inner agents.RunHooks, metrics MetricSink, clk clock.Clock, logger *slog.Logger) *HookAdapter {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &HookAdapter{store: store, inner: inner, metrics: metrics, clock: clk, logger: logger}
}

// OnAgentStart captures the agent name.
func (h *HookAdapter) OnAgentStart(ctx context.Context, runCtx *agents.AgentHookContext, agent *agents.Agent) error {
	if agent != nil {
		h.update(ctx, func(e *Enrichment) {
			e.AgentName = agent.Name()
		})
	}
	if h.inner != nil {
		return h.inner.OnAgentStart(ctx, runCtx, agent)
	}
	return nil
}

func (h *HookAdapter) OnAgentEnd(ctx context.Context, runCtx *agents.AgentHookContext, agent *agents.Agent, result agents.RunResult) error {
	if h.inner != nil {
		return h.inner.OnAgentEnd(ctx, runCtx, agent, result)
	}
	return nil
}

// OnHandoff records the handoff as a breadcrumb and switches the agent.
func (h *HookAdapter) OnHandoff(ctx context.Context, runCtx *agents.RunContext, from *agents.Agent, to *agents.Agent) error {
	if to != nil {
		now := h.clock.Now()
		h.update(ctx, func(e *Enrichment) {
			detail := map[string]any{}
			if from != nil {
				detail["from"] = from.Name()
			}
			e.AgentName = to.Name()
			e.addBreadcrumb(Breadcrumb{Kind: "handoff", Name: to.Name(), Timestamp: now, Detail: detail})
		})
	}
	if h.inner != nil {
		return h.inner.OnHandoff(ctx, runCtx, from, to)
	}
	return nil
}

// OnToolStart marks a tool call as the current operation.
func (h *HookAdapter) OnToolStart(ctx context.Context, runCtx *agents.RunContext, agent *agents.Agent, tool agents.Tool, call llmsdk.ToolCall) error {
	now := h.clock.Now()
	h.update(ctx, func(e *Enrichment) {
		if agent != nil {
			e.AgentName = agent.Name()
		}
		e.Operation = "tool"
		e.ToolName = tool.Name
		e.ToolCallID = call.ID
		e.OperationID = call.ID
		if e.toolStarts == nil {
			e.toolStarts = make(map[string]time.Time)
		}
		e.toolStarts[tool.Name] = now
	})

	if h.inner != nil {
		return h.inner.OnToolStart(ctx, runCtx, agent, tool, call)
	}
	return nil
}

// OnToolEnd emits tool.duration and records a breadcrumb.
func (h *HookAdapter) OnToolEnd(ctx context.Context, runCtx *agents.RunContext, agent *agents.Agent, tool agents.Tool, output string) error {
	now := h.clock.Now()
	var started time.Time
	h.update(ctx, func(e *Enrichment) {
		started = e.toolStarts[tool.Name]
		delete(e.toolStarts, tool.Name)
		crumb := Breadcrumb{Kind: "tool", Name: tool.Name, Timestamp: now, Detail: map[string]any{"output_size": len(output)}}
		if !started.IsZero() {
			crumb.DurationMs = now.Sub(started).Milliseconds()
		}
		e.addBreadcrumb(crumb)
	})
	if !started.IsZero() {
		h.emit(beacon.MetricRecord{
			Type:      "tool",
			Name:      MetricToolDuration,
			Value:     float64(now.Sub(started).Milliseconds()),
			Unit:      "ms",
			Timestamp: now,
			Context:   map[string]any{"tool": tool.Name, "agent": agentName(agent)},
		})
	}

	if h.inner != nil {
		return h.inner.OnToolEnd(ctx, runCtx, agent, tool, output)
	}
	return nil
}

// OnLLMStart marks an LLM call as the current operation.
func (h *HookAdapter) OnLLMStart(ctx context.Context, runCtx *agents.RunContext, agent *agents.Agent, req llmsdk.Request) error {
	now := h.clock.Now()
	detail := requestDetail(req)
	h.update(ctx, func(e *Enrichment) {
		if agent != nil {
			e.AgentName = agent.Name()
		}
		e.Operation = "llm"
		e.OperationID = ""
		e.Model = req.Model
		e.Provider = string(req.Provider)
		e.llmStartedAt = now
		e.llmDetail = detail
	})

	if h.inner != nil {
		return h.inner.OnLLMStart(ctx, runCtx, agent, req)
	}
	return nil
}

// OnLLMEnd emits llm.latency and llm.tokens and records a breadcrumb.
func (h *HookAdapter) OnLLMEnd(ctx context.Context, runCtx *agents.RunContext, agent *agents.Agent, resp llmsdk.Response) error {
	now := h.clock.Now()
	var (
		started time.Time
		model   string
	)
	h.update(ctx, func(e *Enrichment) {
		started = e.llmStartedAt
		model = e.Model
		crumb := Breadcrumb{Kind: "llm", Name: e.Model, Timestamp: now, Detail: addResponseDetail(e.llmDetail, resp)}
		if !started.IsZero() {
			crumb.DurationMs = now.Sub(started).Milliseconds()
		}
		e.addBreadcrumb(crumb)
		e.OperationID = resp.ID
		e.llmStartedAt = time.Time{}
		e.llmDetail = nil
	})

	labels := map[string]any{"model": model, "agent": agentName(agent)}
	if !started.IsZero() {
		h.emit(beacon.MetricRecord{
			Type:      "llm",
			Name:      MetricLLMLatency,
			Value:     float64(now.Sub(started).Milliseconds()),
			Unit:      "ms",
			Timestamp: now,
			Context:   labels,
		})
	}
	if resp.Usage.TotalTokens > 0 {
		h.emit(beacon.MetricRecord{
			Type:      "llm",
			Name:      MetricLLMTokens,
			Value:     float64(resp.Usage.TotalTokens),
			Unit:      "count",
			Timestamp: now,
			Context: map[string]any{
				"model":      model,
				"agent":      agentName(agent),
				"prompt":     resp.Usage.PromptTokens,
				"completion": resp.Usage.CompletionTokens,
			},
		})
	}

	if h.inner != nil {
		return h.inner.OnLLMEnd(ctx, runCtx, agent, resp)
	}
	return nil
}

func (h *HookAdapter) update(ctx context.Context, fn func(e *Enrichment)) {
	runID, ok := RunIDFromContext(ctx)
	if !ok {
		return
	}
	h.store.Update(runID, fn)
}

func (h *HookAdapter) emit(record beacon.MetricRecord) {
	if h.metrics == nil {
		return
	}
	h.metrics.AddMetric(record)
}

func agentName(agent *agents.Agent) string {
	if agent == nil {
		return ""
	}
	return agent.Name()
}

var _ agents.RunHooks = (*HookAdapter)(nil)
