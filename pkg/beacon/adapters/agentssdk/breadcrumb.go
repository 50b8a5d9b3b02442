// breadcrumb.go summarises completed LLM and tool operations without
// keeping prompt or output text.

package agentssdk

import (
	"time"

	llmsdk "github.com/strongdm/ai-llm-sdk/pkg/llm"
)

// Breadcrumb is one completed operation in a run.
type Breadcrumb struct {
	Kind       string
	Name       string
	Timestamp  time.Time
	DurationMs int64
	Detail     map[string]any
}

// fields renders b as a plain map so the scrubber can walk it.
func (b Breadcrumb) fields() map[string]any {
	out := map[string]any{
		"kind":      b.Kind,
		"name":      b.Name,
		"timestamp": b.Timestamp,
	}
	if b.DurationMs > 0 {
		out["duration_ms"] = b.DurationMs
	}
	for k, v := range b.Detail {
		out[k] = v
	}
	return out
}

// requestDetail describes an LLM request by shape only.
func requestDetail(req llmsdk.Request) map[string]any {
	chars := 0
	for _, msg := range req.Messages {
		for _, part := range msg.Parts {
			chars += len(part.Text)
		}
	}
	return map[string]any{
		"provider":      string(req.Provider),
		"message_count": len(req.Messages),
		"message_chars": chars,
		"tool_count":    len(req.Tools),
	}
}

// addResponseDetail adds response metadata to a copy of detail.
func addResponseDetail(detail map[string]any, resp llmsdk.Response) map[string]any {
	out := make(map[string]any, len(detail)+2)
	for k, v := range detail {
		out[k] = v
	}
	if resp.FinishReason != "" {
		out["finish_reason"] = string(resp.FinishReason)
	}
	if len(resp.ToolCalls) > 0 {
		names := make([]string, len(resp.ToolCalls))
		for i, tc := range resp.ToolCalls {
			names[i] = tc.Name
		}
		out["tool_calls"] = names
	}
	return out
}
