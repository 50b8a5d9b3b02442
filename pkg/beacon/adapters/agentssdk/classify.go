// classify.go buckets run errors into coarse classes.

package agentssdk

import (
	"context"
	"errors"
	"strings"
)

var guardrailPatterns = []string{
	"guardrail",
	"content policy",
	"safety filter",
	"blocked by policy",
}

// classifyError returns "timeout", "canceled", "guardrail" or "error".
func classifyError(err error) string {
	switch {
	case err == nil:
		return "error"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}

	msg := strings.ToLower(err.Error())
	for _, p := range guardrailPatterns {
		if strings.Contains(msg, p) {
			return "guardrail"
		}
	}
	return "error"
}
