// metric.go defines metric records and the units they are batched in.

package beacon

import "time"

// MetricRecord is a single performance sample pushed by a producer.
type MetricRecord struct {
	// Type is a category tag such as "runtime", "llm" or "startup".
	Type string `json:"type"`

	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`

	Timestamp time.Time      `json:"timestamp"`
	Context   map[string]any `json:"context,omitempty"`
}

// BufferKey identifies a metric buffer. Records with equal keys are
// batched together.
type BufferKey struct {
	SessionID string
	Platform  string
}

func (k BufferKey) String() string {
	return k.SessionID + "/" + k.Platform
}

// Batch is the payload of one batched metric delivery.
type Batch struct {
	SessionID   string         `json:"sessionId"`
	Environment Environment    `json:"environment"`
	Platform    string         `json:"platform"`
	Adapter     string         `json:"adapter"`
	Metrics     []MetricRecord `json:"metrics"`
}

// CriticalMetric is a single metric sent on the critical path, merged
// with the session labels it belongs to.
type CriticalMetric struct {
	MetricRecord

	SessionID   string      `json:"sessionId"`
	Environment Environment `json:"environment"`
	Platform    string      `json:"platform"`
}
