// transport.go defines the network delivery boundary of the engine.

package beacon

import "context"

// Transport performs network delivery to the remote collector.
// Each call is a single attempt: implementations never retry and report
// any non-success outcome as an error. Retry policy belongs to the
// caller. Implementations must be safe for concurrent use.
type Transport interface {
	// SendEnvelope delivers one error or message envelope.
	SendEnvelope(ctx context.Context, envelope EventEnvelope) error

	// SendBatch delivers one batch of buffered metric records.
	SendBatch(ctx context.Context, batch Batch) error

	// SendCritical delivers a single metric outside of batching.
	SendCritical(ctx context.Context, metric CriticalMetric) error
}

// noopTransport discards everything. Used when no transport is configured.
type noopTransport struct{}

func (noopTransport) SendEnvelope(ctx context.Context, envelope EventEnvelope) error { return nil }

func (noopTransport) SendBatch(ctx context.Context, batch Batch) error { return nil }

func (noopTransport) SendCritical(ctx context.Context, metric CriticalMetric) error { return nil }
