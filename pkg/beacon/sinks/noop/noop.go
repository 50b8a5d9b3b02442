// Package noop provides a sink that discards all envelopes.
// Useful for tests and for disabling envelope delivery while keeping
// metrics.
package noop

import (
	"context"

	"github.com/strongdm/beacon/pkg/beacon"
)

type noopSink struct{}

// New creates a sink that discards all envelopes.
func New() beacon.Sink {
	return noopSink{}
}

func (noopSink) Write(ctx context.Context, envelope beacon.EventEnvelope) error { return nil }

func (noopSink) Flush(ctx context.Context) error { return nil }

func (noopSink) Close() error { return nil }
