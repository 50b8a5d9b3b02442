// sink.go defines the Sink interface for envelope destinations.

package beacon

import (
	"context"
	"errors"
	"sync/atomic"
)

// Sink is the destination for envelopes.
// Implementations must be safe for concurrent use.
type Sink interface {
	// Write delivers an envelope. Called after scrubbing and fingerprinting.
	Write(ctx context.Context, envelope EventEnvelope) error

	// Flush ensures any queued envelopes are delivered.
	// For synchronous sinks, this may be a no-op.
	Flush(ctx context.Context) error

	// Close releases resources held by the sink.
	// After Close is called, Write should return an error.
	Close() error
}

// ErrSinkClosed is returned by Write after Close.
var ErrSinkClosed = errors.New("sink is closed")

// transportSink adapts a Transport's envelope path to a Sink.
type transportSink struct {
	transport Transport
	closed    atomic.Bool
}

// NewTransportSink returns a Sink that delivers each envelope with
// Transport.SendEnvelope. It is the default envelope path of an Engine.
func NewTransportSink(transport Transport) Sink {
	return &transportSink{transport: transport}
}

func (s *transportSink) Write(ctx context.Context, envelope EventEnvelope) error {
	if s.closed.Load() {
		return ErrSinkClosed
	}
	return s.transport.SendEnvelope(ctx, envelope)
}

// Flush is a no-op; writes are synchronous.
func (s *transportSink) Flush(ctx context.Context) error {
	return nil
}

func (s *transportSink) Close() error {
	s.closed.Store(true)
	return nil
}
