// Package multi provides a sink that fans out to multiple sinks.
// All sinks receive all envelopes; errors are aggregated.
package multi

import (
	"context"
	"errors"

	"github.com/strongdm/beacon/pkg/beacon"
)

type multiSink struct {
	sinks []beacon.Sink
}

// New creates a sink that writes to every non-nil sink in order.
// Errors are aggregated via errors.Join.
func New(sinks ...beacon.Sink) beacon.Sink {
	kept := make([]beacon.Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			kept = append(kept, sink)
		}
	}
	return &multiSink{sinks: kept}
}

// Write sends the envelope to all sinks, even if some fail.
func (s *multiSink) Write(ctx context.Context, envelope beacon.EventEnvelope) error {
	return s.each(func(sink beacon.Sink) error { return sink.Write(ctx, envelope) })
}

func (s *multiSink) Flush(ctx context.Context) error {
	return s.each(func(sink beacon.Sink) error { return sink.Flush(ctx) })
}

func (s *multiSink) Close() error {
	return s.each(beacon.Sink.Close)
}

func (s *multiSink) each(fn func(beacon.Sink) error) error {
	var errs []error
	for _, sink := range s.sinks {
		if err := fn(sink); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
