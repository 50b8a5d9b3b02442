// Package stderr provides a sink that prints envelopes in a human-readable
// format. Useful for development and debugging.
package stderr

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/strongdm/beacon/pkg/beacon"
)

// Option configures the stderr sink.
type Option func(*config)

type config struct {
	verbose bool
	out     io.Writer
}

// WithVerbose adds stack traces and extra fields to the output.
func WithVerbose() Option {
	return func(c *config) {
		c.verbose = true
	}
}

// WithWriter redirects output away from os.Stderr.
func WithWriter(w io.Writer) Option {
	return func(c *config) {
		c.out = w
	}
}

type stderrSink struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
}

// New creates a sink that writes to stderr.
func New(opts ...Option) beacon.Sink {
	cfg := &config{out: os.Stderr}
	for _, opt := range opts {
		opt(cfg)
	}
	return &stderrSink{out: cfg.out, verbose: cfg.verbose}
}

// Write prints the envelope. Format:
//
//	[BEACON] <timestamp> <LEVEL> <platform> <error type> (session: <id>)
func (s *stderrSink) Write(ctx context.Context, envelope beacon.EventEnvelope) error {
	var b strings.Builder

	header := []string{
		"[BEACON]",
		envelope.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
		strings.ToUpper(string(envelope.Level)),
		envelope.Platform,
	}
	if envelope.ErrorType != "" {
		header = append(header, envelope.ErrorType)
	}
	if envelope.Session.ID != "" {
		header = append(header, fmt.Sprintf("(session: %s)", envelope.Session.ID))
	}
	b.WriteString(strings.Join(header, " "))
	b.WriteByte('\n')

	if envelope.Message != "" {
		fmt.Fprintf(&b, "        Message: %s\n", envelope.Message)
	}
	if envelope.Fingerprint != "" {
		fmt.Fprintf(&b, "        Fingerprint: %s\n", envelope.Fingerprint)
	}

	if s.verbose {
		if len(envelope.Extra) > 0 {
			keys := make([]string, 0, len(envelope.Extra))
			for k := range envelope.Extra {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			b.WriteString("        Extra:\n")
			for _, k := range keys {
				fmt.Fprintf(&b, "          %s=%v\n", k, envelope.Extra[k])
			}
		}
		if envelope.Stack != "" {
			b.WriteString("        Stack trace:\n")
			for _, line := range strings.Split(envelope.Stack, "\n") {
				fmt.Fprintf(&b, "          %s\n", line)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.out, b.String())
	return err
}

// Flush is a no-op for stderr sink.
func (s *stderrSink) Flush(ctx context.Context) error {
	return nil
}

// Close is a no-op for stderr sink.
func (s *stderrSink) Close() error {
	return nil
}
