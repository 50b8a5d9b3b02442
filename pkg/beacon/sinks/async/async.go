// Package async provides a sink wrapper with a bounded queue so capture
// calls return without waiting on the network. Envelopes are written to
// the inner sink in the background; the oldest are dropped when full.
package async

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/strongdm/beacon/pkg/beacon"
)

// Option configures the async sink.
type Option func(*config)

type config struct {
	queueSize    int
	writeTimeout time.Duration
	onDropped    func(count int)
	logger       *slog.Logger
}

// WithQueueSize sets the maximum number of queued envelopes (default: 1000).
func WithQueueSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.queueSize = size
		}
	}
}

// WithWriteTimeout bounds each background write to the inner sink (default: 10s).
func WithWriteTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

// WithOnDropped sets a callback invoked when envelopes are dropped due to queue overflow.
func WithOnDropped(fn func(count int)) Option {
	return func(c *config) {
		c.onDropped = fn
	}
}

// WithLogger sets the logger for background write failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

type asyncSink struct {
	inner     beacon.Sink
	cfg       config
	queue     chan beacon.EventEnvelope
	done      chan struct{}
	closeOnce sync.Once
	closeMu   sync.RWMutex
	closed    bool
	wg        sync.WaitGroup

	// pending counts envelopes enqueued but not yet written or dropped.
	pending atomic.Int64
}

// New wraps inner with a bounded queue. Write returns immediately; when
// the queue is full the oldest envelope is dropped to make room.
func New(inner beacon.Sink, opts ...Option) beacon.Sink {
	cfg := config{
		queueSize:    1000,
		writeTimeout: 10 * time.Second,
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &asyncSink{
		inner: inner,
		cfg:   cfg,
		queue: make(chan beacon.EventEnvelope, cfg.queueSize),
		done:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.processLoop()
	return s
}

func (s *asyncSink) processLoop() {
	defer s.wg.Done()
	for {
		select {
		case envelope := <-s.queue:
			s.write(envelope)
		case <-s.done:
			for {
				select {
				case envelope := <-s.queue:
					s.write(envelope)
				default:
					return
				}
			}
		}
	}
}

func (s *asyncSink) write(envelope beacon.EventEnvelope) {
	defer s.pending.Add(-1)
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.writeTimeout)
	defer cancel()
	if err := s.inner.Write(ctx, envelope); err != nil {
		s.cfg.logger.Warn("async envelope write failed", "envelope", envelope.ID, "error", err)
	}
}

// Write enqueues envelope and returns immediately.
func (s *asyncSink) Write(ctx context.Context, envelope beacon.EventEnvelope) error {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return beacon.ErrSinkClosed
	}

	s.pending.Add(1)
	select {
	case s.queue <- envelope:
		return nil
	default:
		s.dropOldestAndEnqueue(envelope)
		return nil
	}
}

func (s *asyncSink) dropOldestAndEnqueue(envelope beacon.EventEnvelope) {
	select {
	case <-s.queue:
		s.dropped()
	default:
	}

	select {
	case s.queue <- envelope:
	default:
		s.dropped()
	}
}

func (s *asyncSink) dropped() {
	s.pending.Add(-1)
	if s.cfg.onDropped != nil {
		s.cfg.onDropped(1)
	}
}

// Flush blocks until every queued envelope has been written, then
// flushes the inner sink.
func (s *asyncSink) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for s.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return s.inner.Flush(ctx)
}

// Close drains the queue and closes the inner sink.
func (s *asyncSink) Close() error {
	s.closeOnce.Do(func() {
		s.closeMu.Lock()
		s.closed = true
		s.closeMu.Unlock()

		close(s.done)
		s.wg.Wait()
	})
	return s.inner.Close()
}
