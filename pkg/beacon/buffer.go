// buffer.go implements the per-key metric buffers and their flush scheduling.

package beacon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/strongdm/beacon/pkg/clock"
)

// ErrStoreClosed is returned by sends issued after Close.
var ErrStoreClosed = errors.New("buffer store is closed")

// FlushState is the scheduling state of one buffer key.
type FlushState int

const (
	// StateIdle: no timer armed and no delivery in flight.
	StateIdle FlushState = iota
	// StateArmed: an idle-flush timer is pending.
	StateArmed
	// StateInflight: a batch has been detached and is being delivered.
	StateInflight
)

func (s FlushState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateInflight:
		return "inflight"
	}
	return "unknown"
}

// BufferConfig configures a BufferStore.
type BufferConfig struct {
	// BatchSize is the record count that triggers an immediate flush (default: 50).
	BatchSize int

	// FlushInterval is how long a non-empty buffer may wait before an
	// idle flush fires (default: 30s).
	FlushInterval time.Duration

	// MaxBuffered caps the records held per key; the oldest are dropped
	// on overflow (default: 1000).
	MaxBuffered int

	// DeliveryTimeout bounds size- and timer-triggered deliveries (default: 10s).
	DeliveryTimeout time.Duration

	// Environment and Adapter label every batch.
	Environment Environment
	Adapter     string

	Clock  clock.Clock
	Logger *slog.Logger
	Stats  Stats

	// OnDropped is called, without locks held, when records are dropped.
	OnDropped func(key BufferKey, count int)
}

// BufferStatus describes one key for inspection.
type BufferStatus struct {
	Buffered int
	State    FlushState
}

type flushTrigger int

const (
	triggerSize flushTrigger = iota
	triggerTimer
	triggerForced
)

// keyBuffer is the state of one key. Guarded by BufferStore.mu.
type keyBuffer struct {
	records []MetricRecord
	state   FlushState
	timer   *clock.Timer

	// generation identifies the armed timer; stale callbacks are ignored.
	generation uint64

	// done is closed when the in-flight delivery completes.
	done chan struct{}

	// pending records a flush trigger that arrived while in flight.
	pending bool
}

// BufferStore accumulates metric records per BufferKey and delivers them
// in batches through a Transport.
//
// All buffer mutations happen under a single mutex and never across a
// network call. At most one delivery is in flight per key; a flush
// detaches the key's records before sending, so records added during the
// send are never part of it. A failed batch is merged back in front of
// newer records.
type BufferStore struct {
	transport Transport
	cfg       BufferConfig

	mu       sync.Mutex
	buffers  map[BufferKey]*keyBuffer
	buffered int
	closed   bool
}

// NewBufferStore creates a store delivering through transport.
func NewBufferStore(transport Transport, cfg BufferConfig) *BufferStore {
	if transport == nil {
		transport = noopTransport{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.MaxBuffered < cfg.BatchSize {
		cfg.MaxBuffered = max(DefaultMaxBufferedRecords, cfg.BatchSize)
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Stats == nil {
		cfg.Stats = nopStats{}
	}
	return &BufferStore{
		transport: transport,
		cfg:       cfg,
		buffers:   make(map[BufferKey]*keyBuffer),
	}
}

// AddMetric appends record to the buffer for key. Reaching BatchSize
// detaches the buffer immediately and delivers it in the background;
// otherwise an idle timer is armed if none is pending. Records added after
// Close are dropped.
func (s *BufferStore) AddMetric(key BufferKey, record MetricRecord) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.reportDropped(key, 1)
		return
	}

	buf, ok := s.buffers[key]
	if !ok {
		buf = &keyBuffer{}
		s.buffers[key] = buf
	}
	buf.records = append(buf.records, record)
	s.buffered++
	dropped := s.enforceCapLocked(buf)

	var batch []MetricRecord
	switch {
	case buf.state == StateInflight:
		if len(buf.records) >= s.cfg.BatchSize {
			buf.pending = true
		}
	case len(buf.records) >= s.cfg.BatchSize:
		batch = s.detachLocked(buf)
	case buf.state == StateIdle:
		s.armLocked(key, buf)
	}
	buffered := s.buffered
	s.mu.Unlock()

	s.cfg.Stats.SetBuffered(buffered)
	if dropped > 0 {
		s.reportDropped(key, dropped)
	}
	if batch != nil {
		go s.deliverBackground(key, batch, triggerSize)
	}
}

// Flush forces delivery of everything buffered for key. If a delivery is
// already in flight for key, Flush waits for it first. Returns the
// delivery error, if any; failed records stay buffered.
func (s *BufferStore) Flush(ctx context.Context, key BufferKey) error {
	for {
		s.mu.Lock()
		buf, ok := s.buffers[key]
		if !ok {
			s.mu.Unlock()
			return nil
		}
		if buf.state == StateInflight {
			done := buf.done
			s.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		batch := s.detachLocked(buf)
		buffered := s.buffered
		s.mu.Unlock()

		if batch == nil {
			return nil
		}
		s.cfg.Stats.SetBuffered(buffered)
		return s.deliver(ctx, key, batch, triggerForced)
	}
}

// FlushAll forces delivery of every known key and joins the errors.
func (s *BufferStore) FlushAll(ctx context.Context) error {
	var errs []error
	for _, key := range s.Keys() {
		if err := s.Flush(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops accepting records, cancels every idle timer and drains every
// key once. Keys with nothing in flight are sent first; keys with an
// in-flight delivery are then waited for and flushed. ctx bounds both;
// records of a key still in flight when it expires are lost, other keys
// are unaffected.
func (s *BufferStore) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancelTimersLocked()
	s.mu.Unlock()

	var errs []error
	var busy []BufferKey
	for _, key := range s.Keys() {
		batch, inflight := s.detachIdle(key)
		if inflight {
			busy = append(busy, key)
			continue
		}
		if batch == nil {
			continue
		}
		if err := s.deliver(ctx, key, batch, triggerForced); err != nil {
			errs = append(errs, err)
		}
	}
	for _, key := range busy {
		if err := s.Flush(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("drain %s: %w", key, err))
		}
	}

	s.mu.Lock()
	s.cancelTimersLocked()
	s.mu.Unlock()
	return errors.Join(errs...)
}

// detachIdle detaches the records of key unless a delivery is in flight.
func (s *BufferStore) detachIdle(key BufferKey) (batch []MetricRecord, inflight bool) {
	s.mu.Lock()
	buf, ok := s.buffers[key]
	if !ok {
		s.mu.Unlock()
		return nil, false
	}
	if buf.state == StateInflight {
		s.mu.Unlock()
		return nil, true
	}
	batch = s.detachLocked(buf)
	buffered := s.buffered
	s.mu.Unlock()

	if batch != nil {
		s.cfg.Stats.SetBuffered(buffered)
	}
	return batch, false
}

// Keys returns the keys the store has seen.
func (s *BufferStore) Keys() []BufferKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]BufferKey, 0, len(s.buffers))
	for key := range s.buffers {
		keys = append(keys, key)
	}
	return keys
}

// Pending returns a copy of the records buffered for key, in order.
// Records of an in-flight batch are not included.
func (s *BufferStore) Pending(key BufferKey) []MetricRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.buffers[key]
	if !ok {
		return nil
	}
	return append([]MetricRecord(nil), buf.records...)
}

// Status reports the buffered count and scheduling state of key.
func (s *BufferStore) Status(key BufferKey) BufferStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.buffers[key]
	if !ok {
		return BufferStatus{State: StateIdle}
	}
	return BufferStatus{Buffered: len(buf.records), State: buf.state}
}

// detachLocked swaps out the key's records and marks it in flight.
// Returns nil, leaving the key idle, when there is nothing to send.
func (s *BufferStore) detachLocked(buf *keyBuffer) []MetricRecord {
	if buf.timer != nil {
		buf.timer.Stop()
		buf.timer = nil
		buf.generation++
	}
	buf.pending = false
	if len(buf.records) == 0 {
		buf.state = StateIdle
		return nil
	}
	batch := buf.records
	buf.records = nil
	s.buffered -= len(batch)
	buf.state = StateInflight
	buf.done = make(chan struct{})
	return batch
}

// armLocked schedules an idle flush for key.
func (s *BufferStore) armLocked(key BufferKey, buf *keyBuffer) {
	buf.generation++
	generation := buf.generation
	buf.timer = s.cfg.Clock.AfterFunc(s.cfg.FlushInterval, func() {
		s.onTimer(key, generation)
	})
	buf.state = StateArmed
}

func (s *BufferStore) onTimer(key BufferKey, generation uint64) {
	s.mu.Lock()
	buf, ok := s.buffers[key]
	if !ok || buf.generation != generation || buf.state != StateArmed {
		s.mu.Unlock()
		return
	}
	batch := s.detachLocked(buf)
	buffered := s.buffered
	s.mu.Unlock()

	if batch == nil {
		return
	}
	s.cfg.Stats.SetBuffered(buffered)
	s.deliverBackground(key, batch, triggerTimer)
}

func (s *BufferStore) deliverBackground(key BufferKey, batch []MetricRecord, trigger flushTrigger) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DeliveryTimeout)
	defer cancel()
	_ = s.deliver(ctx, key, batch, trigger)
}

// deliver sends batch and settles the key's state. A success followed by
// a replayed trigger sends the next batch in the same call.
func (s *BufferStore) deliver(ctx context.Context, key BufferKey, batch []MetricRecord, trigger flushTrigger) error {
	var errs []error
	for batch != nil {
		err := s.transport.SendBatch(ctx, s.batchFor(key, batch))
		s.cfg.Stats.RecordFlush(key.Platform, len(batch), err)

		var next []MetricRecord
		dropped := 0

		s.mu.Lock()
		buf := s.buffers[key]
		close(buf.done)
		buf.done = nil
		buf.state = StateIdle
		pending := buf.pending
		buf.pending = false

		if err != nil {
			merged := make([]MetricRecord, 0, len(batch)+len(buf.records))
			merged = append(merged, batch...)
			buf.records = append(merged, buf.records...)
			s.buffered += len(batch)
			dropped = s.enforceCapLocked(buf)
			if trigger != triggerForced && !s.closed {
				s.armLocked(key, buf)
			}
		} else if len(buf.records) > 0 {
			if pending || len(buf.records) >= s.cfg.BatchSize || s.closed {
				next = s.detachLocked(buf)
			} else {
				s.armLocked(key, buf)
			}
		}
		buffered := s.buffered
		s.mu.Unlock()

		s.cfg.Stats.SetBuffered(buffered)
		if dropped > 0 {
			s.reportDropped(key, dropped)
		}
		if err != nil {
			s.cfg.Logger.Warn("metric batch delivery failed; records kept for retry",
				"key", key.String(), "records", len(batch), "error", err)
			errs = append(errs, err)
		} else {
			s.cfg.Logger.Debug("metric batch delivered", "key", key.String(), "records", len(batch))
		}
		batch = next
	}
	return errors.Join(errs...)
}

// enforceCapLocked drops the oldest records beyond MaxBuffered and
// returns how many were dropped.
func (s *BufferStore) enforceCapLocked(buf *keyBuffer) int {
	overflow := len(buf.records) - s.cfg.MaxBuffered
	if overflow <= 0 {
		return 0
	}
	kept := make([]MetricRecord, s.cfg.MaxBuffered)
	copy(kept, buf.records[overflow:])
	buf.records = kept
	s.buffered -= overflow
	return overflow
}

func (s *BufferStore) cancelTimersLocked() {
	for _, buf := range s.buffers {
		if buf.timer != nil {
			buf.timer.Stop()
			buf.timer = nil
			buf.generation++
		}
		if buf.state == StateArmed {
			buf.state = StateIdle
		}
	}
}

func (s *BufferStore) reportDropped(key BufferKey, count int) {
	s.cfg.Stats.RecordDropped(key.Platform, count)
	s.cfg.Logger.Warn("metric records dropped", "key", key.String(), "records", count)
	if s.cfg.OnDropped != nil {
		s.cfg.OnDropped(key, count)
	}
}

func (s *BufferStore) batchFor(key BufferKey, records []MetricRecord) Batch {
	return Batch{
		SessionID:   key.SessionID,
		Environment: s.cfg.Environment,
		Platform:    key.Platform,
		Adapter:     s.cfg.Adapter,
		Metrics:     records,
	}
}
