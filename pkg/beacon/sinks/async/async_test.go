package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/strongdm/beacon/pkg/beacon"
)

// slowSink is a test sink that can be slow and tracks envelopes.
type slowSink struct {
	mu        sync.Mutex
	envelopes []beacon.EventEnvelope
	delay     time.Duration
	gate      chan struct{}
	writeErr  error
	closed    atomic.Bool
}

func (s *slowSink) Write(ctx context.Context, envelope beacon.EventEnvelope) error {
	if s.gate != nil {
		<-s.gate
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.writeErr != nil {
		return s.writeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envelopes = append(s.envelopes, envelope)
	return nil
}

func (s *slowSink) Flush(ctx context.Context) error {
	return nil
}

func (s *slowSink) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *slowSink) getEnvelopes() []beacon.EventEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]beacon.EventEnvelope, len(s.envelopes))
	copy(result, s.envelopes)
	return result
}

func TestAsyncSink_ImplementsSinkInterface(t *testing.T) {
	var _ beacon.Sink = New(&slowSink{})
}

func TestAsyncSink_Write_ReturnsImmediately(t *testing.T) {
	inner := &slowSink{delay: 100 * time.Millisecond}
	sink := New(inner, WithQueueSize(100))
	defer sink.Close()

	start := time.Now()
	if err := sink.Write(context.Background(), beacon.EventEnvelope{ID: "evt-1"}); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Errorf("Write took %v, should return immediately", elapsed)
	}
}

func TestAsyncSink_Flush_WaitsForQueuedEnvelopes(t *testing.T) {
	inner := &slowSink{delay: 5 * time.Millisecond}
	sink := New(inner)
	defer sink.Close()

	for i := 0; i < 10; i++ {
		_ = sink.Write(context.Background(), beacon.EventEnvelope{ID: string(rune('a' + i))})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sink.Flush(ctx); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	if got := len(inner.getEnvelopes()); got != 10 {
		t.Errorf("after Flush inner has %d envelopes, want 10", got)
	}
}

func TestAsyncSink_Flush_RespectsContext(t *testing.T) {
	inner := &slowSink{gate: make(chan struct{})}
	sink := New(inner)
	defer func() {
		close(inner.gate)
		sink.Close()
	}()

	_ = sink.Write(context.Background(), beacon.EventEnvelope{ID: "stuck"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := sink.Flush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Flush err = %v, want deadline exceeded", err)
	}
}

func TestAsyncSink_DropsOldestWhenFull(t *testing.T) {
	inner := &slowSink{gate: make(chan struct{})}
	var dropped atomic.Int32
	sink := New(inner, WithQueueSize(2), WithOnDropped(func(count int) {
		dropped.Add(int32(count))
	}))

	// The first envelope is taken by the worker and blocks on the gate;
	// the rest fill the queue.
	_ = sink.Write(context.Background(), beacon.EventEnvelope{ID: "0"})
	deadline := time.Now().Add(time.Second)
	for len(sink.(*asyncSink).queue) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	for _, id := range []string{"1", "2", "3", "4"} {
		_ = sink.Write(context.Background(), beacon.EventEnvelope{ID: id})
	}

	if got := dropped.Load(); got != 2 {
		t.Errorf("dropped = %d, want 2", got)
	}

	close(inner.gate)
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	var ids []string
	for _, e := range inner.getEnvelopes() {
		ids = append(ids, e.ID)
	}
	want := []string{"0", "3", "4"}
	if len(ids) != len(want) {
		t.Fatalf("delivered %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("delivered %v, want %v", ids, want)
			break
		}
	}
}

func TestAsyncSink_Close_DrainsAndClosesInner(t *testing.T) {
	inner := &slowSink{}
	sink := New(inner)

	for i := 0; i < 5; i++ {
		_ = sink.Write(context.Background(), beacon.EventEnvelope{ID: "x"})
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	if got := len(inner.getEnvelopes()); got != 5 {
		t.Errorf("Close drained %d envelopes, want 5", got)
	}
	if !inner.closed.Load() {
		t.Error("inner sink should be closed")
	}
	if err := sink.Write(context.Background(), beacon.EventEnvelope{}); !errors.Is(err, beacon.ErrSinkClosed) {
		t.Errorf("Write after Close err = %v, want ErrSinkClosed", err)
	}
}

func TestAsyncSink_InnerErrorsAreSwallowed(t *testing.T) {
	inner := &slowSink{writeErr: errors.New("down")}
	sink := New(inner)
	defer sink.Close()

	if err := sink.Write(context.Background(), beacon.EventEnvelope{ID: "x"}); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if err := sink.Flush(context.Background()); err != nil {
		t.Errorf("Flush returned error: %v", err)
	}
}
