package beacon

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

// mockCapturer records capture calls for verification in tests.
type mockCapturer struct {
	mu       sync.Mutex
	errs     []error
	extras   []map[string]any
	messages []string
	metrics  []MetricRecord
}

func (c *mockCapturer) CaptureException(ctx context.Context, err error, extra map[string]any) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
	c.extras = append(c.extras, extra)
	return "id"
}

func (c *mockCapturer) CaptureMessage(ctx context.Context, message string, level Level, extra map[string]any) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message)
	return "id"
}

func (c *mockCapturer) AddMetric(record MetricRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = append(c.metrics, record)
}

func (c *mockCapturer) getErrs() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]error, len(c.errs))
	copy(result, c.errs)
	return result
}

func TestRecover_CapturesPanic(t *testing.T) {
	capturer := &mockCapturer{}
	ctx := context.Background()

	func() {
		defer Recover(ctx, capturer)
		panic("test panic")
	}()

	errs := capturer.getErrs()
	if len(errs) != 1 {
		t.Fatalf("Expected 1 captured error, got %d", len(errs))
	}
	var panicErr *PanicError
	if !errors.As(errs[0], &panicErr) {
		t.Fatalf("captured %T, want *PanicError", errs[0])
	}
	if panicErr.Value != "test panic" {
		t.Errorf("Value = %v, want %q", panicErr.Value, "test panic")
	}
	if errs[0].Error() != "panic: test panic" {
		t.Errorf("Error() = %q", errs[0].Error())
	}
	if capturer.extras[0]["mechanism"] != "panic" {
		t.Errorf("extra mechanism = %v, want panic", capturer.extras[0]["mechanism"])
	}
}

func TestRecover_NoPanic(t *testing.T) {
	capturer := &mockCapturer{}

	func() {
		defer Recover(context.Background(), capturer)
	}()

	if len(capturer.getErrs()) != 0 {
		t.Error("Recover without a panic should capture nothing")
	}
}

func TestRecover_ErrorValueUnwraps(t *testing.T) {
	capturer := &mockCapturer{}
	sentinel := errors.New("disk on fire")

	func() {
		defer Recover(context.Background(), capturer)
		panic(sentinel)
	}()

	errs := capturer.getErrs()
	if len(errs) != 1 || !errors.Is(errs[0], sentinel) {
		t.Fatalf("captured %v, want error wrapping sentinel", errs)
	}
}

func TestRecoverAndRepanic_Repanics(t *testing.T) {
	capturer := &mockCapturer{}

	defer func() {
		r := recover()
		if r != "fatal" {
			t.Errorf("re-panicked with %v, want %q", r, "fatal")
		}
		if len(capturer.getErrs()) != 1 {
			t.Errorf("Expected 1 captured error before re-panic, got %d", len(capturer.getErrs()))
		}
	}()

	func() {
		defer RecoverAndRepanic(context.Background(), capturer)
		panic("fatal")
	}()
}

func TestRecover_WithEngine(t *testing.T) {
	engine, transport, _ := newTestEngine(t, testConfig())

	func() {
		defer Recover(context.Background(), engine)
		var m map[string]int
		m["x"] = 1
	}()

	envelopes := transport.getEnvelopes()
	if len(envelopes) != 1 {
		t.Fatalf("Expected 1 envelope, got %d", len(envelopes))
	}
	got := envelopes[0]
	if got.ErrorType != "*beacon.PanicError" {
		t.Errorf("ErrorType = %q", got.ErrorType)
	}
	if !strings.Contains(got.Message, "assignment to entry in nil map") {
		t.Errorf("Message = %q", got.Message)
	}
	if !strings.Contains(got.Stack, "TestRecover_WithEngine") {
		t.Error("stack should include the panicking function")
	}
}

func TestFormatRecovered(t *testing.T) {
	tests := []struct {
		input any
		want  string
	}{
		{nil, "<nil>"},
		{"text", "text"},
		{errors.New("err"), "err"},
		{42, "42"},
	}
	for _, tt := range tests {
		if got := formatRecovered(tt.input); got != tt.want {
			t.Errorf("formatRecovered(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
