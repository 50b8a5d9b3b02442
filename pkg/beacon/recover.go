// recover.go provides panic recovery helpers for code outside an adapter.
// Use them in HTTP handlers, goroutines, or job loops.

package beacon

import (
	"context"
	"fmt"
)

// PanicError carries a recovered panic value as an error so it can be
// captured like any other failure.
type PanicError struct {
	Value any
}

func (p *PanicError) Error() string {
	return "panic: " + formatRecovered(p.Value)
}

// Unwrap returns the panic value when it was an error.
func (p *PanicError) Unwrap() error {
	err, _ := p.Value.(error)
	return err
}

// Recover captures a panic as an error envelope and returns the recovered
// value. It does NOT re-panic.
//
// Use in defer:
//
//	func handler(ctx context.Context) {
//	    defer beacon.Recover(ctx, engine)
//	    // code that might panic
//	}
func Recover(ctx context.Context, capturer Capturer) any {
	r := recover()
	if r == nil {
		return nil
	}
	capturePanic(ctx, capturer, r)
	return r
}

// RecoverAndRepanic captures a panic and then panics again with the same
// value, leaving the host's crash behaviour unchanged.
//
//	defer beacon.RecoverAndRepanic(ctx, engine)
func RecoverAndRepanic(ctx context.Context, capturer Capturer) {
	r := recover()
	if r == nil {
		return
	}
	capturePanic(ctx, capturer, r)
	panic(r)
}

func capturePanic(ctx context.Context, capturer Capturer, recovered any) {
	if capturer == nil {
		return
	}
	capturer.CaptureException(ctx, &PanicError{Value: recovered}, map[string]any{"mechanism": "panic"})
}

// formatRecovered formats a recovered panic value as a string.
func formatRecovered(recovered any) string {
	if recovered == nil {
		return "<nil>"
	}
	if err, ok := recovered.(error); ok {
		return err.Error()
	}
	return fmt.Sprintf("%v", recovered)
}
