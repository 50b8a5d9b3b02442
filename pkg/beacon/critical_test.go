package beacon

import (
	"context"
	"errors"
	"testing"
)

func TestCriticalSender_SendsImmediately(t *testing.T) {
	transport := newTestTransport()
	sessions := NewSessionManager(nil, SessionConfig{Address: "127.0.0.1"})
	sender := NewCriticalSender(transport, sessions, Production, PlatformCLI, 0, 0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := sender.Send(ctx, MetricRecord{Type: "startup", Name: "startup.duration", Value: float64(i)}); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	criticals := transport.getCriticals()
	if len(criticals) != 5 {
		t.Fatalf("Expected 5 critical sends with no limit, got %d", len(criticals))
	}
	if criticals[0].SessionID != sessions.SessionID(ctx) || criticals[0].Platform != PlatformCLI || criticals[0].Environment != Production {
		t.Errorf("critical metric labels = %+v", criticals[0])
	}
}

func TestCriticalSender_ReportsFailureWithoutRetry(t *testing.T) {
	transport := newTestTransport()
	transport.sendErr = errNetwork
	sessions := NewSessionManager(nil, SessionConfig{Address: "127.0.0.1"})
	sender := NewCriticalSender(transport, sessions, Production, PlatformServer, 100, 10)

	err := sender.Send(context.Background(), MetricRecord{Name: "x"})
	if !errors.Is(err, errNetwork) {
		t.Errorf("Send err = %v, want network error", err)
	}
	if len(transport.getCriticals()) != 0 {
		t.Error("failed sends are not recorded or retried")
	}
}

func TestCriticalSender_RateLimited(t *testing.T) {
	transport := newTestTransport()
	sessions := NewSessionManager(nil, SessionConfig{Address: "127.0.0.1"})
	sender := NewCriticalSender(transport, sessions, Production, PlatformServer, 0.01, 2)
	ctx := context.Background()

	var limited int
	for i := 0; i < 5; i++ {
		if errors.Is(sender.Send(ctx, MetricRecord{Name: "x"}), ErrCriticalRateLimited) {
			limited++
		}
	}
	if limited != 3 {
		t.Errorf("limited = %d, want 3 (burst of 2)", limited)
	}
	if got := len(transport.getCriticals()); got != 2 {
		t.Errorf("delivered = %d, want 2", got)
	}
}
