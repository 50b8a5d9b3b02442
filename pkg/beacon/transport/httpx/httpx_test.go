package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/strongdm/beacon/pkg/beacon"
)

// recorder captures requests received by the test server.
type recorder struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []map[string]any
	status   int
}

func (r *recorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		r.mu.Lock()
		r.requests = append(r.requests, req)
		r.bodies = append(r.bodies, body)
		status := r.status
		r.mu.Unlock()
		if status == 0 {
			status = http.StatusAccepted
		}
		w.WriteHeader(status)
	}
}

func (r *recorder) get(i int) (*http.Request, map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[i], r.bodies[i]
}

func newTestTransport(t *testing.T, rec *recorder) *Transport {
	t.Helper()
	srv := httptest.NewServer(rec.handler(t))
	t.Cleanup(srv.Close)

	cfg := beacon.DefaultConfig()
	cfg.Endpoint = srv.URL + "/api/"
	cfg.APIKey = " secret "
	cfg.Platform = beacon.PlatformWorker
	transport, err := New(cfg)
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	return transport
}

func TestNew_Validation(t *testing.T) {
	cfg := beacon.DefaultConfig()
	cfg.APIKey = "k"
	if _, err := New(cfg); !errors.Is(err, beacon.ErrInvalidConfig) {
		t.Fatalf("missing endpoint err = %v, want ErrInvalidConfig", err)
	}

	cfg.Endpoint = "https://collector.example.com"
	cfg.APIKey = ""
	if _, err := New(cfg); !errors.Is(err, beacon.ErrInvalidConfig) {
		t.Fatalf("missing api key err = %v, want ErrInvalidConfig", err)
	}
}

func TestSendEnvelope(t *testing.T) {
	rec := &recorder{}
	transport := newTestTransport(t, rec)

	envelope := beacon.EventEnvelope{
		ID:        "evt-1",
		Timestamp: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Message:   "boom",
		Level:     beacon.LevelError,
		Platform:  beacon.PlatformWorker,
		Context:   map[string]any{},
		Extra:     map[string]any{"k": "v"},
		Session:   beacon.Session{ID: "s1", Environment: beacon.Production},
	}
	if err := transport.SendEnvelope(context.Background(), envelope); err != nil {
		t.Fatalf("send envelope: %v", err)
	}

	req, body := rec.get(0)
	if req.Method != http.MethodPost || req.URL.Path != "/api" {
		t.Errorf("request = %s %s, want POST /api", req.Method, req.URL.Path)
	}
	if got := req.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := req.Header.Get("x-api-key"); got != "secret" {
		t.Errorf("x-api-key = %q, want trimmed key", got)
	}
	if got := req.Header.Get("User-Agent"); got != "beacon-go/"+beacon.Version+"/worker" {
		t.Errorf("User-Agent = %q", got)
	}
	if body["id"] != "evt-1" || body["level"] != "error" || body["message"] != "boom" {
		t.Errorf("unexpected envelope body %v", body)
	}
	session, _ := body["session"].(map[string]any)
	if session["id"] != "s1" {
		t.Errorf("session = %v", body["session"])
	}
}

func TestSendBatch(t *testing.T) {
	rec := &recorder{}
	transport := newTestTransport(t, rec)

	batch := beacon.Batch{
		SessionID:   "s1",
		Environment: beacon.Development,
		Platform:    beacon.PlatformWorker,
		Adapter:     "go",
		Metrics: []beacon.MetricRecord{
			{Type: "runtime", Name: "heap", Value: 1024, Unit: "bytes"},
			{Type: "runtime", Name: "goroutines", Value: 12},
		},
	}
	if err := transport.SendBatch(context.Background(), batch); err != nil {
		t.Fatalf("send batch: %v", err)
	}

	req, body := rec.get(0)
	if req.URL.Path != "/api/performance/batch" {
		t.Errorf("path = %s", req.URL.Path)
	}
	for key, want := range map[string]string{
		"sessionId":   "s1",
		"environment": "development",
		"platform":    "worker",
		"adapter":     "go",
	} {
		if body[key] != want {
			t.Errorf("%s = %v, want %q", key, body[key], want)
		}
	}
	metrics, _ := body["metrics"].([]any)
	if len(metrics) != 2 {
		t.Fatalf("metrics = %v", body["metrics"])
	}
	first := metrics[0].(map[string]any)
	if first["name"] != "heap" || first["value"] != float64(1024) || first["unit"] != "bytes" {
		t.Errorf("first metric = %v", first)
	}
}

func TestSendCritical_MergesSessionLabels(t *testing.T) {
	rec := &recorder{}
	transport := newTestTransport(t, rec)

	metric := beacon.CriticalMetric{
		MetricRecord: beacon.MetricRecord{Type: "startup", Name: "startup.duration", Value: 250, Unit: "ms"},
		SessionID:    "s1",
		Environment:  beacon.Production,
		Platform:     beacon.PlatformWorker,
	}
	if err := transport.SendCritical(context.Background(), metric); err != nil {
		t.Fatalf("send critical: %v", err)
	}

	req, body := rec.get(0)
	if req.URL.Path != "/api/performance/metric" {
		t.Errorf("path = %s", req.URL.Path)
	}
	if body["name"] != "startup.duration" || body["sessionId"] != "s1" || body["platform"] != "worker" {
		t.Errorf("critical body should be flat, got %v", body)
	}
}

func TestStatusErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrUnauthorized},
		{http.StatusBadRequest, ErrInvalidArgument},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusServiceUnavailable, ErrUnexpectedStatus},
		{http.StatusMovedPermanently, ErrUnexpectedStatus},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			rec := &recorder{status: tt.status}
			transport := newTestTransport(t, rec)

			err := transport.SendBatch(context.Background(), beacon.Batch{SessionID: "s1"})
			if !errors.Is(err, tt.want) {
				t.Fatalf("status %d err = %v, want %v", tt.status, err, tt.want)
			}
		})
	}
}

func TestSendNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := beacon.DefaultConfig()
	cfg.Endpoint = url
	cfg.APIKey = "k"
	transport, err := New(cfg, WithHTTPClient(&http.Client{Timeout: time.Second}))
	if err != nil {
		t.Fatal(err)
	}
	if err := transport.SendEnvelope(context.Background(), beacon.EventEnvelope{}); err == nil {
		t.Fatal("expected error from a closed server")
	}
}

func TestEngineDeliversThroughHTTP(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	cfg := beacon.DefaultConfig()
	cfg.Endpoint = srv.URL
	cfg.APIKey = "k"
	transport, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	engine, err := beacon.New(cfg, beacon.WithTransport(transport))
	if err != nil {
		t.Fatal(err)
	}

	engine.AddMetric(beacon.MetricRecord{Type: "runtime", Name: "heap", Value: 1})
	engine.CaptureMessage(context.Background(), "hello", beacon.LevelInfo, nil)
	if err := engine.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	paths := map[string]int{}
	for _, req := range rec.requests {
		paths[req.URL.Path]++
	}
	if paths["/"] != 1 && paths[""] != 1 {
		t.Errorf("expected one envelope request, got %v", paths)
	}
	if paths["/performance/batch"] != 1 {
		t.Errorf("expected one batch request, got %v", paths)
	}
}
