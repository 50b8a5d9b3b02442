// Package httpx delivers envelopes and metric batches to the collector
// over HTTP with JSON bodies. Each call is a single request; retries are
// the caller's concern.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/strongdm/beacon/pkg/beacon"
)

const (
	defaultTimeout   = 10 * time.Second
	maxErrorBodySize = 4096

	batchPath    = "/performance/batch"
	criticalPath = "/performance/metric"
)

// ErrUnauthorized indicates the collector rejected the API key.
var ErrUnauthorized = errors.New("collector unauthorized")

// ErrInvalidArgument indicates the collector rejected the payload.
var ErrInvalidArgument = errors.New("collector invalid argument")

// ErrNotFound indicates the collector endpoint does not exist.
var ErrNotFound = errors.New("collector endpoint not found")

// ErrUnexpectedStatus indicates any other non-2xx response.
var ErrUnexpectedStatus = errors.New("collector unexpected status")

// Option configures a Transport.
type Option func(*Transport)

// WithHTTPClient sets the client used for requests. A zero client
// timeout is replaced with the default.
func WithHTTPClient(client *http.Client) Option {
	return func(t *Transport) {
		if client != nil {
			t.client = client
		}
	}
}

// Transport implements beacon.Transport over HTTP.
type Transport struct {
	baseURL   string
	apiKey    string
	userAgent string
	client    *http.Client
}

var _ beacon.Transport = (*Transport)(nil)

// New creates a transport for cfg.Endpoint authenticated with cfg.APIKey.
func New(cfg beacon.Config, opts ...Option) (*Transport, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", beacon.ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: api key is required", beacon.ErrInvalidConfig)
	}
	platform := cfg.Platform
	if platform == "" {
		platform = beacon.PlatformUnknown
	}

	t := &Transport{
		baseURL:   endpoint,
		apiKey:    strings.TrimSpace(cfg.APIKey),
		userAgent: beacon.UserAgent(platform),
		client:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.client.Timeout == 0 {
		t.client.Timeout = defaultTimeout
	}
	return t, nil
}

// SendEnvelope posts one envelope to the endpoint root.
func (t *Transport) SendEnvelope(ctx context.Context, envelope beacon.EventEnvelope) error {
	return t.post(ctx, "", envelope)
}

// SendBatch posts one metric batch.
func (t *Transport) SendBatch(ctx context.Context, batch beacon.Batch) error {
	return t.post(ctx, batchPath, batch)
}

// SendCritical posts a single metric outside of batching.
func (t *Transport) SendCritical(ctx context.Context, metric beacon.CriticalMetric) error {
	return t.post(ctx, criticalPath, metric)
}

func (t *Transport) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", t.apiKey)
	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorForStatus(resp)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodySize))
	return nil
}

func errorForStatus(resp *http.Response) error {
	buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	summary := strings.TrimSpace(string(buf))
	if summary == "" {
		summary = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, summary)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrInvalidArgument, summary)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, summary)
	default:
		return fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, summary)
	}
}
