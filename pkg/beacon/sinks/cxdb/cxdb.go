// Package cxdb provides a sink that archives envelopes into cxdb as
// SystemMessage items, one cxdb context per beacon session.
package cxdb

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	cxdbclient "github.com/strongdm/ai-cxdb/clients/go"
	cxdtypes "github.com/strongdm/ai-cxdb/clients/go/types"
	"github.com/strongdm/beacon/pkg/beacon"
)

// ContextIDKey is the Extra field that pins an envelope to an existing
// cxdb context instead of the session's context. The value may be a
// uint64 or a decimal string.
const ContextIDKey = "cxdb_context_id"

// Client is the minimal interface for cxdb client operations.
// The real *cxdb.Client satisfies this interface.
type Client interface {
	CreateContext(ctx context.Context, baseTurnID uint64) (*cxdbclient.ContextHead, error)
	AppendTurn(ctx context.Context, req *cxdbclient.AppendRequest) (*cxdbclient.AppendResult, error)
}

// Option configures the cxdb sink.
type Option func(*config)

type config struct {
	labels    []string
	clientTag string
	minLevel  beacon.Level
}

// WithLabels sets the labels of contexts the sink creates.
func WithLabels(labels []string) Option {
	return func(c *config) {
		c.labels = labels
	}
}

// WithClientTag sets the client tag of contexts the sink creates.
func WithClientTag(tag string) Option {
	return func(c *config) {
		c.clientTag = tag
	}
}

// WithMinLevel skips envelopes less severe than level (default: warning).
func WithMinLevel(level beacon.Level) Option {
	return func(c *config) {
		c.minLevel = level
	}
}

type cxdbSink struct {
	client Client
	cfg    config

	mu       sync.Mutex
	sessions map[string]uint64
}

// New creates a sink that writes to cxdb.
func New(client Client, opts ...Option) beacon.Sink {
	cfg := config{
		labels:    []string{"beacon", "telemetry"},
		clientTag: "beacon",
		minLevel:  beacon.LevelWarning,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &cxdbSink{
		client:   client,
		cfg:      cfg,
		sessions: make(map[string]uint64),
	}
}

// Write appends the envelope to its session's context, creating the
// context on the session's first envelope.
func (s *cxdbSink) Write(ctx context.Context, envelope beacon.EventEnvelope) error {
	if severity(envelope.Level) < severity(s.cfg.minLevel) {
		return nil
	}

	contextID, created, err := s.resolveContext(ctx, envelope)
	if err != nil {
		return err
	}

	payload, err := cxdbclient.EncodeMsgpack(s.buildConversationItem(envelope, created))
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req := &cxdbclient.AppendRequest{
		ContextID:      contextID,
		ParentTurnID:   0,
		TypeID:         cxdtypes.TypeIDConversationItem,
		TypeVersion:    cxdtypes.TypeVersionConversationItem,
		Payload:        payload,
		IdempotencyKey: envelope.ID,
	}
	if _, err := s.client.AppendTurn(ctx, req); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// resolveContext returns the cxdb context for envelope and whether it
// was created by this call.
func (s *cxdbSink) resolveContext(ctx context.Context, envelope beacon.EventEnvelope) (uint64, bool, error) {
	if id, ok := pinnedContextID(envelope.Extra); ok {
		return id, false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.sessions[envelope.Session.ID]; ok {
		return id, false, nil
	}
	head, err := s.client.CreateContext(ctx, 0)
	if err != nil {
		return 0, false, fmt.Errorf("create session context: %w", err)
	}
	if envelope.Session.ID != "" {
		s.sessions[envelope.Session.ID] = head.ContextID
	}
	return head.ContextID, true, nil
}

func pinnedContextID(extra map[string]any) (uint64, bool) {
	switch v := extra[ContextIDKey].(type) {
	case uint64:
		return v, true
	case string:
		id, err := strconv.ParseUint(v, 10, 64)
		return id, err == nil
	}
	return 0, false
}

func (s *cxdbSink) buildConversationItem(envelope beacon.EventEnvelope, created bool) *cxdtypes.ConversationItem {
	title := string(envelope.Level)
	if envelope.ErrorType != "" {
		title = envelope.ErrorType
	}
	if envelope.Message != "" {
		const maxMsgLen = 80
		msg := envelope.Message
		if len(msg) > maxMsgLen {
			msg = msg[:maxMsgLen] + "..."
		}
		title += ": " + msg
	}
	if len(title) > 100 {
		title = title[:97] + "..."
	}

	item := &cxdtypes.ConversationItem{
		ItemType:  cxdtypes.ItemTypeSystem,
		Status:    cxdtypes.ItemStatusComplete,
		Timestamp: envelope.Timestamp.UnixMilli(),
		ID:        envelope.ID,
		System: &cxdtypes.SystemMessage{
			Kind:    cxdtypes.SystemKindError,
			Title:   title,
			Content: buildDetails(envelope),
		},
	}

	// cxdb expects context metadata on the first turn only.
	if created {
		item.ContextMetadata = &cxdtypes.ContextMetadata{
			Labels:    s.cfg.labels,
			ClientTag: s.cfg.clientTag,
		}
	}
	return item
}

// buildDetails encodes the envelope as JSON for SystemMessage.Content.
func buildDetails(envelope beacon.EventEnvelope) string {
	details := map[string]any{
		"envelope_id": envelope.ID,
		"level":       string(envelope.Level),
		"platform":    envelope.Platform,
		"message":     envelope.Message,
		"fingerprint": envelope.Fingerprint,
		"session_id":  envelope.Session.ID,
		"environment": string(envelope.Session.Environment),
	}
	if envelope.ErrorType != "" {
		details["error_type"] = envelope.ErrorType
	}
	if envelope.Stack != "" {
		details["stack_trace"] = envelope.Stack
	}
	if len(envelope.Context) > 0 {
		details["context"] = envelope.Context
	}
	if len(envelope.Extra) > 0 {
		details["extra"] = envelope.Extra
	}

	jsonBytes, err := json.Marshal(details)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to encode details: %s"}`, err)
	}
	return string(jsonBytes)
}

func severity(level beacon.Level) int {
	switch level {
	case beacon.LevelError:
		return 2
	case beacon.LevelWarning:
		return 1
	}
	return 0
}

// Flush is a no-op for the cxdb sink (writes are synchronous).
func (s *cxdbSink) Flush(ctx context.Context) error {
	return nil
}

// Close is a no-op for the cxdb sink.
func (s *cxdbSink) Close() error {
	return nil
}
