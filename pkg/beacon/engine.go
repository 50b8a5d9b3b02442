// engine.go wires sessions, envelopes, metric buffers and delivery into
// the Engine handed to adapters and producers.

package beacon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/strongdm/beacon/pkg/clock"
)

// Capturer is the capture surface adapters and Recover depend on.
// *Engine implements it.
type Capturer interface {
	CaptureException(ctx context.Context, err error, extra map[string]any) string
	CaptureMessage(ctx context.Context, message string, level Level, extra map[string]any) string
	AddMetric(record MetricRecord)
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	transport Transport
	sink      Sink
	adapter   Adapter
	store     SessionStore
	logger    *slog.Logger
	clock     clock.Clock
	stats     Stats
	scrubber  *Scrubber
	onDropped func(BufferKey, int)
}

// WithTransport sets the delivery transport. Required.
func WithTransport(transport Transport) Option {
	return func(o *engineOptions) {
		o.transport = transport
	}
}

// WithSink replaces the envelope destination. By default envelopes go
// to the transport through NewTransportSink.
func WithSink(sink Sink) Option {
	return func(o *engineOptions) {
		o.sink = sink
	}
}

// WithAdapter sets the host adapter supplying the platform tag and
// ambient envelope context.
func WithAdapter(adapter Adapter) Option {
	return func(o *engineOptions) {
		o.adapter = adapter
	}
}

// WithSessionStore sets where the session record is persisted.
func WithSessionStore(store SessionStore) Option {
	return func(o *engineOptions) {
		o.store = store
	}
}

// WithLogger sets the logger for the engine's own diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// WithClock sets the clock driving timers and timestamps.
func WithClock(clk clock.Clock) Option {
	return func(o *engineOptions) {
		o.clock = clk
	}
}

// WithStats sets the self-instrumentation hook.
func WithStats(stats Stats) Option {
	return func(o *engineOptions) {
		o.stats = stats
	}
}

// WithScrubber enables scrubbing with a custom configuration.
func WithScrubber(cfg ScrubberConfig) Option {
	return func(o *engineOptions) {
		o.scrubber = NewScrubber(cfg)
	}
}

// WithDefaultScrubbing enables scrubbing with production-safe defaults.
func WithDefaultScrubbing() Option {
	return func(o *engineOptions) {
		o.scrubber = NewScrubber(DefaultScrubberConfig())
	}
}

// WithOnDropped sets a callback for metric records dropped by the buffer
// cap or after Close.
func WithOnDropped(fn func(key BufferKey, count int)) Option {
	return func(o *engineOptions) {
		o.onDropped = fn
	}
}

// Engine is the client-side telemetry engine. It is safe for concurrent
// use. Capture and metric methods never return delivery errors to the
// host; failures are logged and counted.
type Engine struct {
	cfg      Config
	platform string
	logger   *slog.Logger
	clock    clock.Clock
	stats    Stats
	scrubber *Scrubber

	sessions *SessionManager
	builder  *EnvelopeBuilder
	buffers  *BufferStore
	critical *CriticalSender
	sink     Sink

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New validates cfg and starts an engine. Nothing is started when
// validation fails.
func New(cfg Config, opts ...Option) (*Engine, error) {
	o := &engineOptions{}
	for _, opt := range opts {
		opt(o)
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if o.transport == nil {
		return nil, fmt.Errorf("%w: a transport is required", ErrInvalidConfig)
	}

	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.clock == nil {
		o.clock = clock.Real()
	}
	if o.stats == nil {
		o.stats = nopStats{}
	}
	if o.adapter == nil {
		o.adapter = NewStaticAdapter("go", cfg.Platform, runtimeContext())
	}
	if o.sink == nil {
		o.sink = NewTransportSink(o.transport)
	}

	platform := o.adapter.Platform()
	if platform == "" {
		platform = cfg.Platform
	}
	if !SupportedPlatform(platform) {
		return nil, fmt.Errorf("%w: unsupported adapter platform %q", ErrInvalidConfig, platform)
	}

	sessions := NewSessionManager(o.store, SessionConfig{
		Environment: cfg.Environment,
		UserAgent:   sessionUserAgent(platform),
		Clock:       o.clock,
		Logger:      o.logger,
	})

	buffers := NewBufferStore(o.transport, BufferConfig{
		BatchSize:       cfg.BatchSize,
		FlushInterval:   cfg.FlushInterval,
		MaxBuffered:     cfg.MaxBufferedRecords,
		DeliveryTimeout: cfg.DeliveryTimeout,
		Environment:     cfg.Environment,
		Adapter:         o.adapter.Name(),
		Clock:           o.clock,
		Logger:          o.logger,
		Stats:           o.stats,
		OnDropped:       o.onDropped,
	})

	critical := NewCriticalSender(o.transport, sessions, cfg.Environment, platform, cfg.CriticalRate, cfg.CriticalBurst)
	critical.logger = o.logger
	critical.stats = o.stats

	e := &Engine{
		cfg:      cfg,
		platform: platform,
		logger:   o.logger,
		clock:    o.clock,
		stats:    o.stats,
		scrubber: o.scrubber,
		sessions: sessions,
		builder:  NewEnvelopeBuilder(sessions, o.adapter, o.scrubber, o.clock),
		buffers:  buffers,
		critical: critical,
		sink:     o.sink,
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())

	ticker := o.clock.NewTicker(cfg.SweepInterval)
	e.wg.Add(1)
	go e.sweep(ticker)

	e.logger.Debug("beacon engine started",
		"platform", platform,
		"adapter", o.adapter.Name(),
		"environment", string(cfg.Environment))
	return e, nil
}

// Platform returns the platform tag metric buffers are keyed by.
func (e *Engine) Platform() string { return e.platform }

// Config returns the effective configuration, defaults applied.
func (e *Engine) Config() Config { return e.cfg }

// CaptureException sends err as an error envelope and returns the
// envelope ID. A nil err, or a closed engine, returns "".
func (e *Engine) CaptureException(ctx context.Context, err error, extra map[string]any) string {
	if err == nil {
		return ""
	}
	return e.capture(ctx, EventEnvelope{
		Message:   err.Error(),
		Stack:     string(debug.Stack()),
		Level:     LevelError,
		ErrorType: errorType(err),
		Extra:     extra,
	})
}

// CaptureMessage sends message at level and returns the envelope ID.
// Unknown levels are sent as info.
func (e *Engine) CaptureMessage(ctx context.Context, message string, level Level, extra map[string]any) string {
	if !level.Valid() {
		level = LevelInfo
	}
	return e.capture(ctx, EventEnvelope{
		Message: message,
		Level:   level,
		Extra:   extra,
	})
}

func (e *Engine) capture(ctx context.Context, partial EventEnvelope) string {
	if e.closed.Load() {
		e.logger.Debug("envelope dropped; engine closed", "level", string(partial.Level))
		return ""
	}
	envelope := e.builder.Build(ctx, partial)

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.DeliveryTimeout)
	defer cancel()
	err := e.sink.Write(sendCtx, envelope)
	e.stats.RecordEnvelope(envelope.Level, err)
	if err != nil {
		e.logger.Warn("envelope delivery failed; discarded",
			"envelope", envelope.ID,
			"session", envelope.Session.ID,
			"error", err)
	}
	return envelope.ID
}

// AddMetric buffers record under the current session and this engine's
// platform. A zero Timestamp is set to now.
func (e *Engine) AddMetric(record MetricRecord) {
	if record.Timestamp.IsZero() {
		record.Timestamp = e.clock.Now()
	}
	if e.scrubber != nil && record.Context != nil {
		record.Context = e.scrubber.ScrubFields(record.Context)
	}
	e.buffers.AddMetric(e.currentKey(context.Background()), record)
}

// SendCritical sends record immediately, outside of batching. Unlike the
// capture methods it reports the delivery outcome, including
// ErrCriticalRateLimited.
func (e *Engine) SendCritical(ctx context.Context, record MetricRecord) error {
	if e.closed.Load() {
		return ErrStoreClosed
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = e.clock.Now()
	}
	if e.scrubber != nil && record.Context != nil {
		record.Context = e.scrubber.ScrubFields(record.Context)
	}
	return e.critical.Send(ctx, record)
}

// Flush forces delivery of every metric buffer and flushes the envelope
// sink. Failed records stay buffered.
func (e *Engine) Flush(ctx context.Context) error {
	return errors.Join(e.buffers.FlushAll(ctx), e.sink.Flush(ctx))
}

// Buffers exposes the metric buffer store for inspection.
func (e *Engine) Buffers() *BufferStore { return e.buffers }

// Session returns the live session, creating it on first use.
func (e *Engine) Session(ctx context.Context) Session {
	return e.sessions.CurrentSession(ctx)
}

// EndSession flushes the live session's metrics, then ends it and
// returns the ended record. The next capture or metric starts a new
// session.
func (e *Engine) EndSession(ctx context.Context) (Session, error) {
	key := e.currentKey(ctx)
	flushErr := e.buffers.Flush(ctx, key)
	if flushErr != nil {
		e.logger.Warn("flush before session end failed", "key", key.String(), "error", flushErr)
	}
	ended, err := e.sessions.EndSession(ctx)
	if err != nil {
		return ended, err
	}
	e.logger.Info("session ended", "session", ended.ID, "duration_ms", *ended.DurationMs)
	return ended, nil
}

// Close stops the sweep, drains every metric buffer once and closes the
// envelope sink. ShutdownGrace and ctx bound the whole teardown, including
// a sweep already in progress. Later calls return the first result.
func (e *Engine) Close(ctx context.Context) error {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		graceCtx, cancel := context.WithTimeout(ctx, e.cfg.ShutdownGrace)
		defer cancel()

		var errs []error
		e.cancel()
		swept := make(chan struct{})
		go func() {
			e.wg.Wait()
			close(swept)
		}()
		select {
		case <-swept:
		case <-graceCtx.Done():
			errs = append(errs, fmt.Errorf("stop sweep: %w", graceCtx.Err()))
		}

		if err := e.buffers.Close(graceCtx); err != nil {
			errs = append(errs, fmt.Errorf("drain metric buffers: %w", err))
		}
		if err := e.sink.Flush(graceCtx); err != nil {
			errs = append(errs, fmt.Errorf("flush sink: %w", err))
		}
		if err := e.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink: %w", err))
		}
		e.closeErr = errors.Join(errs...)
		e.logger.Debug("beacon engine closed", "error", e.closeErr)
	})
	return e.closeErr
}

func (e *Engine) sweep(ticker *clock.Ticker) {
	defer e.wg.Done()
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(e.ctx, e.cfg.DeliveryTimeout)
			if err := e.buffers.FlushAll(ctx); err != nil {
				e.logger.Debug("periodic sweep left records buffered", "error", err)
			}
			cancel()
		}
	}
}

func (e *Engine) currentKey(ctx context.Context) BufferKey {
	return BufferKey{SessionID: e.sessions.SessionID(ctx), Platform: e.platform}
}

// errorType names the type of err, looking through fmt wrapping.
func errorType(err error) string {
	for {
		name := fmt.Sprintf("%T", err)
		if name != "*fmt.wrapError" && name != "*fmt.wrapErrors" {
			return name
		}
		next := errors.Unwrap(err)
		if next == nil {
			return name
		}
		err = next
	}
}

func runtimeContext() map[string]any {
	fields := map[string]any{
		"runtime": runtime.Version(),
		"os":      runtime.GOOS,
		"arch":    runtime.GOARCH,
	}
	if host, err := os.Hostname(); err == nil {
		fields["hostname"] = host
	}
	return fields
}
