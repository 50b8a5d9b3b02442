// Package promstats exports the engine's self-instrumentation as
// Prometheus metrics.
package promstats

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/strongdm/beacon/pkg/beacon"
)

const (
	outcomeOK          = "ok"
	outcomeError       = "error"
	outcomeRateLimited = "rate_limited"
)

// Collector implements beacon.Stats on top of Prometheus collectors.
type Collector struct {
	flushes        *prometheus.CounterVec
	flushedRecords *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	buffered       prometheus.Gauge
	envelopes      *prometheus.CounterVec
	critical       *prometheus.CounterVec
}

var _ beacon.Stats = (*Collector)(nil)

type options struct {
	namespace string
	subsystem string
}

// Option configures a Collector.
type Option func(*options)

// WithNamespace sets the metric namespace (default: "beacon").
func WithNamespace(ns string) Option {
	return func(o *options) { o.namespace = ns }
}

// WithSubsystem sets the metric subsystem (default: "engine").
func WithSubsystem(sub string) Option {
	return func(o *options) { o.subsystem = sub }
}

// New creates the collectors and registers them with reg, or with the
// default registerer when reg is nil. Collectors already registered under
// the same names are reused, so New may be called more than once.
func New(reg prometheus.Registerer, opts ...Option) *Collector {
	o := options{namespace: "beacon", subsystem: "engine"}
	for _, opt := range opts {
		opt(&o)
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Subsystem: o.subsystem,
			Name:      "batch_flushes_total",
			Help:      "Batch delivery attempts by platform and outcome",
		}, []string{"platform", "outcome"}),
		flushedRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Subsystem: o.subsystem,
			Name:      "flushed_records_total",
			Help:      "Metric records delivered in successful batches",
		}, []string{"platform"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Subsystem: o.subsystem,
			Name:      "dropped_records_total",
			Help:      "Metric records discarded because the buffer was full",
		}, []string{"platform"}),
		buffered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: o.namespace,
			Subsystem: o.subsystem,
			Name:      "buffered_records",
			Help:      "Metric records currently buffered across all keys",
		}),
		envelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Subsystem: o.subsystem,
			Name:      "envelopes_total",
			Help:      "Event envelope delivery attempts by level and outcome",
		}, []string{"level", "outcome"}),
		critical: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Subsystem: o.subsystem,
			Name:      "critical_sends_total",
			Help:      "Critical-path metric sends by outcome",
		}, []string{"outcome"}),
	}

	c.flushes = register(reg, c.flushes)
	c.flushedRecords = register(reg, c.flushedRecords)
	c.dropped = register(reg, c.dropped)
	c.buffered = register(reg, c.buffered)
	c.envelopes = register(reg, c.envelopes)
	c.critical = register(reg, c.critical)
	return c
}

func register[T prometheus.Collector](reg prometheus.Registerer, collector T) T {
	if err := reg.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return collector
}

func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, beacon.ErrCriticalRateLimited):
		return outcomeRateLimited
	default:
		return outcomeError
	}
}

func (c *Collector) RecordFlush(platform string, records int, err error) {
	c.flushes.WithLabelValues(platform, outcome(err)).Inc()
	if err == nil {
		c.flushedRecords.WithLabelValues(platform).Add(float64(records))
	}
}

func (c *Collector) RecordDropped(platform string, count int) {
	c.dropped.WithLabelValues(platform).Add(float64(count))
}

func (c *Collector) SetBuffered(count int) {
	c.buffered.Set(float64(count))
}

func (c *Collector) RecordEnvelope(level beacon.Level, err error) {
	c.envelopes.WithLabelValues(string(level), outcome(err)).Inc()
}

func (c *Collector) RecordCritical(err error) {
	c.critical.WithLabelValues(outcome(err)).Inc()
}
