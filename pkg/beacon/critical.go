// critical.go sends single metrics immediately, bypassing the buffers.

package beacon

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/time/rate"
)

// ErrCriticalRateLimited is returned when a critical-path send exceeds the
// configured rate. The metric is dropped.
var ErrCriticalRateLimited = errors.New("critical metric rate limited")

// CriticalSender delivers one metric per call through
// Transport.SendCritical. There is no buffering and no retry.
type CriticalSender struct {
	transport Transport
	sessions  *SessionManager
	env       Environment
	platform  string
	limiter   *rate.Limiter
	logger    *slog.Logger
	stats     Stats
}

// NewCriticalSender creates a sender allowing perSecond sustained sends
// with the given burst. A non-positive perSecond disables the limit.
func NewCriticalSender(transport Transport, sessions *SessionManager, env Environment, platform string, perSecond float64, burst int) *CriticalSender {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &CriticalSender{
		transport: transport,
		sessions:  sessions,
		env:       env,
		platform:  platform,
		limiter:   rate.NewLimiter(limit, burst),
		logger:    slog.New(slog.DiscardHandler),
		stats:     nopStats{},
	}
}

// Send delivers record immediately, labelled with the current session.
func (c *CriticalSender) Send(ctx context.Context, record MetricRecord) error {
	if !c.limiter.Allow() {
		c.stats.RecordCritical(ErrCriticalRateLimited)
		return ErrCriticalRateLimited
	}
	metric := CriticalMetric{
		MetricRecord: record,
		SessionID:    c.sessions.SessionID(ctx),
		Environment:  c.env,
		Platform:     c.platform,
	}
	err := c.transport.SendCritical(ctx, metric)
	c.stats.RecordCritical(err)
	if err != nil {
		c.logger.Warn("critical metric delivery failed", "metric", record.Name, "session", metric.SessionID, "error", err)
	}
	return err
}
