// runner.go polls producers and forwards their samples.

package producers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/strongdm/beacon/pkg/beacon"
	"github.com/strongdm/beacon/pkg/clock"
)

// DefaultInterval is the polling interval used when none is configured.
const DefaultInterval = 15 * time.Second

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithClock sets the clock driving the poll ticker.
func WithClock(clk clock.Clock) RunnerOption {
	return func(r *Runner) { r.clock = clk }
}

// WithLogger sets the logger for producer failures.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// Runner polls a fixed set of producers. A producer that errors or
// panics is logged and skipped for that round; the others still run.
type Runner struct {
	sink      MetricSink
	producers []Producer
	interval  time.Duration
	clock     clock.Clock
	logger    *slog.Logger
}

// NewRunner creates a runner feeding sink from producers.
func NewRunner(sink MetricSink, producers []Producer, opts ...RunnerOption) *Runner {
	r := &Runner{
		sink:      sink,
		producers: producers,
		interval:  DefaultInterval,
		clock:     clock.Real(),
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run collects once immediately and then on every tick until ctx is
// done. It returns ctx.Err().
func (r *Runner) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	r.CollectOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.CollectOnce(ctx)
		}
	}
}

// CollectOnce runs every producer once and returns the number of records
// forwarded.
func (r *Runner) CollectOnce(ctx context.Context) int {
	forwarded := 0
	for _, p := range r.producers {
		records, err := r.collect(ctx, p)
		if err != nil {
			r.logger.Warn("metric producer failed", "producer", p.Name(), "error", err)
			continue
		}
		for _, record := range records {
			r.sink.AddMetric(record)
		}
		forwarded += len(records)
	}
	return forwarded
}

func (r *Runner) collect(ctx context.Context, p Producer) (records []beacon.MetricRecord, err error) {
	defer func() {
		if v := recover(); v != nil {
			records = nil
			err = fmt.Errorf("producer panicked: %v", v)
		}
	}()
	return p.Collect(ctx)
}
