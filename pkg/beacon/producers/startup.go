// startup.go reports how long the host took to become ready.

package producers

import (
	"context"
	"time"

	"github.com/strongdm/beacon/pkg/beacon"
)

// StartupMetricName is the name of the startup critical metric.
const StartupMetricName = "startup.duration"

// Startup builds the startup.duration record for a process that began at
// start and became ready at ready.
func Startup(start, ready time.Time) beacon.MetricRecord {
	ms := ready.Sub(start).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return beacon.MetricRecord{
		Type:      "startup",
		Name:      StartupMetricName,
		Value:     float64(ms),
		Unit:      "ms",
		Timestamp: ready,
	}
}

// ReportStartup sends the startup record on the critical path so it is
// delivered even if the process exits before the next flush.
func ReportStartup(ctx context.Context, sink CriticalSink, start, ready time.Time) error {
	return sink.SendCritical(ctx, Startup(start, ready))
}
