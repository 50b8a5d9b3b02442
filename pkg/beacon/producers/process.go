// process.go samples the Go runtime of the current process.

package producers

import (
	"context"
	"runtime"
	"time"

	"github.com/strongdm/beacon/pkg/beacon"
	"github.com/strongdm/beacon/pkg/clock"
)

// TypeRuntime tags records produced by Process.
const TypeRuntime = "runtime"

// Process reports heap, goroutine, GC and uptime samples.
type Process struct {
	start time.Time
	clock clock.Clock
}

// NewProcess creates a producer measuring uptime from start. A nil clock
// means the real clock.
func NewProcess(start time.Time, clk clock.Clock) *Process {
	if clk == nil {
		clk = clock.Real()
	}
	return &Process{start: start, clock: clk}
}

func (p *Process) Name() string { return "process" }

// Collect reads runtime.MemStats and returns one record per sample.
func (p *Process) Collect(ctx context.Context) ([]beacon.MetricRecord, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	now := p.clock.Now()
	uptimeMs := now.Sub(p.start).Milliseconds()
	if uptimeMs < 0 {
		uptimeMs = 0
	}

	sample := func(name string, value float64, unit string) beacon.MetricRecord {
		return beacon.MetricRecord{Type: TypeRuntime, Name: name, Value: value, Unit: unit, Timestamp: now}
	}
	return []beacon.MetricRecord{
		sample("runtime.heap_alloc", float64(mem.HeapAlloc), "bytes"),
		sample("runtime.heap_objects", float64(mem.HeapObjects), "count"),
		sample("runtime.goroutines", float64(runtime.NumGoroutine()), "count"),
		sample("runtime.gc_count", float64(mem.NumGC), "count"),
		sample("runtime.gc_pause_total", float64(mem.PauseTotalNs)/float64(time.Millisecond), "ms"),
		sample("process.uptime", float64(uptimeMs), "ms"),
	}, nil
}
