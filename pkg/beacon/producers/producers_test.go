package producers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/strongdm/beacon/pkg/beacon"
	"github.com/strongdm/beacon/pkg/clock"
)

var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu       sync.Mutex
	records  []beacon.MetricRecord
	critical []beacon.MetricRecord
	err      error
}

func (s *recordingSink) AddMetric(record beacon.MetricRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
}

func (s *recordingSink) SendCritical(ctx context.Context, record beacon.MetricRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.critical = append(s.critical, record)
	return s.err
}

func (s *recordingSink) Records() []beacon.MetricRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]beacon.MetricRecord(nil), s.records...)
}

type staticProducer struct {
	name    string
	records []beacon.MetricRecord
	err     error
	panics  bool
}

func (p *staticProducer) Name() string { return p.name }

func (p *staticProducer) Collect(ctx context.Context) ([]beacon.MetricRecord, error) {
	if p.panics {
		panic("producer exploded")
	}
	return p.records, p.err
}

func named(name string) beacon.MetricRecord {
	return beacon.MetricRecord{Type: "test", Name: name, Value: 1}
}

func TestRegistry_ForAndPlatforms(t *testing.T) {
	r := NewRegistry()
	a := &staticProducer{name: "a"}
	b := &staticProducer{name: "b"}
	r.Register(a, beacon.PlatformServer, beacon.PlatformWorker)
	r.Register(b, beacon.PlatformServer)

	server := r.For(beacon.PlatformServer)
	require.Len(t, server, 2)
	assert.Equal(t, "a", server[0].Name())
	assert.Equal(t, "b", server[1].Name())
	assert.Len(t, r.For(beacon.PlatformWorker), 1)
	assert.Empty(t, r.For("browser"))
	assert.Equal(t, []string{beacon.PlatformServer, beacon.PlatformWorker}, r.Platforms())
}

func TestDefaultRegistry_CoversGoPlatforms(t *testing.T) {
	r := DefaultRegistry(NewProcess(testEpoch, nil))
	for _, platform := range []string{beacon.PlatformServer, beacon.PlatformWorker, beacon.PlatformCLI, beacon.PlatformAgent} {
		assert.Len(t, r.For(platform), 1, platform)
	}
}

func TestRunner_CollectOnce_IsolatesFailures(t *testing.T) {
	sink := &recordingSink{}
	runner := NewRunner(sink, []Producer{
		&staticProducer{name: "ok", records: []beacon.MetricRecord{named("first"), named("second")}},
		&staticProducer{name: "broken", err: errors.New("no data")},
		&staticProducer{name: "panicky", panics: true},
		&staticProducer{name: "late", records: []beacon.MetricRecord{named("third")}},
	})

	forwarded := runner.CollectOnce(context.Background())

	assert.Equal(t, 3, forwarded)
	var names []string
	for _, r := range sink.Records() {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"first", "second", "third"}, names)
}

func TestRunner_Run_PollsOnInterval(t *testing.T) {
	clk := clock.Fake(testEpoch)
	sink := &recordingSink{}
	runner := NewRunner(sink, []Producer{&staticProducer{name: "p", records: []beacon.MetricRecord{named("tick")}}},
		WithClock(clk), WithInterval(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	clk.WaitForTimers(1)
	require.Eventually(t, func() bool { return len(sink.Records()) == 1 }, time.Second, time.Millisecond)

	clk.Advance(time.Minute)
	require.Eventually(t, func() bool { return len(sink.Records()) == 2 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestProcess_Collect(t *testing.T) {
	clk := clock.Fake(testEpoch.Add(90 * time.Second))
	p := NewProcess(testEpoch, clk)

	records, err := p.Collect(context.Background())
	require.NoError(t, err)

	byName := make(map[string]beacon.MetricRecord)
	for _, r := range records {
		assert.Equal(t, TypeRuntime, r.Type)
		assert.True(t, r.Timestamp.Equal(clk.Now()))
		byName[r.Name] = r
	}
	assert.Equal(t, 90000.0, byName["process.uptime"].Value)
	assert.Greater(t, byName["runtime.goroutines"].Value, 0.0)
	assert.Greater(t, byName["runtime.heap_alloc"].Value, 0.0)
	assert.Equal(t, "bytes", byName["runtime.heap_alloc"].Unit)
}

func TestProcess_UptimeClampedAtZero(t *testing.T) {
	p := NewProcess(testEpoch.Add(time.Hour), clock.Fake(testEpoch))
	records, err := p.Collect(context.Background())
	require.NoError(t, err)
	for _, r := range records {
		if r.Name == "process.uptime" {
			assert.Equal(t, 0.0, r.Value)
		}
	}
}

func TestReportStartup(t *testing.T) {
	sink := &recordingSink{}
	err := ReportStartup(context.Background(), sink, testEpoch, testEpoch.Add(1500*time.Millisecond))
	require.NoError(t, err)

	require.Len(t, sink.critical, 1)
	got := sink.critical[0]
	assert.Equal(t, StartupMetricName, got.Name)
	assert.Equal(t, 1500.0, got.Value)
	assert.Equal(t, "ms", got.Unit)
}

func TestReportStartup_PropagatesError(t *testing.T) {
	sink := &recordingSink{err: beacon.ErrCriticalRateLimited}
	err := ReportStartup(context.Background(), sink, testEpoch, testEpoch)
	assert.ErrorIs(t, err, beacon.ErrCriticalRateLimited)
}
