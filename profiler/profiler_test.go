package profiler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClock advances only when told to.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type staticCollector map[string]float64

func (c staticCollector) CollectMetrics() map[string]float64 { return c }

func TestFrameTick_CumulativeFPS(t *testing.T) {
	clock := newFakeClock()
	rp := NewRuntimeProfiler(ProfilingOptions{Now: clock.Now})

	assert.Equal(t, 0.0, rp.FPS())
	assert.Equal(t, 0.0, rp.FrameTick(), "first frame has no elapsed time")

	for i := 0; i < 9; i++ {
		clock.Advance(100 * time.Millisecond)
		rp.FrameTick()
	}

	assert.Equal(t, int64(10), rp.Frames())
	assert.InDelta(t, 10/0.9, rp.FPS(), 1e-9)

	clock.Advance(100 * time.Millisecond)
	assert.InDelta(t, 10.0, rp.FPS(), 1e-9, "FPS keeps decaying while no frame arrives")
}

func TestStartOperation(t *testing.T) {
	clock := newFakeClock()
	rp := NewRuntimeProfiler(ProfilingOptions{Now: clock.Now})

	for _, d := range []time.Duration{10, 30, 20} {
		done := rp.StartOperation("detect")
		clock.Advance(d * time.Millisecond)
		assert.Equal(t, d*time.Millisecond, done())
	}

	stats, ok := rp.Operation("detect")
	require.True(t, ok)
	assert.Equal(t, OperationStats{
		Name:  "detect",
		Count: 3,
		Avg:   20 * time.Millisecond,
		Min:   10 * time.Millisecond,
		Max:   30 * time.Millisecond,
		Last:  20 * time.Millisecond,
	}, stats)

	_, ok = rp.Operation("encode")
	assert.False(t, ok)
}

func TestStartOperation_SlidingWindow(t *testing.T) {
	clock := newFakeClock()
	rp := NewRuntimeProfiler(ProfilingOptions{Now: clock.Now, MaxSamples: 2})

	for _, d := range []time.Duration{100, 10, 20} {
		done := rp.StartOperation("detect")
		clock.Advance(d * time.Millisecond)
		done()
	}

	stats, ok := rp.Operation("detect")
	require.True(t, ok)
	assert.Equal(t, int64(3), stats.Count)
	assert.Equal(t, 15*time.Millisecond, stats.Avg, "the oldest sample leaves the window")
}

func TestOperations_Sorted(t *testing.T) {
	rp := NewRuntimeProfiler(ProfilingOptions{})
	rp.StartOperation("suppress")()
	rp.StartOperation("detect")()

	ops := rp.Operations()
	require.Len(t, ops, 2)
	assert.Equal(t, "detect", ops[0].Name)
	assert.Equal(t, "suppress", ops[1].Name)
}

func TestRecordMetric(t *testing.T) {
	rp := NewRuntimeProfiler(ProfilingOptions{MaxSamples: 3})

	_, _, _, ok := rp.Metric("faces")
	assert.False(t, ok)

	for _, v := range []float64{4, 1, 2, 3} {
		rp.RecordMetric("faces", v)
	}

	avg, lo, hi, ok := rp.Metric("faces")
	require.True(t, ok)
	assert.InDelta(t, 2.0, avg, 1e-9)
	assert.Equal(t, 1.0, lo)
	assert.Equal(t, 4.0, hi, "extremes cover every sample")
}

func TestStartStop_Reports(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	rp := NewRuntimeProfiler(ProfilingOptions{
		ReportInterval: 5 * time.Millisecond,
		Logger:         zap.New(core),
	})
	rp.AddMetricsCollector(staticCollector{"queue": 2})
	rp.StartOperation("detect")()
	rp.FrameTick()

	rp.Start()
	rp.Start()

	require.Eventually(t, func() bool {
		return logs.FilterMessage("profiler report").Len() > 0
	}, time.Second, 5*time.Millisecond)

	rp.Stop()
	rp.Stop()

	entry := logs.FilterMessage("profiler report").All()[0]
	fields := entry.ContextMap()
	assert.Equal(t, int64(1), fields["frames"])
	assert.Contains(t, fields, "detect")
	assert.Equal(t, 2.0, fields["queue"])

	_, _, _, ok := rp.Metric("queue")
	assert.True(t, ok, "collectors are sampled into custom metrics")
}

func TestStart_AfterStop(t *testing.T) {
	rp := NewRuntimeProfiler(ProfilingOptions{ReportInterval: time.Millisecond})
	rp.Stop()
	rp.Start()
	rp.Stop()
}
