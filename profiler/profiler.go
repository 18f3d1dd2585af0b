package profiler

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MetricsCollector defines the interface for collecting custom metrics.
type MetricsCollector interface {
	CollectMetrics() map[string]float64
}

// RuntimeProfiler tracks frame throughput and per-operation latency for the video loop.
//
// Frame rate is cumulative: frames counted since the first FrameTick divided by the
// time elapsed since then. When started, it logs a summary every ReportInterval.
type RuntimeProfiler struct {
	reportInterval time.Duration
	maxSamples     int
	logger         *zap.Logger
	now            func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool

	startTime  time.Time
	firstFrame time.Time
	frames     int64

	customMetrics  map[string]*MetricTracker
	collectors     []MetricsCollector
	operationTimes map[string]*TimeTracker
}

// MetricTracker tracks statistics for a custom metric.
type MetricTracker struct {
	values []float64
	sum    float64
	min    float64
	max    float64
	count  int64
}

// TimeTracker tracks operation timing statistics over a sliding window.
type TimeTracker struct {
	durations []time.Duration
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

// OperationStats is a snapshot of a TimeTracker.
type OperationStats struct {
	Name  string
	Count int64
	Avg   time.Duration
	Min   time.Duration
	Max   time.Duration
	Last  time.Duration
}

// ProfilingOptions configures the runtime profiler.
type ProfilingOptions struct {
	// ReportInterval specifies how often to log a report (default: 5s)
	ReportInterval time.Duration
	// MaxSamples specifies the sliding window per operation (default: 600)
	MaxSamples int
	// Logger receives the reports. nil disables them.
	Logger *zap.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewRuntimeProfiler creates a new runtime profiler with the specified options.
func NewRuntimeProfiler(opts ProfilingOptions) *RuntimeProfiler {
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = 5 * time.Second
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 600
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &RuntimeProfiler{
		reportInterval: opts.ReportInterval,
		maxSamples:     opts.MaxSamples,
		logger:         opts.Logger,
		now:            opts.Now,
		ctx:            ctx,
		cancel:         cancel,
		startTime:      opts.Now(),
		customMetrics:  make(map[string]*MetricTracker),
		operationTimes: make(map[string]*TimeTracker),
	}
}

// Start begins periodic reporting. Calling it again while running is a no-op.
func (rp *RuntimeProfiler) Start() {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	if rp.running || rp.ctx.Err() != nil {
		return
	}
	rp.running = true

	rp.wg.Add(1)
	go func() {
		defer rp.wg.Done()

		ticker := time.NewTicker(rp.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-rp.ctx.Done():
				return
			case <-ticker.C:
				rp.emitStatusReport()
			}
		}
	}()
}

// Stop ends reporting and waits for the reporter to exit. A profiler cannot be restarted.
func (rp *RuntimeProfiler) Stop() {
	rp.mu.Lock()
	rp.running = false
	rp.mu.Unlock()

	rp.cancel()
	rp.wg.Wait()
}

// AddMetricsCollector registers a collector sampled on every report.
func (rp *RuntimeProfiler) AddMetricsCollector(collector MetricsCollector) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.collectors = append(rp.collectors, collector)
}

// FrameTick counts one processed frame and returns the cumulative frame rate.
//
// The clock starts at the first tick, so the first frame always reports 0.
func (rp *RuntimeProfiler) FrameTick() float64 {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	now := rp.now()
	if rp.frames == 0 {
		rp.firstFrame = now
	}
	rp.frames++
	return rp.fpsLocked(now)
}

// FPS returns the cumulative frame rate without counting a frame.
func (rp *RuntimeProfiler) FPS() float64 {
	rp.mu.RLock()
	defer rp.mu.RUnlock()
	return rp.fpsLocked(rp.now())
}

// Frames returns the number of frames counted.
func (rp *RuntimeProfiler) Frames() int64 {
	rp.mu.RLock()
	defer rp.mu.RUnlock()
	return rp.frames
}

func (rp *RuntimeProfiler) fpsLocked(now time.Time) float64 {
	if rp.frames == 0 {
		return 0
	}
	elapsed := now.Sub(rp.firstFrame).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(rp.frames) / elapsed
}

// RecordMetric records a custom metric value.
func (rp *RuntimeProfiler) RecordMetric(name string, value float64) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.recordMetricLocked(name, value)
}

func (rp *RuntimeProfiler) recordMetricLocked(name string, value float64) {
	tracker, exists := rp.customMetrics[name]
	if !exists {
		tracker = &MetricTracker{
			values: make([]float64, 0, rp.maxSamples),
			min:    value,
			max:    value,
		}
		rp.customMetrics[name] = tracker
	}

	tracker.values = append(tracker.values, value)
	if len(tracker.values) > rp.maxSamples {
		tracker.sum -= tracker.values[0]
		tracker.values = tracker.values[1:]
	}

	tracker.sum += value
	tracker.count++
	tracker.min = min(tracker.min, value)
	tracker.max = max(tracker.max, value)
}

// StartOperation begins timing an operation.
//
// Returns:
//   - A function to call when the operation completes. It records and returns the duration.
func (rp *RuntimeProfiler) StartOperation(name string) func() time.Duration {
	start := rp.now()
	return func() time.Duration {
		duration := rp.now().Sub(start)
		rp.recordOperationTime(name, duration)
		return duration
	}
}

func (rp *RuntimeProfiler) recordOperationTime(name string, duration time.Duration) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	tracker, exists := rp.operationTimes[name]
	if !exists {
		tracker = &TimeTracker{minTime: duration, maxTime: duration}
		rp.operationTimes[name] = tracker
	}

	tracker.durations = append(tracker.durations, duration)
	if len(tracker.durations) > rp.maxSamples {
		tracker.totalTime -= tracker.durations[0]
		tracker.durations = tracker.durations[1:]
	}

	tracker.totalTime += duration
	tracker.count++
	tracker.minTime = min(tracker.minTime, duration)
	tracker.maxTime = max(tracker.maxTime, duration)
}

// Operation returns the statistics of a timed operation.
func (rp *RuntimeProfiler) Operation(name string) (OperationStats, bool) {
	rp.mu.RLock()
	defer rp.mu.RUnlock()

	tracker, ok := rp.operationTimes[name]
	if !ok || len(tracker.durations) == 0 {
		return OperationStats{}, false
	}
	return OperationStats{
		Name:  name,
		Count: tracker.count,
		Avg:   tracker.totalTime / time.Duration(len(tracker.durations)),
		Min:   tracker.minTime,
		Max:   tracker.maxTime,
		Last:  tracker.durations[len(tracker.durations)-1],
	}, true
}

// Operations returns the statistics of every timed operation, sorted by name.
func (rp *RuntimeProfiler) Operations() []OperationStats {
	rp.mu.RLock()
	names := make([]string, 0, len(rp.operationTimes))
	for name := range rp.operationTimes {
		names = append(names, name)
	}
	rp.mu.RUnlock()
	sort.Strings(names)

	stats := make([]OperationStats, 0, len(names))
	for _, name := range names {
		if s, ok := rp.Operation(name); ok {
			stats = append(stats, s)
		}
	}
	return stats
}

// Metric returns the sliding-window average, minimum and maximum of a custom metric.
func (rp *RuntimeProfiler) Metric(name string) (avg, lo, hi float64, ok bool) {
	rp.mu.RLock()
	defer rp.mu.RUnlock()

	tracker, exists := rp.customMetrics[name]
	if !exists || len(tracker.values) == 0 {
		return 0, 0, 0, false
	}
	return tracker.sum / float64(len(tracker.values)), tracker.min, tracker.max, true
}

func (rp *RuntimeProfiler) emitStatusReport() {
	rp.mu.Lock()
	for _, collector := range rp.collectors {
		for name, value := range collector.CollectMetrics() {
			rp.recordMetricLocked(name, value)
		}
	}
	uptime := rp.now().Sub(rp.startTime)
	fps := rp.fpsLocked(rp.now())
	frames := rp.frames
	rp.mu.Unlock()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	fields := []zap.Field{
		zap.Duration("uptime", uptime.Truncate(time.Millisecond)),
		zap.Int64("frames", frames),
		zap.Float64("fps", fps),
		zap.Int("goroutines", runtime.NumGoroutine()),
		zap.Uint64("heapAlloc", mem.HeapAlloc),
	}
	for _, op := range rp.Operations() {
		fields = append(fields, zap.Dict(op.Name,
			zap.Duration("avg", op.Avg.Truncate(time.Microsecond)),
			zap.Duration("min", op.Min.Truncate(time.Microsecond)),
			zap.Duration("max", op.Max.Truncate(time.Microsecond)),
			zap.Int64("count", op.Count),
		))
	}

	rp.mu.RLock()
	for name, tracker := range rp.customMetrics {
		if len(tracker.values) > 0 {
			fields = append(fields, zap.Float64(name, tracker.sum/float64(len(tracker.values))))
		}
	}
	rp.mu.RUnlock()

	rp.logger.Info("profiler report", fields...)
}
