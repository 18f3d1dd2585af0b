// Package controller - Tests for the frame loop using in-memory frames.
package controller

import (
	"context"
	"image"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nvr-ai/go-facecam/models/postprocess"
)

// frame is a stand-in for a video frame: its ID selects the detections.
type frame struct {
	ID int
}

// MockSource yields a fixed number of frames, then io.EOF or err.
type MockSource struct {
	count  int
	next   int
	err    error
	closed int
}

func (m *MockSource) Read(ctx context.Context) (frame, error) {
	if err := ctx.Err(); err != nil {
		return frame{}, err
	}
	if m.next >= m.count {
		if m.err != nil {
			return frame{}, m.err
		}
		return frame{}, io.EOF
	}
	f := frame{ID: m.next}
	m.next++
	return f, nil
}

func (m *MockSource) Close() error {
	m.closed++
	return nil
}

// MockDetector returns the same overlapping pair on every frame.
type MockDetector struct {
	failOn int
	closed int
}

func (m *MockDetector) Detect(f frame) ([]image.Rectangle, error) {
	if m.failOn > 0 && f.ID == m.failOn {
		return nil, errors.New("mock detection error")
	}
	return []image.Rectangle{
		image.Rect(10, 10, 60, 60),
		image.Rect(12, 12, 62, 62),
		image.Rect(200, 10, 240, 50),
	}, nil
}

func (m *MockDetector) Close() error {
	m.closed++
	return errors.New("mock detector close error")
}

// MockSink records every result and can ask to stop.
type MockSink struct {
	results []Result
	stopAt  int
	err     error
	closed  int
}

func (m *MockSink) Write(f frame, result Result) error {
	m.results = append(m.results, result)
	if m.err != nil {
		return m.err
	}
	if m.stopAt > 0 && f.ID == m.stopAt {
		return ErrStop
	}
	return nil
}

func (m *MockSink) Close() error {
	m.closed++
	return nil
}

// plainSink does not implement io.Closer.
type plainSink struct {
	writes int
}

func (p *plainSink) Write(frame, Result) error {
	p.writes++
	return nil
}

func newController(t *testing.T, source *MockSource, detector *MockDetector, sinks []Sink[frame], opts Options) *Controller[frame] {
	t.Helper()
	opts.Logger = zaptest.NewLogger(t)
	c, err := New[frame](source, detector, sinks, opts)
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New[frame](nil, &MockDetector{}, nil, Options{})
	assert.Error(t, err)

	_, err = New[frame](&MockSource{}, nil, nil, Options{})
	assert.Error(t, err)

	_, err = New[frame](&MockSource{}, &MockDetector{}, nil, Options{MaxFrames: -1})
	assert.Error(t, err)

	_, err = New[frame](&MockSource{}, &MockDetector{}, nil, Options{NMS: &postprocess.NMSConfig{OverlapThreshold: 2}})
	assert.True(t, errors.Is(err, postprocess.ErrInvalidThreshold))
}

func TestProcess_SuppressesOverlaps(t *testing.T) {
	sink := &MockSink{}
	c := newController(t, &MockSource{}, &MockDetector{}, []Sink[frame]{sink}, Options{})

	result, err := c.Process(frame{ID: 0})
	require.NoError(t, err)

	assert.Equal(t, 0, result.Index)
	assert.Equal(t, 3, result.Detections)
	assert.Equal(t, []image.Rectangle{
		image.Rect(12, 12, 62, 62),
		image.Rect(200, 10, 240, 50),
	}, result.Faces, "the pair collapses onto the box with the larger y2")
	assert.GreaterOrEqual(t, result.Latency.Nanoseconds(), int64(0))

	require.Len(t, sink.results, 1)
	assert.Equal(t, result, sink.results[0])
}

func TestProcess_StrictThresholdKeepsAll(t *testing.T) {
	c := newController(t, &MockSource{}, &MockDetector{}, nil, Options{
		NMS: &postprocess.NMSConfig{OverlapThreshold: 1, Metric: postprocess.MetricCandidateArea},
	})

	result, err := c.Process(frame{})
	require.NoError(t, err)
	assert.Len(t, result.Faces, 3)
}

func TestRun_EndOfStream(t *testing.T) {
	source := &MockSource{count: 5}
	detector := &MockDetector{}
	sink := &MockSink{}
	plain := &plainSink{}
	c := newController(t, source, detector, []Sink[frame]{sink, plain}, Options{})

	err := c.Run(context.Background())
	require.Error(t, err, "the detector close error surfaces")
	assert.Contains(t, err.Error(), "mock detector close error")

	assert.Equal(t, 5, c.Frames())
	assert.Equal(t, 5, plain.writes)
	require.Len(t, sink.results, 5)
	for i, r := range sink.results {
		assert.Equal(t, i, r.Index)
	}
	assert.Equal(t, 1, source.closed)
	assert.Equal(t, 1, detector.closed)
	assert.Equal(t, 1, sink.closed)
}

func TestRun_StopRequested(t *testing.T) {
	source := &MockSource{count: 100}
	first := &MockSink{stopAt: 3}
	second := &MockSink{}
	c, err := New[frame](source, detectorWithoutClose{}, []Sink[frame]{first, second}, Options{})
	require.NoError(t, err)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, 4, c.Frames())
	assert.Len(t, second.results, 4, "later sinks still see the stopping frame")
	assert.Equal(t, 1, source.closed)
	assert.Equal(t, 1, second.closed)
}

func TestRun_MaxFrames(t *testing.T) {
	source := &MockSource{count: 100}
	c, err := New[frame](source, detectorWithoutClose{}, nil, Options{MaxFrames: 7})
	require.NoError(t, err)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, 7, c.Frames())
	assert.Equal(t, 1, source.closed)
}

func TestRun_Cancelled(t *testing.T) {
	source := &MockSource{count: 100}
	c, err := New[frame](source, detectorWithoutClose{}, nil, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, c.Run(ctx))
	assert.Equal(t, 0, c.Frames())
	assert.Equal(t, 1, source.closed)
}

func TestRun_Errors(t *testing.T) {
	t.Run("source", func(t *testing.T) {
		source := &MockSource{count: 2, err: errors.New("device unplugged")}
		c, err := New[frame](source, detectorWithoutClose{}, nil, Options{})
		require.NoError(t, err)

		err = c.Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "device unplugged")
		assert.Equal(t, 1, source.closed)
	})

	t.Run("detector", func(t *testing.T) {
		source := &MockSource{count: 10}
		detector := &MockDetector{failOn: 2}
		c := newController(t, source, detector, nil, Options{})

		err := c.Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mock detection error")
		assert.Contains(t, err.Error(), "mock detector close error")
		assert.Equal(t, 3, c.Frames())
		assert.Equal(t, 1, source.closed)
	})

	t.Run("sink", func(t *testing.T) {
		source := &MockSource{count: 10}
		sink := &MockSink{err: errors.New("disk full")}
		c, err := New[frame](source, detectorWithoutClose{}, []Sink[frame]{sink}, Options{})
		require.NoError(t, err)

		err = c.Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
		assert.Equal(t, 1, c.Frames())
		assert.Equal(t, 1, sink.closed)
	})
}

type detectorWithoutClose struct{}

func (detectorWithoutClose) Detect(frame) ([]image.Rectangle, error) {
	return nil, nil
}
