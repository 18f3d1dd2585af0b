// Package controller - This file contains the loop that routes frames from a source through the detector to the sinks.
package controller

import (
	"context"
	"image"
	"io"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-facecam/models/postprocess"
	"github.com/nvr-ai/go-facecam/profiler"
)

// ErrStop is returned by a sink to end the loop cleanly, e.g. when the user presses q.
var ErrStop = errors.New("stop requested")

// Source yields frames. io.EOF marks the end of the stream.
type Source[F any] interface {
	Read(ctx context.Context) (F, error)
}

// Detector finds raw, possibly overlapping, face rectangles in a frame.
type Detector[F any] interface {
	Detect(frame F) ([]image.Rectangle, error)
}

// Sink consumes a frame together with its result.
type Sink[F any] interface {
	Write(frame F, result Result) error
}

// Result is the outcome of processing a single frame.
type Result struct {
	// Index is the zero based position of the frame in the stream.
	Index int
	// Detections is the number of raw detector hits before suppression.
	Detections int
	// Faces are the rectangles kept by overlap suppression, in pick order.
	Faces []image.Rectangle
	// Latency covers detection and suppression.
	Latency time.Duration
	// FPS is the cumulative frame rate of the loop.
	FPS float64
}

// Options configures a Controller.
type Options struct {
	// NMS configures overlap suppression. nil uses the default 0.3 threshold.
	NMS *postprocess.NMSConfig
	// MaxFrames stops the loop after that many frames. 0 means no limit.
	MaxFrames int
	// Profiler records timings. nil creates a private one that never reports.
	Profiler *profiler.RuntimeProfiler
	// Logger receives per-frame debug output and the loop summary. nil disables logging.
	Logger *zap.Logger
}

// Controller runs the capture, detect, suppress and sink loop.
type Controller[F any] struct {
	source   Source[F]
	detector Detector[F]
	sinks    []Sink[F]

	nms      *postprocess.NMSConfig
	max      int
	profiler *profiler.RuntimeProfiler
	logger   *zap.Logger

	frames int
}

// New builds a controller.
//
// Arguments:
//   - source: Where frames come from.
//   - detector: Finds the raw rectangles in each frame.
//   - sinks: Receive every frame in order with its result.
//   - opts: Suppression, limits and instrumentation.
//
// Returns:
//   - *Controller[F]: The controller. It owns the source, the detector and the sinks.
//   - error: If a required collaborator is missing or the suppression config is invalid.
func New[F any](source Source[F], detector Detector[F], sinks []Sink[F], opts Options) (*Controller[F], error) {
	if source == nil {
		return nil, errors.New("source is required")
	}
	if detector == nil {
		return nil, errors.New("detector is required")
	}
	if opts.MaxFrames < 0 {
		return nil, errors.Errorf("max frames must not be negative, got %d", opts.MaxFrames)
	}
	if opts.NMS == nil {
		defaults := postprocess.DefaultNMSConfig()
		opts.NMS = &defaults
	}
	if err := opts.NMS.Validate(); err != nil {
		return nil, err
	}
	if opts.Profiler == nil {
		opts.Profiler = profiler.NewRuntimeProfiler(profiler.ProfilingOptions{})
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Controller[F]{
		source:   source,
		detector: detector,
		sinks:    sinks,
		nms:      opts.NMS,
		max:      opts.MaxFrames,
		profiler: opts.Profiler,
		logger:   opts.Logger,
	}, nil
}

// Frames returns the number of frames processed so far.
func (c *Controller[F]) Frames() int {
	return c.frames
}

// Run processes frames until the stream ends, a sink returns ErrStop, the context is
// cancelled, MaxFrames is reached, or an error occurs.
//
// The source, the detector and every sink implementing io.Closer are closed on return,
// whatever the reason. Their close errors are combined with the loop error.
//
// Returns:
//   - error: nil for every clean stop, otherwise the first processing error plus any close errors.
func (c *Controller[F]) Run(ctx context.Context) (err error) {
	defer func() {
		err = multierr.Append(err, c.Close())
	}()

	reason := "end of stream"
	defer func() {
		c.logger.Info("controller stopped",
			zap.String("reason", reason),
			zap.Int("frames", c.frames),
			zap.Float64("fps", c.profiler.FPS()),
		)
	}()

	for {
		if c.max > 0 && c.frames >= c.max {
			reason = "max frames"
			return nil
		}
		if ctx.Err() != nil {
			reason = "cancelled"
			return nil
		}

		frame, err := c.source.Read(ctx)
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case err != nil && ctx.Err() != nil:
			reason = "cancelled"
			return nil
		case err != nil:
			reason = "source error"
			return errors.Wrapf(err, "reading frame %d", c.frames)
		}

		if _, err := c.Process(frame); err != nil {
			if errors.Is(err, ErrStop) {
				reason = "stop requested"
				return nil
			}
			reason = "processing error"
			return err
		}
	}
}

// Process runs a single frame through detection, suppression and the sinks.
//
// Every sink is written even when an earlier one asks to stop.
//
// Returns:
//   - Result: The outcome for the frame.
//   - error: ErrStop when a sink asked to stop, or the first detection, suppression or sink error.
func (c *Controller[F]) Process(frame F) (Result, error) {
	index := c.frames
	c.frames++

	latency := c.profiler.StartOperation("latency")

	detectDone := c.profiler.StartOperation("detect")
	rects, err := c.detector.Detect(frame)
	detectDone()
	if err != nil {
		return Result{Index: index}, errors.Wrapf(err, "detecting frame %d", index)
	}

	suppressDone := c.profiler.StartOperation("suppress")
	faces, err := postprocess.SuppressRectangles(rects, c.nms)
	suppressDone()
	if err != nil {
		return Result{Index: index}, errors.Wrapf(err, "suppressing frame %d", index)
	}

	result := Result{
		Index:      index,
		Detections: len(rects),
		Faces:      faces,
		Latency:    latency(),
		FPS:        c.profiler.FrameTick(),
	}
	c.profiler.RecordMetric("faces", float64(len(faces)))

	if len(faces) > 0 {
		c.logger.Debug("faces detected",
			zap.Int("frame", index),
			zap.Int("detections", result.Detections),
			zap.Int("faces", len(faces)),
			zap.Duration("latency", result.Latency),
		)
	}

	stop := false
	for i, sink := range c.sinks {
		err := sink.Write(frame, result)
		if errors.Is(err, ErrStop) {
			stop = true
			continue
		}
		if err != nil {
			return result, errors.Wrapf(err, "sink %d on frame %d", i, index)
		}
	}
	if stop {
		return result, ErrStop
	}
	return result, nil
}

// Close releases the source, the detector and the sinks that implement io.Closer.
func (c *Controller[F]) Close() error {
	var err error
	for _, v := range c.closers() {
		if closer, ok := v.(io.Closer); ok {
			err = multierr.Append(err, closer.Close())
		}
	}
	return err
}

func (c *Controller[F]) closers() []any {
	all := make([]any, 0, len(c.sinks)+2)
	all = append(all, c.source, c.detector)
	for _, sink := range c.sinks {
		all = append(all, sink)
	}
	return all
}
