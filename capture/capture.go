// Package capture - Webcam frame source.
package capture

import (
	"context"
	"image"
	"io"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-facecam/config"
	"github.com/nvr-ai/go-facecam/images"
)

// maxEmptyFrames bounds how many consecutive empty reads are skipped before the device is
// considered gone.
const maxEmptyFrames = 100

// Camera is an opened capture device that yields frames at a fixed size.
type Camera struct {
	device int
	target images.Resolution
	logger *zap.Logger

	mu      sync.Mutex
	capture *gocv.VideoCapture
	raw     gocv.Mat
	frame   gocv.Mat
	closed  bool

	frames      int64
	emptyFrames int64
}

// Open opens the capture device and requests the configured size and frame rate.
//
// The driver may ignore the request. Frames are resized to the configured resolution
// regardless, so Size always reports what Read returns.
//
// Arguments:
//   - cfg: The capture section of the application configuration.
//   - logger: Receives device negotiation details. nil disables logging.
//
// Returns:
//   - *Camera: The opened device. The caller must Close it.
//   - error: If the resolution is invalid or the device cannot be opened.
func Open(cfg config.CaptureConfig, logger *zap.Logger) (*Camera, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	target, err := cfg.ParsedResolution()
	if err != nil {
		return nil, err
	}

	vc, err := gocv.OpenVideoCapture(cfg.Device)
	if err != nil {
		return nil, errors.Wrapf(err, "opening capture device %d", cfg.Device)
	}
	if !vc.IsOpened() {
		return nil, multierr.Append(
			errors.Errorf("capture device %d is not available", cfg.Device),
			vc.Close(),
		)
	}

	vc.Set(gocv.VideoCaptureFrameWidth, float64(target.Pixels.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(target.Pixels.Height))
	if cfg.FPS > 0 {
		vc.Set(gocv.VideoCaptureFPS, cfg.FPS)
	}

	logger.Info("capture device opened",
		zap.Int("device", cfg.Device),
		zap.Stringer("requested", target),
		zap.Float64("width", vc.Get(gocv.VideoCaptureFrameWidth)),
		zap.Float64("height", vc.Get(gocv.VideoCaptureFrameHeight)),
		zap.Float64("fps", vc.Get(gocv.VideoCaptureFPS)),
	)

	return &Camera{
		device:  cfg.Device,
		target:  target,
		logger:  logger,
		capture: vc,
		raw:     gocv.NewMat(),
		frame:   gocv.NewMat(),
	}, nil
}

// Size returns the dimensions of the frames Read returns.
func (c *Camera) Size() image.Point {
	return image.Pt(c.target.Pixels.Width, c.target.Pixels.Height)
}

// Read grabs the next frame.
//
// The returned Mat is owned by the camera and stays valid until the next Read or Close.
// Callers that keep a frame must Clone it.
//
// Returns:
//   - gocv.Mat: A BGR frame of Size().
//   - error: io.EOF when the device stops producing frames, or the context error.
func (c *Camera) Read(ctx context.Context) (gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return gocv.Mat{}, io.EOF
	}

	for empty := 0; ; empty++ {
		if err := ctx.Err(); err != nil {
			return gocv.Mat{}, err
		}
		if empty >= maxEmptyFrames {
			c.logger.Warn("capture device returns only empty frames", zap.Int("device", c.device))
			return gocv.Mat{}, io.EOF
		}

		if ok := c.capture.Read(&c.raw); !ok {
			return gocv.Mat{}, io.EOF
		}
		if c.raw.Empty() {
			c.emptyFrames++
			continue
		}
		break
	}

	size := c.Size()
	if c.raw.Cols() == size.X && c.raw.Rows() == size.Y {
		c.raw.CopyTo(&c.frame)
	} else {
		gocv.Resize(c.raw, &c.frame, size, 0, 0, gocv.InterpolationLinear)
	}
	c.frames++
	return c.frame, nil
}

// ReadFrame grabs the next frame as packed BGR24 bytes, the layout rawvideo expects.
//
// Returns:
//   - []byte: Width*Height*3 bytes owned by the caller.
//   - error: io.EOF at the end of the stream, or the context error.
func (c *Camera) ReadFrame(ctx context.Context) ([]byte, error) {
	frame, err := c.Read(ctx)
	if err != nil {
		return nil, err
	}
	data := frame.ToBytes()
	if err := CheckFrameBytes(data, c.target); err != nil {
		return nil, err
	}
	return data, nil
}

// CheckFrameBytes verifies that data holds exactly one packed BGR24 frame of res.
func CheckFrameBytes(data []byte, res images.Resolution) error {
	if want := res.FrameBytes(); len(data) != want {
		return errors.Errorf("frame has %d bytes, want %d for %s BGR24", len(data), want, res)
	}
	return nil
}

// CollectMetrics reports the frames delivered and the empty reads skipped so far.
func (c *Camera) CollectMetrics() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]float64{
		"captureFrames":      float64(c.frames),
		"captureEmptyFrames": float64(c.emptyFrames),
	}
}

// Close releases the device and the frame buffers. It is safe to call more than once.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	return multierr.Combine(
		errors.Wrapf(c.capture.Close(), "closing capture device %d", c.device),
		c.raw.Close(),
		c.frame.Close(),
	)
}
