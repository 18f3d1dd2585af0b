// Package relay - Pushes raw webcam frames through an ffmpeg encoder to an RTSP server.
package relay

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Options configures the encoder command.
type Options struct {
	// URL is the publish target, e.g. rtsp://localhost:8554/webcam.
	URL string
	// Width and Height are the dimensions of every frame written to the encoder.
	Width  int
	Height int
	// FPS is the input frame rate (default: 30).
	FPS int
	// Codec is the output video codec (default: libx264).
	Codec string
	// Preset is the encoder speed preset. Empty omits it.
	Preset string
	// PixelFormat is the output pixel format (default: yuv420p).
	PixelFormat string
	// OutputFormat is the muxer (default: rtsp).
	OutputFormat string
	// Stderr receives ffmpeg diagnostics (default: os.Stderr).
	Stderr io.Writer
}

func (o *Options) applyDefaults() {
	if o.FPS == 0 {
		o.FPS = 30
	}
	if o.Codec == "" {
		o.Codec = "libx264"
	}
	if o.PixelFormat == "" {
		o.PixelFormat = "yuv420p"
	}
	if o.OutputFormat == "" {
		o.OutputFormat = "rtsp"
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
}

// Validate checks the options after defaults are applied.
func (o Options) Validate() error {
	if o.URL == "" {
		return errors.New("relay URL is required (set RTSP_URL or --url)")
	}
	if o.Width <= 0 || o.Height <= 0 {
		return errors.Errorf("invalid frame size %dx%d", o.Width, o.Height)
	}
	if o.FPS <= 0 {
		return errors.Errorf("fps must be positive, got %d", o.FPS)
	}
	return nil
}

// FrameSize is the byte length of one packed BGR24 frame.
func (o Options) FrameSize() int {
	return o.Width * o.Height * 3
}

// NewStream builds the ffmpeg graph that reads BGR24 frames from stdin and publishes them.
//
// Arguments:
//   - opts: The encoder options. Zero fields take their defaults.
//
// Returns:
//   - *ffmpeg.Stream: The stream. GetArgs lists the command line.
//   - error: If the options are invalid.
func NewStream(opts Options) (*ffmpeg.Stream, error) {
	opts.applyDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	output := ffmpeg.KwArgs{
		"c:v":     opts.Codec,
		"pix_fmt": opts.PixelFormat,
		"format":  opts.OutputFormat,
	}
	if opts.Preset != "" {
		output["preset"] = opts.Preset
	}

	return ffmpeg.Input("pipe:", ffmpeg.KwArgs{
		"format":  "rawvideo",
		"vcodec":  "rawvideo",
		"pix_fmt": "bgr24",
		"s":       fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"r":       opts.FPS,
	}).Output(opts.URL, output).OverWriteOutput(), nil
}

// ErrFrameSize is returned when a write does not hold exactly one frame.
var ErrFrameSize = errors.New("unexpected frame size")

// Encoder is a running ffmpeg process fed through its stdin.
type Encoder struct {
	ctx       context.Context
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	logger    *zap.Logger
	frameSize int

	once     sync.Once
	closeErr error
}

// StartEncoder starts ffmpeg.
//
// Cancelling ctx kills the process. Writes to a dead process fail instead of blocking.
//
// Arguments:
//   - ctx: Bounds the lifetime of the process.
//   - opts: The encoder options.
//   - logger: Receives the command line and the exit. nil disables logging.
//
// Returns:
//   - *Encoder: The running encoder. The caller must Close it.
//   - error: If ffmpeg is not on PATH, the options are invalid, or the process fails to start.
func StartEncoder(ctx context.Context, opts Options, logger *zap.Logger) (*Encoder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, errors.Wrap(err, "ffmpeg is required on PATH")
	}

	opts.applyDefaults()
	stream, err := NewStream(opts)
	if err != nil {
		return nil, err
	}
	stream.Context = ctx

	cmd := stream.Compile()
	cmd.Stderr = opts.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "opening ffmpeg stdin")
	}

	logger.Info("starting encoder", zap.Strings("args", stream.GetArgs()))
	if err := cmd.Start(); err != nil {
		return nil, multierr.Append(errors.Wrap(err, "starting ffmpeg"), stdin.Close())
	}

	return &Encoder{ctx: ctx, cmd: cmd, stdin: stdin, logger: logger, frameSize: opts.FrameSize()}, nil
}

// Write sends one raw frame to ffmpeg. rawvideo has no framing, so a write of any other
// length would shift every following frame and is rejected with ErrFrameSize.
func (e *Encoder) Write(p []byte) (int, error) {
	if len(p) != e.frameSize {
		return 0, errors.Wrapf(ErrFrameSize, "got %d bytes, want %d", len(p), e.frameSize)
	}
	return e.stdin.Write(p)
}

// Close ends the input and waits for ffmpeg to exit. A process killed by the context
// counts as a clean exit. It is safe to call more than once.
func (e *Encoder) Close() error {
	e.once.Do(func() {
		err := e.stdin.Close()
		if errors.Is(err, os.ErrClosed) {
			err = nil
		}
		waitErr := e.cmd.Wait()
		if waitErr != nil && e.ctx.Err() != nil {
			waitErr = nil
		}
		e.closeErr = multierr.Combine(errors.Wrap(err, "closing ffmpeg stdin"), errors.Wrap(waitErr, "ffmpeg"))
		e.logger.Info("encoder stopped", zap.Error(e.closeErr))
	})
	return e.closeErr
}

// FrameSource yields packed raw frames. io.EOF marks the end of the stream.
type FrameSource interface {
	ReadFrame(ctx context.Context) ([]byte, error)
}

// Pump copies frames from src to w until the source ends or ctx is cancelled.
//
// Arguments:
//   - ctx: Cancelling it is a clean stop.
//   - src: The frame source, typically a capture.Camera.
//   - w: The destination, typically an Encoder.
//   - logger: Receives progress. nil disables logging.
//
// Returns:
//   - int: The number of frames written.
//   - error: nil on a clean stop, otherwise the read or write failure.
func Pump(ctx context.Context, src FrameSource, w io.Writer, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	frames := 0
	for {
		if ctx.Err() != nil {
			logger.Info("relay stopped", zap.Int("frames", frames))
			return frames, nil
		}

		frame, err := src.ReadFrame(ctx)
		switch {
		case errors.Is(err, io.EOF):
			logger.Info("capture ended", zap.Int("frames", frames))
			return frames, nil
		case err != nil && ctx.Err() != nil:
			continue
		case err != nil:
			return frames, errors.Wrapf(err, "reading frame %d", frames)
		}

		if _, err := w.Write(frame); err != nil {
			if ctx.Err() != nil {
				continue
			}
			return frames, errors.Wrapf(err, "writing frame %d", frames)
		}
		frames++

		if frames == 1 {
			logger.Info("streaming", zap.Int("frameBytes", len(frame)))
		}
	}
}
