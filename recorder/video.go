package recorder

import (
	"image"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-facecam/controller"
)

// VideoFile writes every frame to a video container.
type VideoFile struct {
	path   string
	writer *gocv.VideoWriter
	logger *zap.Logger
	frames int
}

// NewVideoFile creates the parent directory of path and opens a writer.
//
// Arguments:
//   - path: The output file, e.g. streaming/faces_output.avi.
//   - fourcc: The four character codec code, e.g. MJPG.
//   - fps: The playback frame rate stored in the container.
//   - size: The frame dimensions. Every written frame must match.
//   - logger: Receives open and close events. nil disables logging.
//
// Returns:
//   - *VideoFile: The sink. The caller, or the controller owning it, must Close it.
//   - error: If the directory cannot be created or the writer fails to open.
func NewVideoFile(path, fourcc string, fps float64, size image.Point, logger *zap.Logger) (*VideoFile, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(fourcc) != 4 {
		return nil, errors.Errorf("fourcc must be four characters, got %q", fourcc)
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, errors.Errorf("invalid frame size %v", size)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "creating %s", dir)
		}
	}

	writer, err := gocv.VideoWriterFile(path, fourcc, fps, size.X, size.Y, true)
	if err != nil {
		return nil, errors.Wrapf(err, "opening video writer %s", path)
	}
	if !writer.IsOpened() {
		writer.Close()
		return nil, errors.Errorf("video writer %s did not open", path)
	}

	logger.Info("recording", zap.String("path", path), zap.String("fourcc", fourcc), zap.Float64("fps", fps))
	return &VideoFile{path: path, writer: writer, logger: logger}, nil
}

// Write appends frame to the video.
func (v *VideoFile) Write(frame gocv.Mat, _ controller.Result) error {
	if err := v.writer.Write(frame); err != nil {
		return errors.Wrapf(err, "writing %s", v.path)
	}
	v.frames++
	return nil
}

// Close finalizes the container. It is safe to call more than once.
func (v *VideoFile) Close() error {
	if v.writer == nil {
		return nil
	}
	err := v.writer.Close()
	v.writer = nil
	v.logger.Info("recording closed", zap.String("path", v.path), zap.Int("frames", v.frames))
	return errors.Wrapf(err, "closing %s", v.path)
}
