package recorder

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-facecam/controller"
	"github.com/nvr-ai/go-facecam/images"
)

// Snapshotter saves a downsized still whenever faces are present, at most once per Interval.
type Snapshotter struct {
	dir      string
	format   images.ImageFormat
	interval time.Duration
	maxSide  int
	logger   *zap.Logger
	now      func() time.Time

	last  time.Time
	mu    sync.Mutex
	saved int
}

// SnapshotOptions configures a Snapshotter.
type SnapshotOptions struct {
	// Dir receives the stills. It is created if missing.
	Dir string
	// Format of the stills (default: jpeg).
	Format images.ImageFormat
	// Interval is the minimum time between two stills. 0 saves every frame with faces.
	Interval time.Duration
	// ThumbnailSize bounds the longer side of a still. 0 keeps the frame size.
	ThumbnailSize int
	// Logger receives one entry per still. nil disables logging.
	Logger *zap.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewSnapshotter creates the snapshot directory.
func NewSnapshotter(opts SnapshotOptions) (*Snapshotter, error) {
	if opts.Dir == "" {
		return nil, errors.New("snapshot directory is required")
	}
	if opts.Format == "" {
		opts.Format = images.FormatJPEG
	}
	if opts.Interval < 0 {
		return nil, errors.Errorf("snapshot interval must not be negative, got %v", opts.Interval)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating %s", opts.Dir)
	}

	return &Snapshotter{
		dir:      opts.Dir,
		format:   opts.Format,
		interval: opts.Interval,
		maxSide:  opts.ThumbnailSize,
		logger:   opts.Logger,
		now:      opts.Now,
	}, nil
}

// Saved returns the number of stills written.
func (s *Snapshotter) Saved() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved
}

// CollectMetrics reports the number of stills written.
func (s *Snapshotter) CollectMetrics() map[string]float64 {
	return map[string]float64{"snapshots": float64(s.Saved())}
}

// Write saves frame when it holds at least one face and the interval has elapsed.
func (s *Snapshotter) Write(frame gocv.Mat, result controller.Result) error {
	if !s.due(result) {
		return nil
	}
	img, err := frame.ToImage()
	if err != nil {
		return errors.Wrapf(err, "converting frame %d", result.Index)
	}
	_, err = s.Save(img, result)
	return err
}

// Save writes img as a still for result, ignoring the rate limit.
//
// Returns:
//   - string: The path of the written file.
//   - error: If the file cannot be created or encoded.
func (s *Snapshotter) Save(img image.Image, result controller.Result) (string, error) {
	now := s.now()
	name := fmt.Sprintf("faces_%s_%06d%s", now.UTC().Format("20060102T150405.000"), result.Index, s.format.Extension())
	path := filepath.Join(s.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrapf(err, "creating %s", path)
	}

	if err := images.Encode(f, images.Thumbnail(img, s.maxSide), s.format, 0); err != nil {
		f.Close()
		return "", errors.Wrapf(err, "writing %s", path)
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrapf(err, "closing %s", path)
	}

	s.last = now
	s.mu.Lock()
	s.saved++
	s.mu.Unlock()
	s.logger.Info("snapshot saved", zap.String("path", path), zap.Int("faces", len(result.Faces)))
	return path, nil
}

func (s *Snapshotter) due(result controller.Result) bool {
	if len(result.Faces) == 0 {
		return false
	}
	return s.last.IsZero() || s.now().Sub(s.last) >= s.interval
}
