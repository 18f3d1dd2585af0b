// Package haar - Cascade classifier face detector backed by OpenCV.
package haar

import (
	"image"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"go.uber.org/multierr"
)

// ErrEmptyFrame is returned when Detect receives a frame without pixels.
var ErrEmptyFrame = errors.New("empty frame")

// Bilateral configures the edge-preserving denoise applied to the gray frame.
type Bilateral struct {
	Enabled    bool
	Diameter   int
	SigmaColor float64
	SigmaSpace float64
}

// Options configures a cascade detector.
type Options struct {
	// CascadePath is the OpenCV cascade XML to load.
	CascadePath string
	// ScaleFactor is the image pyramid step, greater than 1 (default: 1.05).
	ScaleFactor float64
	// MinNeighbors is how many overlapping hits a candidate needs to be kept (default: 3).
	MinNeighbors int
	// MinSize is the smallest face side in pixels (default: 40).
	MinSize int
	// MaxSize is the largest face side in pixels. 0 means no limit.
	MaxSize int
	// Equalize applies histogram equalization to the gray frame.
	Equalize bool
	// Bilateral denoises the gray frame before detection.
	Bilateral Bilateral
}

// DefaultOptions returns the detector parameters tuned for a 640x480 webcam.
func DefaultOptions(cascadePath string) Options {
	return Options{
		CascadePath:  cascadePath,
		ScaleFactor:  1.05,
		MinNeighbors: 3,
		MinSize:      40,
		Equalize:     true,
		Bilateral:    Bilateral{Enabled: true, Diameter: 5, SigmaColor: 75, SigmaSpace: 75},
	}
}

// Model is a loaded cascade classifier with its scratch buffers.
type Model struct {
	options    Options
	classifier gocv.CascadeClassifier

	mu       sync.Mutex
	gray     gocv.Mat
	filtered gocv.Mat
}

// NewModel loads the cascade described by opts.
//
// Arguments:
//   - opts: The cascade path and multi-scale parameters.
//
// Returns:
//   - *Model: A detector ready for Detect. The caller must Close it.
//   - error: If the options are invalid or the cascade cannot be loaded.
func NewModel(opts Options) (*Model, error) {
	if opts.CascadePath == "" {
		return nil, errors.New("cascade path is required")
	}
	if opts.ScaleFactor <= 1 {
		return nil, errors.Errorf("scale factor must be greater than 1, got %v", opts.ScaleFactor)
	}
	if opts.MinNeighbors < 0 || opts.MinSize < 0 || opts.MaxSize < 0 {
		return nil, errors.New("min neighbors, min size and max size must not be negative")
	}
	if opts.Bilateral.Enabled && opts.Bilateral.Diameter <= 0 {
		return nil, errors.Errorf("bilateral diameter must be positive, got %d", opts.Bilateral.Diameter)
	}

	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(opts.CascadePath) {
		classifier.Close()
		return nil, errors.Errorf("error reading cascade file: %s", opts.CascadePath)
	}

	return &Model{
		options:    opts,
		classifier: classifier,
		gray:       gocv.NewMat(),
		filtered:   gocv.NewMat(),
	}, nil
}

// Options returns the options the model was built with.
func (m *Model) Options() Options {
	return m.options
}

// Detect finds faces in a BGR frame.
//
// The frame is converted to gray, optionally equalized and denoised, then scanned by
// the cascade at every pyramid level. The raw hits usually overlap and are meant to be
// passed through postprocess.SuppressRectangles.
//
// Arguments:
//   - frame: A BGR frame. It is not modified.
//
// Returns:
//   - []image.Rectangle: The raw detections in frame coordinates.
//   - error: ErrEmptyFrame for a frame without pixels.
func (m *Model) Detect(frame gocv.Mat) ([]image.Rectangle, error) {
	if frame.Empty() {
		return nil, ErrEmptyFrame
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if frame.Channels() == 1 {
		frame.CopyTo(&m.gray)
	} else {
		gocv.CvtColor(frame, &m.gray, gocv.ColorBGRToGray)
	}

	if m.options.Equalize {
		gocv.EqualizeHist(m.gray, &m.gray)
	}

	input := m.gray
	if b := m.options.Bilateral; b.Enabled {
		// The bilateral filter cannot run in place.
		gocv.BilateralFilter(m.gray, &m.filtered, b.Diameter, b.SigmaColor, b.SigmaSpace)
		input = m.filtered
	}

	maxSize := image.Point{}
	if m.options.MaxSize > 0 {
		maxSize = image.Pt(m.options.MaxSize, m.options.MaxSize)
	}

	rects := m.classifier.DetectMultiScaleWithParams(
		input,
		m.options.ScaleFactor,
		m.options.MinNeighbors,
		0,
		image.Pt(m.options.MinSize, m.options.MinSize),
		maxSize,
	)
	return rects, nil
}

// Close releases the classifier and the scratch buffers.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return multierr.Combine(
		m.classifier.Close(),
		m.gray.Close(),
		m.filtered.Close(),
	)
}
