// Package postprocess - provides Non-Maximum Suppression for face detection boxes.
package postprocess

import (
	"image"
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-facecam/images"
)

// DefaultOverlapThreshold is the overlap fraction above which a candidate is discarded.
const DefaultOverlapThreshold = 0.3

var (
	// ErrInvalidBox is returned when an input box has a negative or non-finite field.
	ErrInvalidBox = errors.New("invalid box")
	// ErrInvalidThreshold is returned when the overlap threshold is NaN or outside [0, 1].
	ErrInvalidThreshold = errors.New("overlap threshold must be within [0, 1]")
)

// Metric selects how the overlap between a kept box and a candidate is measured.
type Metric string

const (
	// MetricCandidateArea divides the intersection by the candidate's own area.
	MetricCandidateArea Metric = "candidate-area"
	// MetricIoU divides the intersection by the union of both boxes.
	MetricIoU Metric = "iou"
)

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	// OverlapThreshold is the fraction of overlap a candidate may have with a kept box
	// before it is discarded. Candidates are dropped only when strictly above it.
	OverlapThreshold float64 `json:"overlapThreshold" yaml:"overlapThreshold" koanf:"overlapthreshold"`
	// Metric is the overlap measure. Empty means MetricCandidateArea.
	Metric Metric `json:"metric" yaml:"metric" koanf:"metric"`
}

// DefaultNMSConfig returns the configuration used when none is supplied.
func DefaultNMSConfig() NMSConfig {
	return NMSConfig{OverlapThreshold: DefaultOverlapThreshold, Metric: MetricCandidateArea}
}

// Validate checks the threshold range and the metric name.
func (c NMSConfig) Validate() error {
	if math.IsNaN(c.OverlapThreshold) || c.OverlapThreshold < 0 || c.OverlapThreshold > 1 {
		return errors.Wrapf(ErrInvalidThreshold, "got %v", c.OverlapThreshold)
	}
	switch c.Metric {
	case "", MetricCandidateArea, MetricIoU:
		return nil
	default:
		return errors.Errorf("unknown overlap metric %q", c.Metric)
	}
}

// SuppressOverlaps collapses overlapping boxes using greedy suppression by bottom edge.
//
// Boxes are ranked by ascending bottom edge (y + h). The box reaching furthest down the
// frame is kept first. Every remaining candidate whose overlap with it exceeds the
// threshold is discarded, and the process repeats on what is left. Boxes with equal
// bottom edges keep their input order, so the later one is kept first.
//
// Arguments:
//   - boxes: Detector output for one frame, in any order. May be empty.
//   - config: Suppression parameters. nil uses DefaultNMSConfig().
//
// Returns:
//   - The surviving boxes in the order they were kept (largest bottom edge first), each
//     field truncated to an integer. This is not the input order.
//   - An error wrapping ErrInvalidBox or ErrInvalidThreshold on malformed input.
//
// Example:
//
// ```go
//
//	kept, _ := SuppressOverlaps([]images.Box{{0, 0, 10, 10}, {1, 1, 10, 10}}, nil)
//	fmt.Println(kept) // [(1,1)-(11,11)]
//
// ```
func SuppressOverlaps(boxes []images.Box, config *NMSConfig) ([]image.Rectangle, error) {
	cfg := DefaultNMSConfig()
	if config != nil {
		cfg = *config
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := len(boxes)
	if n == 0 {
		return []image.Rectangle{}, nil
	}

	for i, b := range boxes {
		if err := b.Validate(); err != nil {
			return nil, errors.Wrapf(ErrInvalidBox, "box %d %s: %v", i, b, err)
		}
	}

	idxs := make([]int, n)
	for i := range idxs {
		idxs[i] = i
	}
	sort.SliceStable(idxs, func(a, b int) bool {
		return boxes[idxs[a]].Y2() < boxes[idxs[b]].Y2()
	})

	picked := make([]image.Rectangle, 0, n)
	for len(idxs) > 0 {
		last := idxs[len(idxs)-1]
		keeper := boxes[last]
		picked = append(picked, keeper.Rectangle())

		remaining := idxs[:0]
		for _, i := range idxs[:len(idxs)-1] {
			if overlap(cfg.Metric, keeper, boxes[i]) > cfg.OverlapThreshold {
				continue
			}
			remaining = append(remaining, i)
		}
		idxs = remaining
	}

	return picked, nil
}

// SuppressRectangles runs SuppressOverlaps on detector rectangles.
func SuppressRectangles(rects []image.Rectangle, config *NMSConfig) ([]image.Rectangle, error) {
	return SuppressOverlaps(images.FromRectangles(rects), config)
}

func overlap(metric Metric, keeper, candidate images.Box) float64 {
	if metric == MetricIoU {
		return images.CalculateIoU(keeper, candidate)
	}
	return images.OverlapRatio(keeper, candidate)
}
