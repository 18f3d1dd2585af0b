// Package images - Image geometry and sizing utilities.
package images

import (
	"fmt"
	"image"
	"math"
)

// Box is an axis-aligned bounding box given by its top-left corner and size, in pixels.
//
// Coordinates are kept as float64 so that detector output in either integer or fractional
// pixels can be compared without loss. Conversion back to integers happens only when a
// box leaves the package as an image.Rectangle.
type Box struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	W float64 `json:"w" yaml:"w"`
	H float64 `json:"h" yaml:"h"`
}

// NewBox builds a box from integer (x, y, w, h) as produced by cascade detectors.
func NewBox(x, y, w, h int) Box {
	return Box{X: float64(x), Y: float64(y), W: float64(w), H: float64(h)}
}

// FromRectangle converts an image.Rectangle (exclusive Max) to a Box.
func FromRectangle(r image.Rectangle) Box {
	r = r.Canon()
	return NewBox(r.Min.X, r.Min.Y, r.Dx(), r.Dy())
}

// FromRectangles converts a detector's rectangles to boxes, preserving order.
func FromRectangles(rects []image.Rectangle) []Box {
	boxes := make([]Box, len(rects))
	for i, r := range rects {
		boxes[i] = FromRectangle(r)
	}
	return boxes
}

// X2 returns the right edge (x + w).
func (b Box) X2() float64 { return b.X + b.W }

// Y2 returns the bottom edge (y + h).
func (b Box) Y2() float64 { return b.Y + b.H }

// Area returns the pixel-inclusive area of the box.
//
// Every pixel row and column the box spans is counted, so a zero-sized box still
// covers one pixel and the area is never zero for valid input.
func (b Box) Area() float64 {
	return (b.X2() - b.X + 1) * (b.Y2() - b.Y + 1)
}

// Validate reports whether every field is finite and non-negative.
func (b Box) Validate() error {
	for _, v := range [...]struct {
		name  string
		value float64
	}{{"x", b.X}, {"y", b.Y}, {"w", b.W}, {"h", b.H}} {
		if math.IsNaN(v.value) || math.IsInf(v.value, 0) {
			return fmt.Errorf("%s is not finite: %v", v.name, v.value)
		}
		if v.value < 0 {
			return fmt.Errorf("%s is negative: %v", v.name, v.value)
		}
	}
	return nil
}

// Rectangle truncates each of (x, y, w, h) toward zero and returns the matching
// image.Rectangle.
func (b Box) Rectangle() image.Rectangle {
	x, y := int(b.X), int(b.Y)
	return image.Rect(x, y, x+int(b.W), y+int(b.H))
}

// Inset returns the rectangle shrunk on every side by int(fraction * w).
//
// The same horizontal pad is applied vertically so the inset stays centred on faces
// that are close to square. A fraction of 0 returns Rectangle().
func (b Box) Inset(fraction float64) image.Rectangle {
	r := b.Rectangle()
	pad := int(fraction * float64(r.Dx()))
	return image.Rect(r.Min.X+pad, r.Min.Y+pad, r.Max.X-pad, r.Max.Y-pad)
}

func (b Box) String() string {
	return fmt.Sprintf("(%g, %g, %g, %g)", b.X, b.Y, b.W, b.H)
}

// Intersection returns the pixel-inclusive area shared by two boxes.
//
// Width and height of the overlap are clamped at zero, so disjoint boxes yield 0
// and never a negative area.
func Intersection(a, b Box) float64 {
	xx1 := math.Max(a.X, b.X)
	yy1 := math.Max(a.Y, b.Y)
	xx2 := math.Min(a.X2(), b.X2())
	yy2 := math.Min(a.Y2(), b.Y2())

	w := math.Max(0, xx2-xx1+1)
	h := math.Max(0, yy2-yy1+1)
	return w * h
}

// OverlapRatio returns the fraction of candidate's area covered by keeper.
//
// The measure is asymmetric: a small box lying entirely inside a large one scores 1.0
// as the candidate, while the large box scores a small value against the small one.
func OverlapRatio(keeper, candidate Box) float64 {
	return Intersection(keeper, candidate) / candidate.Area()
}

// CalculateIoU returns the pixel-inclusive Intersection over Union of two boxes.
//
//	IoU = Area of Intersection / (Area(a) + Area(b) - Area of Intersection)
//
// The result is symmetric and lies in [0, 1].
//
// Example Usage:
// ```go
//
//	a := Box{X: 0, Y: 0, W: 9, H: 9}   // 10x10 inclusive
//	b := Box{X: 5, Y: 5, W: 9, H: 9}
//	iou := CalculateIoU(a, b)           // 25 / (100 + 100 - 25) = 0.142857
//
// ```
func CalculateIoU(a, b Box) float64 {
	inter := Intersection(a, b)
	if inter == 0 {
		return 0
	}
	return inter / (a.Area() + b.Area() - inter)
}
