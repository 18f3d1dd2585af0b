package images

import (
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBox_Area validates the pixel-inclusive area convention.
func TestBox_Area(t *testing.T) {
	tests := []struct {
		name     string
		box      Box
		expected float64
	}{
		{"10x10", Box{0, 0, 10, 10}, 121},
		{"Offset origin", Box{100, 50, 10, 10}, 121},
		{"Zero size covers one pixel", Box{5, 5, 0, 0}, 1},
		{"Flat", Box{0, 0, 10, 0}, 11},
		{"Fractional", Box{0.5, 0.5, 1.5, 0.5}, 2.5 * 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, tt.box.Area(), 1e-9)
		})
	}
}

// TestIntersection validates overlap areas, including the clamping of disjoint boxes.
func TestIntersection(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Box
		expected float64
	}{
		{"Identical", Box{0, 0, 10, 10}, Box{0, 0, 10, 10}, 121},
		{"Shifted by one", Box{0, 0, 10, 10}, Box{1, 1, 10, 10}, 100},
		{"Disjoint", Box{0, 0, 10, 10}, Box{100, 100, 10, 10}, 0},
		{"Disjoint on one axis only", Box{0, 0, 10, 10}, Box{0, 50, 10, 10}, 0},
		{"Touching edges share a column", Box{0, 0, 10, 10}, Box{10, 0, 10, 10}, 11},
		{"Contained", Box{0, 0, 100, 100}, Box{10, 10, 20, 20}, 441},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Intersection(tt.a, tt.b), 1e-9)
			assert.InDelta(t, tt.expected, Intersection(tt.b, tt.a), 1e-9, "intersection must be symmetric")
		})
	}
}

// TestOverlapRatio_Asymmetric checks that the ratio is relative to the candidate's own area.
func TestOverlapRatio_Asymmetric(t *testing.T) {
	big := Box{0, 0, 100, 100}
	small := Box{10, 10, 20, 20}

	assert.InDelta(t, 1.0, OverlapRatio(big, small), 1e-9)
	assert.InDelta(t, 441.0/10201.0, OverlapRatio(small, big), 1e-9)
}

// TestCalculateIoU validates the inclusive IoU against known values.
func TestCalculateIoU(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Box
		expected float64
	}{
		{"Identical", Box{0, 0, 9, 9}, Box{0, 0, 9, 9}, 1.0},
		{"No overlap", Box{0, 0, 9, 9}, Box{200, 200, 9, 9}, 0.0},
		{"Quarter offset", Box{0, 0, 9, 9}, Box{5, 5, 9, 9}, 25.0 / 175.0},
		{"One inside other", Box{0, 0, 99, 99}, Box{25, 25, 49, 49}, 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateIoU(tt.a, tt.b)
			assert.InDelta(t, tt.expected, result, 1e-6)
			assert.InDelta(t, result, CalculateIoU(tt.b, tt.a), 1e-9, "IoU must be symmetric")
		})
	}
}

func TestBox_Rectangle(t *testing.T) {
	assert.Equal(t, image.Rect(1, 1, 11, 11), Box{1, 1, 10, 10}.Rectangle())
	// Each field truncates independently, as the integer cast does.
	assert.Equal(t, image.Rect(0, 0, 10, 10), Box{0.7, 0.2, 10.9, 10.5}.Rectangle())
	assert.Equal(t, image.Rect(5, 5, 5, 5), Box{5, 5, 0, 0}.Rectangle())
}

func TestBox_Inset(t *testing.T) {
	b := NewBox(100, 100, 80, 80)
	assert.Equal(t, image.Rect(104, 104, 176, 176), b.Inset(0.05))
	assert.Equal(t, b.Rectangle(), b.Inset(0))
}

func TestFromRectangles(t *testing.T) {
	rects := []image.Rectangle{image.Rect(10, 20, 50, 70), image.Rect(50, 70, 10, 20)}
	boxes := FromRectangles(rects)

	require.Len(t, boxes, 2)
	assert.Equal(t, Box{10, 20, 40, 50}, boxes[0])
	assert.Equal(t, Box{10, 20, 40, 50}, boxes[1], "non-canonical rectangles are normalised")
	assert.Equal(t, rects[0], boxes[0].Rectangle())
	assert.Empty(t, FromRectangles(nil))
}

func TestBox_Validate(t *testing.T) {
	assert.NoError(t, Box{0, 0, 0, 0}.Validate())
	assert.NoError(t, Box{1.5, 2, 3, 4}.Validate())

	for name, b := range map[string]Box{
		"negative width":  {0, 0, -1, 10},
		"negative height": {0, 0, 10, -1},
		"negative x":      {-1, 0, 10, 10},
		"NaN":             {math.NaN(), 0, 10, 10},
		"Inf":             {0, 0, math.Inf(1), 10},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, b.Validate())
		})
	}
}
