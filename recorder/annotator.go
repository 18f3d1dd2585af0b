// Package recorder - Sinks that draw, store and display processed frames.
package recorder

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-facecam/controller"
	"github.com/nvr-ai/go-facecam/images"
)

var (
	// BoxColor is the color of face boxes.
	BoxColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	// TextColor is the color of the overlay text.
	TextColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}
)

const (
	boxThickness  = 2
	textScale     = 0.55
	textThickness = 1
)

// TextOrigin is where the overlay baseline starts.
var TextOrigin = image.Pt(10, 20)

// Annotator draws the kept faces and a status line onto each frame in place.
//
// It must precede the sinks that record or display the frame.
type Annotator struct {
	// Padding shrinks every box on each side by Padding times its width.
	Padding float64
}

// Write draws result onto frame.
func (a *Annotator) Write(frame gocv.Mat, result controller.Result) error {
	for _, r := range PaddedRects(result.Faces, a.Padding) {
		gocv.Rectangle(&frame, r, BoxColor, boxThickness)
	}
	gocv.PutText(&frame, OverlayText(result), TextOrigin, gocv.FontHersheySimplex, textScale, TextColor, textThickness)
	return nil
}

// OverlayText formats the status line drawn on every frame.
func OverlayText(result controller.Result) string {
	return fmt.Sprintf("Faces: %d | FPS: %.1f | Latency: %.1f ms",
		len(result.Faces), result.FPS, float64(result.Latency.Microseconds())/1000)
}

// PaddedRects insets each face by padding times its width. Faces that would vanish keep
// their original rectangle.
func PaddedRects(faces []image.Rectangle, padding float64) []image.Rectangle {
	out := make([]image.Rectangle, len(faces))
	for i, f := range faces {
		inset := images.FromRectangle(f).Inset(padding)
		if inset.Empty() {
			inset = f
		}
		out[i] = inset
	}
	return out
}
