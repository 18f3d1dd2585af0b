package recorder

import (
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-facecam/controller"
)

// QuitKey stops the loop when pressed in the window.
const QuitKey = 'q'

// Window shows every frame in a desktop window.
type Window struct {
	window *gocv.Window
}

// NewWindow opens a named window.
func NewWindow(name string) *Window {
	return &Window{window: gocv.NewWindow(name)}
}

// Write shows frame and polls the keyboard for a millisecond.
//
// Returns:
//   - error: controller.ErrStop when QuitKey is pressed.
func (w *Window) Write(frame gocv.Mat, _ controller.Result) error {
	w.window.IMShow(frame)
	if key := w.window.WaitKey(1); key&0xff == QuitKey {
		return controller.ErrStop
	}
	return nil
}

// Close destroys the window. It is safe to call more than once.
func (w *Window) Close() error {
	if w.window == nil {
		return nil
	}
	err := w.window.Close()
	w.window = nil
	return err
}
