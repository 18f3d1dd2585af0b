package relay

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// hasPair reports whether flag is immediately followed by value.
func hasPair(args []string, flag, value string) bool {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}

func TestNewStream_Args(t *testing.T) {
	stream, err := NewStream(Options{
		URL:    "rtsp://localhost:8554/webcam",
		Width:  640,
		Height: 480,
		Preset: "ultrafast",
	})
	require.NoError(t, err)

	args := stream.GetArgs()
	for _, pair := range [][2]string{
		{"-f", "rawvideo"},
		{"-vcodec", "rawvideo"},
		{"-pix_fmt", "bgr24"},
		{"-s", "640x480"},
		{"-r", "30"},
		{"-i", "pipe:"},
		{"-c:v", "libx264"},
		{"-pix_fmt", "yuv420p"},
		{"-preset", "ultrafast"},
		{"-f", "rtsp"},
	} {
		assert.True(t, hasPair(args, pair[0], pair[1]), "missing %s %s in %v", pair[0], pair[1], args)
	}
	assert.Contains(t, args, "-y")
	assert.Contains(t, args, "rtsp://localhost:8554/webcam")
}

func TestNewStream_NoPreset(t *testing.T) {
	stream, err := NewStream(Options{URL: "out.mkv", Width: 2, Height: 2, Codec: "mjpeg", OutputFormat: "matroska"})
	require.NoError(t, err)

	args := stream.GetArgs()
	assert.NotContains(t, args, "-preset")
	assert.True(t, hasPair(args, "-c:v", "mjpeg"))
	assert.True(t, hasPair(args, "-f", "matroska"))
}

func TestNewStream_Invalid(t *testing.T) {
	testCases := map[string]Options{
		"missing url":  {Width: 640, Height: 480},
		"missing size": {URL: "rtsp://x/y"},
		"negative fps": {URL: "rtsp://x/y", Width: 640, Height: 480, FPS: -1},
	}
	for name, opts := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := NewStream(opts)
			assert.Error(t, err)
		})
	}
}

func TestOptions_FrameSize(t *testing.T) {
	assert.Equal(t, 640*480*3, Options{Width: 640, Height: 480}.FrameSize())
}

// fakeSource yields count frames of size bytes, then err or io.EOF.
type fakeSource struct {
	count int
	size  int
	err   error
	// cancel, when set, is called after the frame with index cancelAt is returned.
	cancel   context.CancelFunc
	cancelAt int
	reads    int
}

func (f *fakeSource) ReadFrame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.reads >= f.count {
		if f.err != nil {
			return nil, f.err
		}
		return nil, io.EOF
	}
	frame := bytes.Repeat([]byte{byte(f.reads)}, f.size)
	if f.cancel != nil && f.reads == f.cancelAt {
		f.cancel()
	}
	f.reads++
	return frame, nil
}

type failingWriter struct {
	after int
	n     int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.n >= w.after {
		return 0, io.ErrClosedPipe
	}
	w.n++
	return len(p), nil
}

func TestPump_EndOfStream(t *testing.T) {
	var buf bytes.Buffer
	n, err := Pump(context.Background(), &fakeSource{count: 4, size: 12}, &buf, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 48, buf.Len())
	assert.Equal(t, byte(3), buf.Bytes()[47])
}

func TestPump_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var buf bytes.Buffer
	n, err := Pump(ctx, &fakeSource{count: 100, size: 3, cancel: cancel, cancelAt: 2}, &buf, nil)
	require.NoError(t, err, "cancellation is a clean stop")
	assert.Equal(t, 3, n)
}

func TestPump_Errors(t *testing.T) {
	_, err := Pump(context.Background(), &fakeSource{count: 1, size: 3, err: errors.New("device unplugged")}, io.Discard, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device unplugged")

	n, err := Pump(context.Background(), &fakeSource{count: 10, size: 3}, &failingWriter{after: 2}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.ErrClosedPipe))
	assert.Equal(t, 2, n)
}

type recordingStdin struct {
	bytes.Buffer
}

func (*recordingStdin) Close() error { return nil }

func TestEncoder_WriteChecksFrameSize(t *testing.T) {
	stdin := &recordingStdin{}
	enc := &Encoder{stdin: stdin, frameSize: Options{Width: 4, Height: 2}.FrameSize()}

	n, err := enc.Write(make([]byte, 24))
	require.NoError(t, err)
	assert.Equal(t, 24, n)

	_, err = enc.Write(make([]byte, 23))
	assert.True(t, errors.Is(err, ErrFrameSize))
	assert.Equal(t, 24, stdin.Len(), "a short frame never reaches ffmpeg")

	n, err = Pump(context.Background(), &fakeSource{count: 3, size: 12}, enc, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFrameSize))
	assert.Equal(t, 0, n)
}

func TestEncoder(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}

	out := filepath.Join(t.TempDir(), "relay.mkv")
	opts := Options{
		URL:          out,
		Width:        64,
		Height:       48,
		FPS:          10,
		Codec:        "mjpeg",
		PixelFormat:  "yuvj420p",
		OutputFormat: "matroska",
		Stderr:       io.Discard,
	}

	enc, err := StartEncoder(context.Background(), opts, zaptest.NewLogger(t))
	require.NoError(t, err)

	n, err := Pump(context.Background(), &fakeSource{count: 5, size: opts.FrameSize()}, enc, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	require.NoError(t, enc.Close())
	require.NoError(t, enc.Close())

	st, err := os.Stat(out)
	require.NoError(t, err)
	assert.Positive(t, st.Size())
}

func TestEncoder_Cancelled(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	enc, err := StartEncoder(ctx, Options{
		URL:          filepath.Join(t.TempDir(), "relay.mkv"),
		Width:        64,
		Height:       48,
		Codec:        "mjpeg",
		PixelFormat:  "yuvj420p",
		OutputFormat: "matroska",
		Stderr:       io.Discard,
	}, nil)
	require.NoError(t, err)

	cancel()
	assert.NoError(t, enc.Close(), "a process killed by the context is a clean stop")
}
