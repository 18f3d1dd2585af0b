// Command facedetect detects faces on a webcam, suppresses overlapping hits and records
// the annotated stream.
package main

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gocv.io/x/gocv"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-facecam/capture"
	"github.com/nvr-ai/go-facecam/config"
	"github.com/nvr-ai/go-facecam/controller"
	"github.com/nvr-ai/go-facecam/images"
	"github.com/nvr-ai/go-facecam/logger"
	"github.com/nvr-ai/go-facecam/models"
	"github.com/nvr-ai/go-facecam/profiler"
	"github.com/nvr-ai/go-facecam/recorder"
)

// flagKeys maps each flag onto the configuration key it overrides.
var flagKeys = map[string]string{
	"device":       "capture.device",
	"resolution":   "capture.resolution",
	"output":       "recorder.output",
	"overlap":      "nms.overlapthreshold",
	"model":        "detector.model",
	"cascade":      "detector.cascadepath",
	"show-window":  "recorder.showwindow",
	"snapshot-dir": "recorder.snapshotdir",
	"max-frames":   "recorder.maxframes",
	"log-level":    "log.level",
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "facedetect",
		Usage: "detect faces on a webcam and record the annotated stream",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "load configuration from `FILE`"},
			&cli.IntFlag{Name: "device", Aliases: []string{"d"}, Usage: "capture device `INDEX`"},
			&cli.StringFlag{Name: "resolution", Usage: "capture size, a name like VGA or `WxH`"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "annotated video `FILE`, empty to disable"},
			&cli.Float64Flag{Name: "overlap", Usage: "overlap threshold for suppression, within [0, 1]"},
			&cli.StringFlag{Name: "model", Usage: "catalogued cascade `NAME`"},
			&cli.StringFlag{Name: "cascade", Usage: "explicit cascade XML `FILE`"},
			&cli.BoolFlag{Name: "show-window", Usage: "display the annotated frames, press q to quit"},
			&cli.StringFlag{Name: "snapshot-dir", Usage: "save face stills into `DIR`"},
			&cli.IntFlag{Name: "max-frames", Usage: "stop after `N` frames, 0 for no limit"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		},
		Action: run,
	}
}

func overrides(c *cli.Context) map[string]any {
	out := make(map[string]any, len(flagKeys))
	for flag, key := range flagKeys {
		if c.IsSet(flag) {
			out[key] = c.Value(flag)
		}
	}
	return out
}

func run(c *cli.Context) (err error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	cfg, err := config.Load(c.String("config"), overrides(c))
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Until the controller takes ownership, everything opened here is released on error.
	var owned []io.Closer
	defer func() {
		if err != nil {
			for _, closer := range owned {
				err = multierr.Append(err, closer.Close())
			}
		}
	}()

	detector, err := models.NewDetector(cfg.Detector)
	if err != nil {
		return err
	}
	owned = append(owned, detector)

	cam, err := capture.Open(cfg.Capture, log)
	if err != nil {
		return err
	}
	owned = append(owned, cam)

	prof := profiler.NewRuntimeProfiler(profiler.ProfilingOptions{
		ReportInterval: cfg.Profiler.ReportInterval,
		MaxSamples:     cfg.Profiler.MaxSamples,
		Logger:         log.Named("profiler"),
	})
	prof.Start()
	defer prof.Stop()

	prof.AddMetricsCollector(cam)

	sinks := []controller.Sink[gocv.Mat]{&recorder.Annotator{Padding: cfg.Recorder.Padding}}

	if cfg.Recorder.Output != "" {
		video, err := recorder.NewVideoFile(cfg.Recorder.Output, cfg.Recorder.FourCC, cfg.Recorder.FPS, cam.Size(), log)
		if err != nil {
			return err
		}
		owned = append(owned, video)
		sinks = append(sinks, video)
	}

	if cfg.Recorder.SnapshotDir != "" {
		format, err := images.ParseImageFormat(cfg.Recorder.SnapshotFormat)
		if err != nil {
			return err
		}
		snapshots, err := recorder.NewSnapshotter(recorder.SnapshotOptions{
			Dir:           cfg.Recorder.SnapshotDir,
			Format:        format,
			Interval:      cfg.Recorder.SnapshotInterval,
			ThumbnailSize: cfg.Recorder.ThumbnailSize,
			Logger:        log,
		})
		if err != nil {
			return err
		}
		prof.AddMetricsCollector(snapshots)
		sinks = append(sinks, snapshots)
	}

	if cfg.Recorder.ShowWindow {
		window := recorder.NewWindow(cfg.Recorder.WindowName)
		owned = append(owned, window)
		sinks = append(sinks, window)
	}

	ctrl, err := controller.New[gocv.Mat](cam, detector, sinks, controller.Options{
		NMS:       &cfg.NMS,
		MaxFrames: cfg.Recorder.MaxFrames,
		Profiler:  prof,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	owned = nil

	opts := detector.Options()
	log.Info("detecting faces",
		zap.Int("device", cfg.Capture.Device),
		zap.String("model", cfg.Detector.Model),
		zap.String("cascade", opts.CascadePath),
		zap.Float64("scaleFactor", opts.ScaleFactor),
		zap.Int("minNeighbors", opts.MinNeighbors),
		zap.Float64("overlapThreshold", cfg.NMS.OverlapThreshold),
		zap.String("output", cfg.Recorder.Output),
	)
	return errors.Wrap(ctrl.Run(ctx), "facedetect")
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		zap.NewExample().Fatal("facedetect failed", zap.Error(err))
	}
}
