// Command rtsprelay publishes a webcam to an RTSP server through ffmpeg.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-facecam/capture"
	"github.com/nvr-ai/go-facecam/config"
	"github.com/nvr-ai/go-facecam/logger"
	"github.com/nvr-ai/go-facecam/relay"
)

// flagKeys maps each flag onto the configuration key it overrides.
var flagKeys = map[string]string{
	"device":     "capture.device",
	"resolution": "capture.resolution",
	"url":        "relay.url",
	"fps":        "relay.fps",
	"log-level":  "log.level",
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "rtsprelay",
		Usage: "publish a webcam to an RTSP server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "load configuration from `FILE`"},
			&cli.IntFlag{Name: "device", Aliases: []string{"d"}, Usage: "capture device `INDEX`"},
			&cli.StringFlag{Name: "resolution", Usage: "capture size, a name like VGA or `WxH`"},
			&cli.StringFlag{Name: "url", Usage: "publish `URL`, defaults to $RTSP_URL"},
			&cli.IntFlag{Name: "fps", Usage: "encoder input frame rate"},
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

	cam, err := capture.Open(cfg.Capture, log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, cam.Close()) }()

	size := cam.Size()
	enc, err := relay.StartEncoder(ctx, relay.Options{
		URL:          cfg.Relay.URL,
		Width:        size.X,
		Height:       size.Y,
		FPS:          cfg.Relay.FPS,
		Codec:        cfg.Relay.Codec,
		Preset:       cfg.Relay.Preset,
		PixelFormat:  cfg.Relay.PixelFormat,
		OutputFormat: cfg.Relay.Format,
	}, log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, enc.Close()) }()

	log.Info("relaying", zap.String("url", cfg.Relay.URL), zap.Int("width", size.X), zap.Int("height", size.Y))
	frames, err := relay.Pump(ctx, cam, enc, log)
	stats := cam.CollectMetrics()
	log.Info("relay finished", zap.Int("frames", frames), zap.Float64("emptyReads", stats["captureEmptyFrames"]))
	return err
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		zap.NewExample().Fatal("rtsprelay failed", zap.Error(err))
	}
}
