// Package config - Layered application configuration for the face detector and the relay.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-facecam/images"
	"github.com/nvr-ai/go-facecam/models/postprocess"
)

// EnvPrefix is the prefix of environment variables mapped onto configuration keys.
// FACECAM_CAPTURE_DEVICE sets capture.device.
const EnvPrefix = "FACECAM_"

// RTSPURLEnv is read into relay.url.
const RTSPURLEnv = "RTSP_URL"

// CaptureConfig defines the webcam to open.
type CaptureConfig struct {
	Device     int     `koanf:"device"`
	Resolution string  `koanf:"resolution"`
	FPS        float64 `koanf:"fps"`
}

// BilateralConfig defines the edge-preserving denoise applied before detection.
type BilateralConfig struct {
	Enabled    bool    `koanf:"enabled"`
	Diameter   int     `koanf:"diameter"`
	SigmaColor float64 `koanf:"sigmacolor"`
	SigmaSpace float64 `koanf:"sigmaspace"`
}

// DetectorConfig defines the cascade model and its multi-scale parameters.
type DetectorConfig struct {
	Model        string          `koanf:"model"`
	CascadePath  string          `koanf:"cascadepath"`
	SearchDirs   []string        `koanf:"searchdirs"`
	ScaleFactor  float64         `koanf:"scalefactor"`
	MinNeighbors int             `koanf:"minneighbors"`
	MinSize      int             `koanf:"minsize"`
	MaxSize      int             `koanf:"maxsize"`
	Equalize     bool            `koanf:"equalize"`
	Bilateral    BilateralConfig `koanf:"bilateral"`
}

// RecorderConfig defines where annotated frames go.
type RecorderConfig struct {
	Output           string        `koanf:"output"`
	FourCC           string        `koanf:"fourcc"`
	FPS              float64       `koanf:"fps"`
	Padding          float64       `koanf:"padding"`
	ShowWindow       bool          `koanf:"showwindow"`
	WindowName       string        `koanf:"windowname"`
	SnapshotDir      string        `koanf:"snapshotdir"`
	SnapshotInterval time.Duration `koanf:"snapshotinterval"`
	SnapshotFormat   string        `koanf:"snapshotformat"`
	ThumbnailSize    int           `koanf:"thumbnailsize"`
	MaxFrames        int           `koanf:"maxframes"`
}

// RelayConfig defines the ffmpeg encoder the relay feeds.
type RelayConfig struct {
	URL         string `koanf:"url"`
	FPS         int    `koanf:"fps"`
	Codec       string `koanf:"codec"`
	Preset      string `koanf:"preset"`
	PixelFormat string `koanf:"pixelformat"`
	Format      string `koanf:"format"`
}

// ProfilerConfig defines the periodic performance report.
type ProfilerConfig struct {
	ReportInterval time.Duration `koanf:"reportinterval"`
	MaxSamples     int           `koanf:"maxsamples"`
}

// LogConfig defines the logger.
type LogConfig struct {
	Level       string `koanf:"level"`
	Development bool   `koanf:"development"`
}

// AppConfig is the complete configuration of both commands.
type AppConfig struct {
	Capture  CaptureConfig         `koanf:"capture"`
	Detector DetectorConfig        `koanf:"detector"`
	NMS      postprocess.NMSConfig `koanf:"nms"`
	Recorder RecorderConfig        `koanf:"recorder"`
	Relay    RelayConfig           `koanf:"relay"`
	Profiler ProfilerConfig        `koanf:"profiler"`
	Log      LogConfig             `koanf:"log"`
}

// Defaults returns the built-in configuration values keyed by their dotted path.
func Defaults() map[string]any {
	return map[string]any{
		"capture.device":                0,
		"capture.resolution":            "640x480",
		"capture.fps":                   30.0,
		"detector.model":                "haar-frontalface-default",
		"detector.scalefactor":          1.05,
		"detector.minneighbors":         3,
		"detector.minsize":              40,
		"detector.maxsize":              0,
		"detector.equalize":             true,
		"detector.bilateral.enabled":    true,
		"detector.bilateral.diameter":   5,
		"detector.bilateral.sigmacolor": 75.0,
		"detector.bilateral.sigmaspace": 75.0,
		"nms.overlapthreshold":          postprocess.DefaultOverlapThreshold,
		"nms.metric":                    string(postprocess.MetricCandidateArea),
		"recorder.output":               "streaming/faces_output.avi",
		"recorder.fourcc":               "MJPG",
		"recorder.fps":                  15.0,
		"recorder.padding":              0.05,
		"recorder.showwindow":           false,
		"recorder.windowname":           "Haar Face Detection",
		"recorder.snapshotinterval":     "2s",
		"recorder.snapshotformat":       string(images.FormatJPEG),
		"recorder.thumbnailsize":        320,
		"recorder.maxframes":            0,
		"relay.fps":                     30,
		"relay.codec":                   "libx264",
		"relay.preset":                  "ultrafast",
		"relay.pixelformat":             "yuv420p",
		"relay.format":                  "rtsp",
		"profiler.reportinterval":       "5s",
		"profiler.maxsamples":           600,
		"log.level":                     "info",
		"log.development":               false,
	}
}

// Load builds the configuration from, in increasing precedence: the defaults, the YAML
// file at filePath (skipped when empty), FACECAM_* and RTSP_URL environment variables,
// and overrides.
//
// Arguments:
//   - filePath: Optional YAML file. A non-empty path that cannot be read is an error.
//   - overrides: Dotted keys set explicitly by the caller, typically from CLI flags.
//
// Returns:
//   - *AppConfig: The validated configuration.
//   - error: If any source fails to load or the result does not validate.
func Load(filePath string, overrides map[string]any) (*AppConfig, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, errors.Wrap(err, "loading defaults")
	}

	if filePath != "" {
		if err := k.Load(file.Provider(filePath), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "loading config file %s", filePath)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".")
	}), nil); err != nil {
		return nil, errors.Wrap(err, "loading environment")
	}

	if err := k.Load(env.Provider(RTSPURLEnv, ".", func(s string) string {
		if s == RTSPURLEnv {
			return "relay.url"
		}
		return ""
	}), nil); err != nil {
		return nil, errors.Wrap(err, "loading environment")
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, errors.Wrap(err, "loading overrides")
		}
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDotEnv exports the variables of a .env file into the process environment.
// Variables that are already set keep their value. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), dotenv.Parser()); err != nil {
		return errors.Wrapf(err, "loading %s", path)
	}

	for key, value := range k.All() {
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, fmt.Sprint(value)); err != nil {
			return errors.Wrapf(err, "setting %s", key)
		}
	}
	return nil
}

// ValidateConfig checks the values a running pipeline depends on.
func ValidateConfig(cfg *AppConfig) error {
	if cfg.Capture.Device < 0 {
		return errors.Errorf("capture.device must not be negative, got %d", cfg.Capture.Device)
	}
	if _, err := cfg.Capture.ParsedResolution(); err != nil {
		return err
	}
	if cfg.Capture.FPS <= 0 {
		return errors.Errorf("capture.fps must be positive, got %v", cfg.Capture.FPS)
	}

	if cfg.Detector.Model == "" && cfg.Detector.CascadePath == "" {
		return errors.New("detector.model or detector.cascadepath is required")
	}
	if cfg.Detector.ScaleFactor <= 1 {
		return errors.Errorf("detector.scalefactor must be greater than 1, got %v", cfg.Detector.ScaleFactor)
	}
	if cfg.Detector.MinNeighbors < 0 || cfg.Detector.MinSize < 0 || cfg.Detector.MaxSize < 0 {
		return errors.New("detector.minneighbors, minsize and maxsize must not be negative")
	}
	if cfg.Detector.Bilateral.Enabled && cfg.Detector.Bilateral.Diameter <= 0 {
		return errors.Errorf("detector.bilateral.diameter must be positive, got %d", cfg.Detector.Bilateral.Diameter)
	}

	if err := cfg.NMS.Validate(); err != nil {
		return errors.Wrap(err, "nms")
	}

	if cfg.Recorder.Padding < 0 || cfg.Recorder.Padding >= 0.5 {
		return errors.Errorf("recorder.padding must be within [0, 0.5), got %v", cfg.Recorder.Padding)
	}
	if cfg.Recorder.Output != "" && len(cfg.Recorder.FourCC) != 4 {
		return errors.Errorf("recorder.fourcc must be four characters, got %q", cfg.Recorder.FourCC)
	}
	if cfg.Recorder.FPS <= 0 {
		return errors.Errorf("recorder.fps must be positive, got %v", cfg.Recorder.FPS)
	}
	if _, err := images.ParseImageFormat(cfg.Recorder.SnapshotFormat); err != nil {
		return errors.Wrap(err, "recorder.snapshotformat")
	}
	if cfg.Recorder.MaxFrames < 0 {
		return errors.Errorf("recorder.maxframes must not be negative, got %d", cfg.Recorder.MaxFrames)
	}

	if cfg.Relay.FPS <= 0 {
		return errors.Errorf("relay.fps must be positive, got %d", cfg.Relay.FPS)
	}
	return nil
}

// ParsedResolution returns the capture resolution as a name or WxH lookup.
func (c CaptureConfig) ParsedResolution() (images.Resolution, error) {
	res, err := images.ParseResolution(c.Resolution)
	if err != nil {
		return images.Resolution{}, errors.Wrap(err, "capture.resolution")
	}
	return res, nil
}
