// Package models - registry for models.
package models

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-facecam/config"
	"github.com/nvr-ai/go-facecam/models/haar"
	"github.com/nvr-ai/go-facecam/models/model"
)

// HaarOptions maps the detector configuration onto cascade options.
//
// Arguments:
//   - cfg: The detector section of the application configuration.
//   - cascadePath: The resolved cascade file.
//
// Returns:
//   - haar.Options: The options for haar.NewModel.
func HaarOptions(cfg config.DetectorConfig, cascadePath string) haar.Options {
	return haar.Options{
		CascadePath:  cascadePath,
		ScaleFactor:  cfg.ScaleFactor,
		MinNeighbors: cfg.MinNeighbors,
		MinSize:      cfg.MinSize,
		MaxSize:      cfg.MaxSize,
		Equalize:     cfg.Equalize,
		Bilateral: haar.Bilateral{
			Enabled:    cfg.Bilateral.Enabled,
			Diameter:   cfg.Bilateral.Diameter,
			SigmaColor: cfg.Bilateral.SigmaColor,
			SigmaSpace: cfg.Bilateral.SigmaSpace,
		},
	}
}

// NewDetector resolves the configured cascade and loads it.
//
// Both catalogued families are OpenCV cascade classifiers, so every model name is served
// by haar.Model.
//
// Arguments:
//   - cfg: The detector configuration. CascadePath, when set, wins over Model.
//
// Returns:
//   - *haar.Model: The loaded detector. The caller must Close it.
//   - error: If the model is unknown, the cascade cannot be found, or it fails to load.
func NewDetector(cfg config.DetectorConfig) (*haar.Model, error) {
	path, err := model.ResolveCascadePath(model.Name(cfg.Model), cfg.CascadePath, cfg.SearchDirs)
	if err != nil {
		return nil, errors.Wrap(err, "resolving cascade")
	}

	m, err := haar.NewModel(HaarOptions(cfg, path))
	if err != nil {
		return nil, errors.Wrapf(err, "loading model %s", cfg.Model)
	}
	return m, nil
}
