package images

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// AspectRatio represents an aspect ratio by name (e.g., "16:9").
type AspectRatio string

// Defines the aspect ratios common to webcams.
const (
	AspectRatio169 AspectRatio = "16:9"
	AspectRatio43  AspectRatio = "4:3"
	AspectRatio54  AspectRatio = "5:4"
)

// ResolutionType is the common name of a capture resolution.
type ResolutionType string

// Defines the resolutions a webcam is usually able to deliver.
const (
	ResolutionTypeQVGA     ResolutionType = "QVGA"
	ResolutionTypeVGA      ResolutionType = "VGA"
	ResolutionTypeNHD      ResolutionType = "nHD"
	ResolutionTypeSVGA     ResolutionType = "SVGA"
	ResolutionTypeHD720p   ResolutionType = "HD 720p"
	ResolutionType1MP54    ResolutionType = "1MP (5:4)"
	ResolutionTypeFHD1080p ResolutionType = "Full HD 1080p"
	ResolutionType4KUHD    ResolutionType = "4K UHD"
)

// ResolutionPixels describes the exact dimensions of a resolution.
type ResolutionPixels struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Resolution describes a named capture resolution.
type Resolution struct {
	Name        ResolutionType   `json:"name" yaml:"name"`
	AspectRatio AspectRatio      `json:"aspectRatio" yaml:"aspectRatio"`
	Pixels      ResolutionPixels `json:"pixels" yaml:"pixels"`
}

// GetMegaPixels returns the megapixel count rounded to two decimal places.
func (r Resolution) GetMegaPixels() float64 {
	if r.Pixels.Width <= 0 || r.Pixels.Height <= 0 {
		return 0.0
	}
	mp := float64(r.Pixels.Width*r.Pixels.Height) / 1_000_000.0
	return math.Round(mp*100) / 100
}

// FrameBytes returns the size of one packed BGR24 frame at this resolution.
func (r Resolution) FrameBytes() int {
	return r.Pixels.Width * r.Pixels.Height * 3
}

// String returns a human-readable summary of the resolution.
func (r Resolution) String() string {
	if r.Name == "" {
		return fmt.Sprintf("%dx%d", r.Pixels.Width, r.Pixels.Height)
	}
	return fmt.Sprintf("%s (%dx%d)", r.Name, r.Pixels.Width, r.Pixels.Height)
}

var resolutions = map[ResolutionType]Resolution{
	ResolutionTypeQVGA: {
		Name:        ResolutionTypeQVGA,
		AspectRatio: AspectRatio43,
		Pixels:      ResolutionPixels{Width: 320, Height: 240},
	},
	ResolutionTypeVGA: {
		Name:        ResolutionTypeVGA,
		AspectRatio: AspectRatio43,
		Pixels:      ResolutionPixels{Width: 640, Height: 480},
	},
	ResolutionTypeNHD: {
		Name:        ResolutionTypeNHD,
		AspectRatio: AspectRatio169,
		Pixels:      ResolutionPixels{Width: 640, Height: 360},
	},
	ResolutionTypeSVGA: {
		Name:        ResolutionTypeSVGA,
		AspectRatio: AspectRatio43,
		Pixels:      ResolutionPixels{Width: 800, Height: 600},
	},
	ResolutionTypeHD720p: {
		Name:        ResolutionTypeHD720p,
		AspectRatio: AspectRatio169,
		Pixels:      ResolutionPixels{Width: 1280, Height: 720},
	},
	ResolutionType1MP54: {
		Name:        ResolutionType1MP54,
		AspectRatio: AspectRatio54,
		Pixels:      ResolutionPixels{Width: 1280, Height: 1024},
	},
	ResolutionTypeFHD1080p: {
		Name:        ResolutionTypeFHD1080p,
		AspectRatio: AspectRatio169,
		Pixels:      ResolutionPixels{Width: 1920, Height: 1080},
	},
	ResolutionType4KUHD: {
		Name:        ResolutionType4KUHD,
		AspectRatio: AspectRatio169,
		Pixels:      ResolutionPixels{Width: 3840, Height: 2160},
	},
}

// GetResolutionByType retrieves a resolution by its type.
func GetResolutionByType(t ResolutionType) (Resolution, bool) {
	res, ok := resolutions[t]
	return res, ok
}

// GetAllResolutions returns every named resolution ordered by pixel count.
func GetAllResolutions() []Resolution {
	all := make([]Resolution, 0, len(resolutions))
	for _, res := range resolutions {
		all = append(all, res)
	}
	sort.Slice(all, func(i, j int) bool {
		pi := all[i].Pixels.Width * all[i].Pixels.Height
		pj := all[j].Pixels.Width * all[j].Pixels.Height
		if pi == pj {
			return all[i].Pixels.Width < all[j].Pixels.Width
		}
		return pi < pj
	})
	return all
}

// ParseResolution resolves a resolution from either a name ("VGA", "hd 720p") or an
// explicit "WIDTHxHEIGHT" string ("640x480").
//
// Arguments:
//   - s: The name or dimensions to parse. Names match case-insensitively.
//
// Returns:
//   - Resolution: The matching resolution. Explicit dimensions that equal a named
//     resolution return the named entry.
//   - error: An error if s is neither a known name nor valid positive dimensions.
func ParseResolution(s string) (Resolution, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Resolution{}, fmt.Errorf("empty resolution")
	}

	all := GetAllResolutions()
	for _, res := range all {
		if strings.EqualFold(string(res.Name), s) {
			return res, nil
		}
	}

	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		names := make([]string, len(all))
		for i, res := range all {
			names[i] = string(res.Name)
		}
		return Resolution{}, fmt.Errorf("unknown resolution %q, use WxH or one of: %s", s, strings.Join(names, ", "))
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil {
		return Resolution{}, fmt.Errorf("invalid width in %q: %w", s, err)
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil {
		return Resolution{}, fmt.Errorf("invalid height in %q: %w", s, err)
	}
	if width <= 0 || height <= 0 {
		return Resolution{}, fmt.Errorf("resolution %q must have positive dimensions", s)
	}

	pixels := ResolutionPixels{Width: width, Height: height}
	for _, res := range resolutions {
		if res.Pixels == pixels {
			return res, nil
		}
	}
	return Resolution{Pixels: pixels}, nil
}
