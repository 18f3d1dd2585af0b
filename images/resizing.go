package images

import (
	"image"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/chai2010/webp"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// Thumbnail downsizes img so its longer side is at most maxSide, keeping the aspect ratio.
//
// Images already within bounds are returned unchanged.
//
// Arguments:
//   - img: The image to shrink.
//   - maxSide: The bound for both sides. Values <= 0 disable resizing.
//
// Returns:
//   - image.Image: The thumbnail.
func Thumbnail(img image.Image, maxSide int) image.Image {
	if maxSide <= 0 {
		return img
	}
	b := img.Bounds()
	if b.Dx() <= maxSide && b.Dy() <= maxSide {
		return img
	}
	return resize.Thumbnail(uint(maxSide), uint(maxSide), img, resize.Lanczos3)
}

// Encode writes img to w in the given format.
//
// Arguments:
//   - w: The destination.
//   - img: The image to encode.
//   - format: The output format.
//   - quality: Lossy quality in [1, 100] for JPEG and WebP. 0 selects 90. PNG ignores it.
//
// Returns:
//   - error: An error if the format is unsupported or encoding fails.
func Encode(w io.Writer, img image.Image, format ImageFormat, quality int) error {
	if quality == 0 {
		quality = 90
	}
	if quality < 1 || quality > 100 {
		return errors.Errorf("invalid quality: %d", quality)
	}

	var err error
	switch format {
	case FormatJPEG:
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	case FormatWebP:
		err = webp.Encode(w, img, &webp.Options{Quality: float32(quality)})
	case FormatPNG:
		err = png.Encode(w, img)
	default:
		return errors.Errorf("unsupported image format: %q", format)
	}
	return errors.Wrapf(err, "encoding %s", format)
}
