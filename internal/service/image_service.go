// Package service implements the application's business logic layer.
package service

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"io"
	"time"

	// Accepted input formats: JPEG, PNG, GIF, WebP.
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"lumen/internal/middleware"
	"lumen/internal/models"

	"github.com/rwcarlsen/goexif/exif"
	xdraw "golang.org/x/image/draw"
)

const (
	// DefaultMaxDimension caps the longer output edge; larger images are
	// downscaled, smaller ones are never upscaled.
	DefaultMaxDimension = 2048
	// DefaultMaxPixels caps the decoded pixel area, bounding memory use
	// before full decode is attempted.
	DefaultMaxPixels = 40_000_000
	// DefaultJPEGQuality is the re-encode quality for all stored images.
	DefaultJPEGQuality = 85
)

// ImageService validates and re-encodes uploaded images. Every accepted
// upload comes out as an orientation-normalized JPEG with metadata dropped.
type ImageService struct {
	MaxBytes     int64
	MaxDimension int
	MaxPixels    int
	JPEGQuality  int
}

// NewImageService returns an ImageService with the given byte ceiling and
// default dimension/quality settings.
func NewImageService(maxBytes int64) *ImageService {
	return &ImageService{
		MaxBytes:     maxBytes,
		MaxDimension: DefaultMaxDimension,
		MaxPixels:    DefaultMaxPixels,
		JPEGQuality:  DefaultJPEGQuality,
	}
}

// ReadBounded reads r in chunks up to maxBytes. One byte past the ceiling
// aborts the read with a TooLarge error, so oversized uploads never buffer
// fully in memory.
func ReadBounded(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return nil, models.NewInternalError(fmt.Errorf("upload ceiling not configured"))
	}

	var buf bytes.Buffer
	chunk := make([]byte, 64*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			if int64(buf.Len())+int64(n) > maxBytes {
				return nil, models.NewTooLargeError(fmt.Sprintf("upload exceeds %d bytes", maxBytes))
			}
			buf.Write(chunk[:n])
		}
		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, models.NewInternalError(fmt.Errorf("read upload: %w", err))
		}
	}
}

// Process validates data as an image and returns it re-encoded as JPEG with
// the output content type. Failure modes: empty or unparsable input yields a
// validation error; excessive pixel area yields a validation error before the
// full decode is attempted.
func (s *ImageService) Process(data []byte) ([]byte, string, error) {
	start := time.Now()
	out, contentType, err := s.process(data)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	middleware.ImageProcessingDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return out, contentType, err
}

func (s *ImageService) process(data []byte) ([]byte, string, error) {
	if len(data) == 0 {
		return nil, "", models.NewValidationError("empty image upload")
	}

	// Header-only decode bounds the pixel area before committing to a full
	// decode of a potentially hostile file.
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", models.NewValidationError("unrecognized or corrupt image")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > s.MaxPixels {
		return nil, "", models.NewValidationError("image dimensions out of bounds")
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", models.NewValidationError("unrecognized or corrupt image")
	}

	img = applyOrientation(img, readOrientation(data))

	// Orientation transposition swaps axes; bound the area again on the
	// normalized image.
	bounds := img.Bounds()
	if bounds.Dx()*bounds.Dy() > s.MaxPixels {
		return nil, "", models.NewValidationError("image dimensions out of bounds")
	}

	img = s.downscale(img)

	// Re-encoding drops all metadata, EXIF included.
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.JPEGQuality}); err != nil {
		return nil, "", models.NewInternalError(fmt.Errorf("encode jpeg: %w", err))
	}
	return buf.Bytes(), "image/jpeg", nil
}

// readOrientation returns the EXIF orientation tag, or 1 (upright) when the
// data carries no readable EXIF block.
func readOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	o, err := tag.Int(0)
	if err != nil || o < 1 || o > 8 {
		return 1
	}
	return o
}

// applyOrientation bakes the EXIF orientation into the pixels. Values 5-8
// transpose the axes.
func applyOrientation(img image.Image, orientation int) image.Image {
	if orientation == 1 {
		return img
	}

	src := img.Bounds()
	w, h := src.Dx(), src.Dy()

	var dst *image.RGBA
	if orientation >= 5 {
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.At(src.Min.X+x, src.Min.Y+y)
			switch orientation {
			case 2: // mirror horizontal
				dst.Set(w-1-x, y, c)
			case 3: // rotate 180
				dst.Set(w-1-x, h-1-y, c)
			case 4: // mirror vertical
				dst.Set(x, h-1-y, c)
			case 5: // transpose
				dst.Set(y, x, c)
			case 6: // rotate 90 CW
				dst.Set(h-1-y, x, c)
			case 7: // transverse
				dst.Set(h-1-y, w-1-x, c)
			case 8: // rotate 270 CW
				dst.Set(y, w-1-x, c)
			}
		}
	}
	return dst
}

// downscale resizes img so its longer edge is at most MaxDimension. Images
// already within bounds are converted to RGBA but never upscaled.
func (s *ImageService) downscale(img image.Image) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	if w <= s.MaxDimension && h <= s.MaxDimension {
		if rgba, ok := img.(*image.RGBA); ok {
			return rgba
		}
		rgba := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
		return rgba
	}

	scale := float64(s.MaxDimension) / float64(w)
	if h > w {
		scale = float64(s.MaxDimension) / float64(h)
	}
	nw := int(float64(w) * scale)
	nh := int(float64(h) * scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, xdraw.Over, nil)
	return dst
}
