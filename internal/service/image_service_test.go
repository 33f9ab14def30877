package service

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"lumen/internal/models"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func appErrCode(t *testing.T, err error) string {
	t.Helper()
	var appErr *models.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %v", err)
	return appErr.Code
}

func TestProcessReencodesAsJPEG(t *testing.T) {
	t.Parallel()

	svc := NewImageService(10 * 1024 * 1024)
	out, contentType, err := svc.Process(pngBytes(t, 100, 80))
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", contentType)

	decoded, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 100, decoded.Bounds().Dx())
	assert.Equal(t, 80, decoded.Bounds().Dy())
}

func TestProcessDownscalesToMaxDimension(t *testing.T) {
	t.Parallel()

	svc := NewImageService(10 * 1024 * 1024)
	svc.MaxDimension = 64

	out, _, err := svc.Process(pngBytes(t, 128, 64))
	require.NoError(t, err)

	decoded, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 64, decoded.Bounds().Dx())
	assert.Equal(t, 32, decoded.Bounds().Dy())
}

func TestProcessNeverUpscales(t *testing.T) {
	t.Parallel()

	svc := NewImageService(10 * 1024 * 1024)
	out, _, err := svc.Process(pngBytes(t, 10, 10))
	require.NoError(t, err)

	decoded, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 10, decoded.Bounds().Dx())
	assert.Equal(t, 10, decoded.Bounds().Dy())
}

// exifOrientationSegment builds a minimal APP1 EXIF block whose only IFD0
// entry is the Orientation tag.
func exifOrientationSegment(orientation byte) []byte {
	tiff := []byte{
		'I', 'I', 0x2A, 0x00, // little-endian TIFF header
		0x08, 0x00, 0x00, 0x00, // IFD0 offset
		0x01, 0x00, // one entry
		0x12, 0x01, // tag 0x0112 Orientation
		0x03, 0x00, // type SHORT
		0x01, 0x00, 0x00, 0x00, // count
		orientation, 0x00, 0x00, 0x00, // value
		0x00, 0x00, 0x00, 0x00, // no next IFD
	}
	payload := append([]byte("Exif\x00\x00"), tiff...)
	segment := []byte{0xFF, 0xE1, byte((len(payload) + 2) >> 8), byte(len(payload) + 2)}
	return append(segment, payload...)
}

// jpegWithOrientation encodes img as JPEG and splices an EXIF orientation
// segment right after the SOI marker.
func jpegWithOrientation(t *testing.T, img image.Image, orientation byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	raw := buf.Bytes()

	out := make([]byte, 0, len(raw)+32)
	out = append(out, raw[:2]...)
	out = append(out, exifOrientationSegment(orientation)...)
	return append(out, raw[2:]...)
}

func TestProcessBakesInExifOrientation(t *testing.T) {
	t.Parallel()

	// 32x16, left half red, right half blue.
	src := image.NewRGBA(image.Rect(0, 0, 32, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 32; x++ {
			if x < 16 {
				src.Set(x, y, color.RGBA{R: 255, A: 255})
			} else {
				src.Set(x, y, color.RGBA{B: 255, A: 255})
			}
		}
	}

	svc := NewImageService(10 * 1024 * 1024)
	data := jpegWithOrientation(t, src, 6)
	require.Equal(t, 6, readOrientation(data), "crafted upload must carry the tag")

	out, contentType, err := svc.Process(data)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", contentType)

	// Orientation 6 is a 90-degree clockwise rotation: axes swap and the red
	// half ends up on top.
	decoded, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, 16, decoded.Bounds().Dx())
	require.Equal(t, 32, decoded.Bounds().Dy())

	topR, _, topB, _ := decoded.At(8, 8).RGBA()
	assert.Greater(t, topR, topB, "top half must be red after rotation")
	botR, _, botB, _ := decoded.At(8, 24).RGBA()
	assert.Greater(t, botB, botR, "bottom half must be blue after rotation")
}

func TestProcessStripsExifMetadata(t *testing.T) {
	t.Parallel()

	svc := NewImageService(10 * 1024 * 1024)
	data := jpegWithOrientation(t, image.NewRGBA(image.Rect(0, 0, 24, 24)), 3)

	out, _, err := svc.Process(data)
	require.NoError(t, err)

	_, err = exif.Decode(bytes.NewReader(out))
	assert.Error(t, err, "stored images must carry no EXIF block")
	assert.Equal(t, 1, readOrientation(out))
}

func TestProcessRejectsExcessivePixelArea(t *testing.T) {
	t.Parallel()

	svc := NewImageService(10 * 1024 * 1024)
	svc.MaxPixels = 100

	_, _, err := svc.Process(pngBytes(t, 20, 20))
	require.Error(t, err)
	assert.Equal(t, "VALIDATION_ERROR", appErrCode(t, err))
}

func TestProcessRejectsBadInput(t *testing.T) {
	t.Parallel()

	svc := NewImageService(10 * 1024 * 1024)

	_, _, err := svc.Process(nil)
	require.Error(t, err)
	assert.Equal(t, "VALIDATION_ERROR", appErrCode(t, err))

	_, _, err = svc.Process([]byte("definitely not an image"))
	require.Error(t, err)
	assert.Equal(t, "VALIDATION_ERROR", appErrCode(t, err))
}

func TestReadBounded(t *testing.T) {
	t.Parallel()

	data, err := ReadBounded(strings.NewReader("1234567890"), 10)
	require.NoError(t, err)
	assert.Equal(t, []byte("1234567890"), data)

	_, err = ReadBounded(strings.NewReader("12345678901"), 10)
	require.Error(t, err)
	assert.Equal(t, "TOO_LARGE", appErrCode(t, err))

	data, err = ReadBounded(strings.NewReader(""), 10)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestReadBoundedLargeChunkedInput(t *testing.T) {
	t.Parallel()

	// Bigger than one 64 KiB chunk, one byte over the ceiling.
	limit := int64(100 * 1024)
	over := strings.Repeat("x", int(limit)+1)

	_, err := ReadBounded(strings.NewReader(over), limit)
	require.Error(t, err)
	assert.Equal(t, "TOO_LARGE", appErrCode(t, err))

	data, err := ReadBounded(strings.NewReader(over[:limit]), limit)
	require.NoError(t, err)
	assert.Len(t, data, int(limit))
}
