// Package media prepares downloaded attachments for vision input.
package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"
)

const (
	// imageMaxSide is the maximum pixels per side before resize.
	imageMaxSide = 1200

	// imageMaxBytes is the max size after compression (5MB).
	imageMaxBytes = 5 * 1024 * 1024
)

// jpegQualities is the grid of quality levels to try, best first.
var jpegQualities = []int{85, 75, 65, 55, 45, 35}

// OptimizeImage resizes and recompresses image bytes for vision input:
// decode, auto-orient, fit within imageMaxSide, then encode as JPEG at
// decreasing quality until under imageMaxBytes.
func OptimizeImage(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w > imageMaxSide || h > imageMaxSide {
		img = imaging.Fit(img, imageMaxSide, imageMaxSide, imaging.Lanczos)
	}

	for _, quality := range jpegQualities {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg (q=%d): %w", quality, err)
		}
		if buf.Len() <= imageMaxBytes {
			return buf.Bytes(), nil
		}
	}

	return nil, fmt.Errorf("image too large even at lowest quality (dimensions: %dx%d)", w, h)
}

// Ensure standard image decoders are registered.
func init() {
	image.RegisterFormat("jpeg", "\xff\xd8", jpeg.Decode, jpeg.DecodeConfig)
	image.RegisterFormat("png", "\x89PNG", png.Decode, png.DecodeConfig)
}
