package rasterize

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
)

// ColorMode defines the color mode for encoded previews
type ColorMode string

const (
	ColorRGB  ColorMode = "rgb"
	ColorGray ColorMode = "gray"
)

const DefaultQuality = 80

// EncodeJPEG encodes img, converting to grayscale first when mode is ColorGray.
func EncodeJPEG(img image.Image, quality int, mode ColorMode) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("no image to encode")
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}

	final := img
	if mode == ColorGray {
		bounds := img.Bounds()
		gray := image.NewGray(bounds)
		draw.Draw(gray, bounds, img, bounds.Min, draw.Src)
		final = gray
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, final, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}
