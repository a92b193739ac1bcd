// Package colour derives a representative colour from image pixel
// statistics, recorded with the catalog row so clients can paint a
// placeholder before a variant loads.
package colour

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
)

// maxSamplesPerAxis bounds the work per image; a coarse grid is plenty for
// a single representative colour.
const maxSamplesPerAxis = 64

// Dominant returns the mean pixel colour of the image as an RGB hex
// string like "#8a7f62".
func Dominant(raw []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Empty() {
		return "", fmt.Errorf("empty image")
	}

	stepX := bounds.Dx() / maxSamplesPerAxis
	if stepX < 1 {
		stepX = 1
	}
	stepY := bounds.Dy() / maxSamplesPerAxis
	if stepY < 1 {
		stepY = 1
	}

	var sumR, sumG, sumB, count uint64
	for y := bounds.Min.Y; y < bounds.Max.Y; y += stepY {
		for x := bounds.Min.X; x < bounds.Max.X; x += stepX {
			r, g, b, _ := img.At(x, y).RGBA()
			sumR += uint64(r >> 8)
			sumG += uint64(g >> 8)
			sumB += uint64(b >> 8)
			count++
		}
	}

	return fmt.Sprintf("#%02x%02x%02x", byte(sumR/count), byte(sumG/count), byte(sumB/count)), nil
}
