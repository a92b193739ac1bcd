package colour

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidJPEG(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func channel(t *testing.T, hex string, i int) int64 {
	t.Helper()
	v, err := strconv.ParseInt(hex[1+i*2:3+i*2], 16, 64)
	require.NoError(t, err)
	return v
}

func TestDominantSolidColour(t *testing.T) {
	hex, err := Dominant(solidJPEG(t, color.RGBA{R: 0x40, G: 0x80, B: 0xc0, A: 0xff}))
	require.NoError(t, err)
	require.Regexp(t, `^#[0-9a-f]{6}$`, hex)

	// JPEG is lossy, so allow a little drift per channel.
	assert.InDelta(t, 0x40, channel(t, hex, 0), 8)
	assert.InDelta(t, 0x80, channel(t, hex, 1), 8)
	assert.InDelta(t, 0xc0, channel(t, hex, 2), 8)
}

func TestDominantRejectsGarbage(t *testing.T) {
	_, err := Dominant([]byte("not an image"))
	assert.Error(t, err)
}
