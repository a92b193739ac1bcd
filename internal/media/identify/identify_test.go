package identify

import (
	"bytes"
	"image"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// segment builds a marker segment with the two length bytes included in
// the length field, as the JPEG spec counts them.
func segment(marker byte, payload []byte) []byte {
	segLen := len(payload) + 2
	out := []byte{0xff, marker, byte(segLen >> 8), byte(segLen)}
	return append(out, payload...)
}

// testJPEG assembles a structurally valid JPEG: SOI, the given metadata
// segments, a quantization table, SOS and entropy data, EOI.
func testJPEG(meta [][]byte, scan []byte) []byte {
	out := []byte{0xff, 0xd8}
	for _, m := range meta {
		out = append(out, m...)
	}
	out = append(out, segment(0xdb, bytes.Repeat([]byte{0x10}, 64))...)
	out = append(out, segment(0xda, []byte{0x01, 0x01, 0x00})...)
	out = append(out, scan...)
	out = append(out, 0xff, 0xd9)
	return out
}

func exifSegment(payload string) []byte {
	return segment(0xe1, append([]byte("Exif\x00\x00"), payload...))
}

func TestIdentifyIgnoresMetadata(t *testing.T) {
	scan := []byte{0x12, 0x34, 0x56, 0x78}

	plain := testJPEG(nil, scan)
	tagged := testJPEG([][]byte{exifSegment("2021:06:15 14:30:00")}, scan)
	retagged := testJPEG([][]byte{
		exifSegment("2023:01:01 00:00:00"),
		segment(0xfe, []byte("a comment")),
	}, scan)

	_, idPlain, err := Identify(plain)
	require.NoError(t, err)
	_, idTagged, err := Identify(tagged)
	require.NoError(t, err)
	_, idRetagged, err := Identify(retagged)
	require.NoError(t, err)

	assert.Equal(t, idPlain, idTagged)
	assert.Equal(t, idPlain, idRetagged)
	assert.Len(t, idPlain, 32)
}

func TestIdentifyPixelSensitivity(t *testing.T) {
	_, a, err := Identify(testJPEG(nil, []byte{0x12, 0x34, 0x56, 0x78}))
	require.NoError(t, err)
	_, b, err := Identify(testJPEG(nil, []byte{0x12, 0x34, 0x56, 0x79}))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestIdentifyCanonicalBytesStripped(t *testing.T) {
	scan := []byte{0xaa, 0xbb}
	tagged := testJPEG([][]byte{exifSegment("payload")}, scan)

	canonical, _, err := Identify(tagged)
	require.NoError(t, err)

	assert.Equal(t, testJPEG(nil, scan), canonical)
	assert.NotContains(t, string(canonical), "Exif")
}

func TestIdentifyRealEncoderOutput(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))

	canonical, id, err := Identify(buf.Bytes())
	require.NoError(t, err)
	assert.NotEmpty(t, canonical)
	assert.Len(t, id, 32)
}

func TestIdentifyCorruptInput(t *testing.T) {
	pngMagic := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

	for name, input := range map[string][]byte{
		"empty":             nil,
		"not an image":      []byte("hello world, definitely not a jpeg"),
		"png":               pngMagic,
		"truncated segment": {0xff, 0xd8, 0xff, 0xe1, 0x00},
		"bad length":        {0xff, 0xd8, 0xff, 0xe1, 0xff, 0xff, 0x00},
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := Identify(input)
			assert.ErrorIs(t, err, ErrCorruptInput)
		})
	}
}
