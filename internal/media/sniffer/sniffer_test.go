package sniffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectHead(t *testing.T) {
	for _, tc := range []struct {
		name   string
		head   []byte
		expect MediaType
	}{
		{"jpeg", []byte{0xff, 0xd8, 0xff, 0xe0}, TypeJPEG},
		{"png", []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}, TypePNG},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBP"), TypeWEBP},
		{"avif", []byte("\x00\x00\x00\x20ftypavif"), TypeAVIF},
	} {
		t.Run(tc.name, func(t *testing.T) {
			result, err := DetectHead(tc.head)
			require.NoError(t, err)
			assert.Equal(t, tc.expect, result.Type)
			assert.NotEmpty(t, result.MIME)
		})
	}
}

func TestDetectHeadUnknown(t *testing.T) {
	for _, head := range [][]byte{nil, []byte("plain text"), {0x00, 0x01}} {
		_, err := DetectHead(head)
		assert.ErrorIs(t, err, ErrUnknownType)
	}
}
