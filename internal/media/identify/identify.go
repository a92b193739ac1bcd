// Package identify derives the canonical content id for a source image.
//
// The id is the hex MD5 digest of the image bytes after every embedded
// metadata segment has been removed, so re-tagging a photo never changes
// its identity while any pixel change does.
package identify

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"

	"mue/importer/internal/media/sniffer"
)

// ErrCorruptInput marks files that cannot be parsed as a supported image
// container. The pipeline skips such files instead of aborting the run.
var ErrCorruptInput = errors.New("corrupt image input")

// JPEG marker bytes. Only the ones the stripper needs to know about.
const (
	markerPrefix = 0xff
	markerSOI    = 0xd8 // start of image
	markerEOI    = 0xd9 // end of image
	markerSOS    = 0xda // start of scan; entropy-coded data follows
	markerTEM    = 0x01
	markerCOM    = 0xfe // comment
	markerAPP1   = 0xe1 // Exif/XMP and friends
	markerAPP15  = 0xef
	markerRST0   = 0xd0
	markerRST7   = 0xd7
)

// Identify strips embedded metadata from raw and returns the canonical
// bytes alongside their content id.
func Identify(raw []byte) ([]byte, string, error) {
	head := raw
	if len(head) > 12 {
		head = head[:12]
	}
	result, err := sniffer.DetectHead(head)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrCorruptInput, err)
	}
	if result.Type != sniffer.TypeJPEG {
		return nil, "", fmt.Errorf("%w: unsupported source format %s", ErrCorruptInput, result.Type)
	}

	canonical, err := stripMetadata(raw)
	if err != nil {
		return nil, "", err
	}

	sum := md5.Sum(canonical)
	return canonical, hex.EncodeToString(sum[:]), nil
}

// stripMetadata walks the JPEG segment list and drops APP1–APP15 and COM
// segments. APP0 (JFIF) stays: it carries density info, not capture
// metadata, and removing it can break decoders. From SOS onward the stream
// is copied verbatim.
func stripMetadata(raw []byte) ([]byte, error) {
	if len(raw) < 4 || raw[0] != markerPrefix || raw[1] != markerSOI {
		return nil, fmt.Errorf("%w: missing SOI marker", ErrCorruptInput)
	}

	out := make([]byte, 0, len(raw))
	out = append(out, raw[0], raw[1])

	i := 2
	for {
		if i+1 >= len(raw) {
			return nil, fmt.Errorf("%w: truncated segment list", ErrCorruptInput)
		}
		if raw[i] != markerPrefix {
			return nil, fmt.Errorf("%w: expected marker at offset %d", ErrCorruptInput, i)
		}
		// fill bytes before a marker are legal
		for raw[i+1] == markerPrefix {
			i++
			if i+1 >= len(raw) {
				return nil, fmt.Errorf("%w: truncated segment list", ErrCorruptInput)
			}
		}
		marker := raw[i+1]

		switch {
		case marker == markerSOS:
			// entropy-coded data runs to EOI; nothing past here is metadata
			out = append(out, raw[i:]...)
			return out, nil
		case marker == markerEOI:
			out = append(out, raw[i], raw[i+1])
			return out, nil
		case marker == markerTEM || (marker >= markerRST0 && marker <= markerRST7):
			// standalone markers carry no length field
			out = append(out, raw[i], raw[i+1])
			i += 2
			continue
		}

		if i+3 >= len(raw) {
			return nil, fmt.Errorf("%w: truncated segment header", ErrCorruptInput)
		}
		segLen := int(raw[i+2])<<8 | int(raw[i+3])
		if segLen < 2 || i+2+segLen > len(raw) {
			return nil, fmt.Errorf("%w: invalid segment length %d at offset %d", ErrCorruptInput, segLen, i)
		}

		if (marker >= markerAPP1 && marker <= markerAPP15) || marker == markerCOM {
			// metadata segment: skip
		} else {
			out = append(out, raw[i:i+2+segLen]...)
		}
		i += 2 + segLen
	}
}
