// Package encoder produces the full set of resized, re-encoded variants
// for a canonical image. The variant set is the cartesian product of the
// resolution classes and the output formats.
package encoder

import (
	"fmt"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

// Class is a named target-height bucket. Height 0 means no resize.
type Class struct {
	Name   string
	Height int
}

var Classes = []Class{
	{Name: "hd", Height: 720},
	{Name: "fhd", Height: 1080},
	{Name: "qhd", Height: 1440},
	{Name: "original", Height: 0},
}

var Formats = []string{"webp", "avif"}

var contentTypes = map[string]string{
	"webp": "image/webp",
	"avif": "image/avif",
}

// Variant is one encoded rendition, ready for upload.
type Variant struct {
	Key         string
	ContentType string
	Body        []byte
}

// Key builds the deterministic storage key for one variant.
func Key(class, id, format string) string {
	return fmt.Sprintf("img/%s/%s.%s", class, id, format)
}

var startupOnce sync.Once

type Encoder struct {
	quality int
	effort  int
}

// New initializes libvips on first use and returns an encoder with the
// production quality/effort settings.
func New() *Encoder {
	startupOnce.Do(func() {
		vips.LoggingSettings(nil, vips.LogLevelError)
		vips.Startup(nil)
	})
	return &Encoder{quality: 85, effort: 6}
}

// Shutdown releases libvips resources. Call once at process exit.
func Shutdown() {
	vips.Shutdown()
}

// Encode renders every (class, format) variant of the canonical bytes.
// Any single failure aborts the whole set: a partially encoded file must
// never reach the upload stage.
func (e *Encoder) Encode(canonical []byte, id string) ([]Variant, error) {
	variants := make([]Variant, 0, len(Classes)*len(Formats))

	for _, class := range Classes {
		// Resize mutates the image ref, so each class decodes afresh.
		img, err := loadImage(canonical)
		if err != nil {
			return nil, fmt.Errorf("decode source for %s: %w", class.Name, err)
		}

		if class.Height > 0 {
			if err := resizeToHeight(img, class.Height); err != nil {
				img.Close()
				return nil, fmt.Errorf("resize to %s: %w", class.Name, err)
			}
		}

		for _, format := range Formats {
			body, err := e.export(img, format)
			if err != nil {
				img.Close()
				return nil, fmt.Errorf("encode %s/%s: %w", class.Name, format, err)
			}
			variants = append(variants, Variant{
				Key:         Key(class.Name, id, format),
				ContentType: contentTypes[format],
				Body:        body,
			})
		}
		img.Close()
	}

	return variants, nil
}

func (e *Encoder) export(img *vips.ImageRef, format string) ([]byte, error) {
	switch format {
	case "webp":
		ep := vips.NewWebpExportParams()
		ep.StripMetadata = true
		ep.Quality = e.quality
		ep.ReductionEffort = e.effort
		body, _, err := img.ExportWebp(ep)
		return body, err
	case "avif":
		ep := vips.NewAvifExportParams()
		ep.StripMetadata = true
		ep.Quality = e.quality
		ep.Effort = e.effort
		body, _, err := img.ExportAvif(ep)
		return body, err
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

func loadImage(canonical []byte) (*vips.ImageRef, error) {
	importParams := vips.NewImportParams()
	// tolerate slightly malformed JPEG streams that still decode
	importParams.FailOnError.Set(false)
	// apply any EXIF rotation before metadata is stripped on export
	importParams.AutoRotate.Set(true)
	return vips.LoadImageFromBuffer(canonical, importParams)
}

// resizeToHeight scales to the class height preserving aspect ratio. Images
// already at or below the target are left alone rather than upscaled.
func resizeToHeight(img *vips.ImageRef, height int) error {
	meta := img.Metadata()
	if meta.Height <= height {
		return nil
	}
	scale := float64(height) / float64(meta.Height)
	return img.Resize(scale, vips.KernelAuto)
}
