// Package exifdata extracts normalized capture metadata from the raw,
// pre-strip image bytes. Absent fields are left unset; a present but
// malformed field degrades to unset as well. Extraction never fails.
package exifdata

import (
	"bytes"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

type Metadata struct {
	CapturedAt  *time.Time
	CameraModel string
	Latitude    *float64
	Longitude   *float64
}

const timestampLayout = "2006:01:02 15:04:05"

var timestampPattern = regexp.MustCompile(`\d{4}:\d{2}:\d{2} \d{2}:\d{2}:\d{2}`)

// Extract reads EXIF metadata out of raw. Files without EXIF data yield a
// zero Metadata.
func Extract(raw []byte) Metadata {
	x, err := exif.Decode(bytes.NewReader(raw))
	if err != nil {
		return Metadata{}
	}

	meta := Metadata{
		CameraModel: getString(x, exif.Model),
	}

	if s := getString(x, exif.DateTimeOriginal); s != "" {
		meta.CapturedAt = parseTimestamp(s)
	}

	lat, latOK := signedDegrees(x, exif.GPSLatitude, exif.GPSLatitudeRef, "N")
	lon, lonOK := signedDegrees(x, exif.GPSLongitude, exif.GPSLongitudeRef, "E")
	if latOK && lonOK {
		meta.Latitude = &lat
		meta.Longitude = &lon
	}

	return meta
}

// parseTimestamp normalizes the EXIF "YYYY:MM:DD HH:MM:SS" form to a local
// time. Anything that does not match degrades to nil.
func parseTimestamp(s string) *time.Time {
	m := timestampPattern.FindString(s)
	if m == "" {
		return nil
	}
	t, err := time.ParseInLocation(timestampLayout, m, time.Local)
	if err != nil {
		return nil
	}
	return &t
}

// signedDegrees resolves one GPS axis: DMS rationals plus a hemisphere
// reference, rounded to one decimal place. positiveRef names the
// hemisphere that maps to a positive value (N for latitude, E for
// longitude).
func signedDegrees(x *exif.Exif, valueName, refName exif.FieldName, positiveRef string) (float64, bool) {
	tag, err := x.Get(valueName)
	if err != nil || tag == nil {
		return 0, false
	}
	magnitude, ok := dmsToDegrees(tag)
	if !ok {
		return 0, false
	}
	ref := getString(x, refName)
	if ref == "" {
		return 0, false
	}
	return applySign(magnitude, ref, positiveRef), true
}

func applySign(magnitude float64, ref, positiveRef string) float64 {
	rounded := roundTenth(magnitude)
	if strings.EqualFold(strings.TrimSpace(ref), positiveRef) {
		return rounded
	}
	return -rounded
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}

// dmsToDegrees converts the degrees/minutes/seconds rational triple to
// decimal degrees. Missing minute/second components count as zero.
func dmsToDegrees(tag *tiff.Tag) (float64, bool) {
	divisors := []float64{1, 60, 3600}
	var total float64
	for i, div := range divisors {
		num, den, err := tag.Rat2(i)
		if err != nil || den == 0 {
			if i == 0 {
				return 0, false
			}
			continue
		}
		total += float64(num) / float64(den) / div
	}
	return total, true
}

// getString safely reads a string tag, trimming trailing NUL padding some
// cameras write.
func getString(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil || tag == nil {
		return ""
	}
	val, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimRight(val, "\x00"))
}
