package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"mue/importer/internal/catalog"
	"mue/importer/internal/media/colour"
	"mue/importer/internal/media/encoder"
	"mue/importer/internal/media/exifdata"
	"mue/importer/internal/media/identify"
)

// identified and enriched are the immutable intermediate records the stage
// functions hand to each other.
type identified struct {
	name      string
	raw       []byte
	canonical []byte
	id        string
}

type enriched struct {
	identified
	record catalog.Record
}

// processFile runs one file's state machine to its terminal state. Between
// stages it honors cancellation: the file stops at the end of the stage it
// is in, leaving no partial catalog writes behind.
func (p *Pipeline) processFile(ctx context.Context, name string) Outcome {
	if p.events.FileStarted != nil {
		p.events.FileStarted(name)
	}

	ident, err := p.identifyFile(name)
	if err != nil {
		return p.failed(name, "", StageIdentify, err)
	}
	p.stageDone(name, StateIdentified)
	if ctx.Err() != nil {
		return Outcome{File: name, ID: ident.id, State: StateIdentified, Err: ctx.Err()}
	}

	enr := p.enrich(ctx, ident)
	p.stageDone(name, StateEnriched)
	if ctx.Err() != nil {
		return Outcome{File: name, ID: ident.id, State: StateEnriched, Err: ctx.Err()}
	}

	variants, err := p.encoder.Encode(ident.canonical, ident.id)
	if err != nil {
		return p.failed(name, ident.id, StageEncode, err)
	}
	p.stageDone(name, StateEncoded)
	if ctx.Err() != nil {
		return Outcome{File: name, ID: ident.id, State: StateEncoded, Err: ctx.Err()}
	}

	if err := p.storeAll(ctx, variants); err != nil {
		if ctx.Err() != nil {
			return Outcome{File: name, ID: ident.id, State: StateEncoded, Err: ctx.Err()}
		}
		// sibling variants already uploaded stay put: the keys are
		// content-addressed, a retry reuses them
		return p.failed(name, ident.id, StageStore, err)
	}
	p.stageDone(name, StateStored)
	if ctx.Err() != nil {
		return Outcome{File: name, ID: ident.id, State: StateStored, Err: ctx.Err()}
	}

	if err := p.catalog.Upsert(ctx, enr.record); err != nil {
		if ctx.Err() != nil {
			return Outcome{File: name, ID: ident.id, State: StateStored, Err: ctx.Err()}
		}
		return p.failed(name, ident.id, StageCatalog, err)
	}
	p.stageDone(name, StateCataloged)

	if err := os.Remove(filepath.Join(p.opts.Dir, name)); err != nil {
		// the catalog commit stands; the leftover source re-imports to the
		// same id on the next run
		p.logger.Warn().Err(err).Str("file", name).Msg("source cleanup failed")
		return Outcome{File: name, ID: ident.id, State: StateCataloged, Stage: StageCleanup, Err: err}
	}
	p.stageDone(name, StateCleaned)

	return Outcome{File: name, ID: ident.id, State: StateCleaned}
}

func (p *Pipeline) identifyFile(name string) (identified, error) {
	raw, err := os.ReadFile(filepath.Join(p.opts.Dir, name))
	if err != nil {
		return identified{}, fmt.Errorf("read source: %w", err)
	}
	canonical, id, err := identify.Identify(raw)
	if err != nil {
		return identified{}, err
	}
	return identified{name: name, raw: raw, canonical: canonical, id: id}, nil
}

// enrich augments the record with capture metadata, the friendly device
// name, the geocoded place name and the dominant colour. Every lookup is
// best-effort: a failure degrades the field, never the file.
func (p *Pipeline) enrich(ctx context.Context, ident identified) enriched {
	meta := exifdata.Extract(ident.raw)

	rec := catalog.Record{
		ID:           ident.id,
		Category:     p.opts.Category,
		Photographer: p.opts.Photographer,
		SourceFile:   ident.name,
		CapturedAt:   meta.CapturedAt,
		Version:      time.Now().UnixMilli(),
	}

	if meta.CameraModel != "" {
		camera := p.devices.Resolve(meta.CameraModel)
		rec.Camera = &camera
	}

	if p.opts.FallbackLocation != "" {
		fallback := p.opts.FallbackLocation
		rec.LocationName = &fallback
	}

	if meta.Latitude != nil && meta.Longitude != nil {
		data := formatCoordinates(*meta.Latitude, *meta.Longitude)
		rec.LocationData = &data

		name, err := p.geo.Resolve(ctx, *meta.Latitude, *meta.Longitude)
		if err != nil {
			p.logger.Warn().Err(err).Str("file", ident.name).Msg("geocode lookup failed")
		} else if name != "" {
			rec.LocationName = &name
		}
	}

	if hex, err := colour.Dominant(ident.canonical); err == nil {
		rec.DominantColour = &hex
	} else {
		p.logger.Debug().Err(err).Str("file", ident.name).Msg("dominant colour unavailable")
	}

	return enriched{identified: ident, record: rec}
}

// storeAll uploads every variant with bounded fan-out. One failure fails
// the whole set; uploads already in flight are left to finish.
func (p *Pipeline) storeAll(ctx context.Context, variants []encoder.Variant) error {
	sem := make(chan struct{}, p.opts.UploadConcurrency)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	for _, variant := range variants {
		mu.Lock()
		stop := firstErr != nil
		mu.Unlock()
		if stop {
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(v encoder.Variant) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := p.store.Put(ctx, v.Key, v.ContentType, v.Body); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(variant)
	}

	wg.Wait()
	return firstErr
}

func formatCoordinates(lat, lon float64) string {
	return strconv.FormatFloat(lat, 'f', 1, 64) + "," + strconv.FormatFloat(lon, 'f', 1, 64)
}
