// Package pipeline drives the per-file ingestion state machine over a
// bounded worker pool. Each source file moves through
// Discovered → Identified → Enriched → Encoded → Stored → Cataloged →
// Cleaned; a failure at any stage is terminal for that file only, and the
// catalog row is written only after every variant is durably stored.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"mue/importer/internal/catalog"
	"mue/importer/internal/media/encoder"
)

type State string

const (
	StateDiscovered State = "discovered"
	StateIdentified State = "identified"
	StateEnriched   State = "enriched"
	StateEncoded    State = "encoded"
	StateStored     State = "stored"
	StateCataloged  State = "cataloged"
	StateCleaned    State = "cleaned"
	StateFailed     State = "failed"
)

// Stage names the step a failed file died in.
type Stage string

const (
	StageIdentify Stage = "identify"
	StageEncode   Stage = "encode"
	StageStore    Stage = "store"
	StageCatalog  Stage = "catalog"
	StageCleanup  Stage = "cleanup"
)

var ErrNoPhotographer = errors.New("photographer is required")

// Collaborators are injected so presentation layers and tests can swap
// them for doubles.
type (
	Encoder interface {
		Encode(canonical []byte, id string) ([]encoder.Variant, error)
	}
	Uploader interface {
		Put(ctx context.Context, key, contentType string, body []byte) error
	}
	Catalog interface {
		Upsert(ctx context.Context, rec catalog.Record) error
	}
	GeoResolver interface {
		Resolve(ctx context.Context, lat, lon float64) (string, error)
	}
	DeviceResolver interface {
		Resolve(model string) string
	}
)

type Options struct {
	Dir              string
	Category         string
	FallbackLocation string
	Photographer     string
	Concurrency      int
	// UploadConcurrency bounds the per-file variant upload fan-out.
	UploadConcurrency int
}

// Events are optional hooks for progress rendering. The pipeline itself
// never prints.
type Events struct {
	FileStarted func(file string)
	StageDone   func(file string, state State)
	FileDone    func(outcome Outcome)
}

// Outcome is the terminal report for one file.
type Outcome struct {
	File  string
	ID    string
	State State
	Stage Stage
	Err   error
}

type Summary struct {
	Total         int
	Succeeded     int
	Failed        int
	Skipped       int
	FailedByStage map[Stage]int
}

type Pipeline struct {
	opts    Options
	encoder Encoder
	store   Uploader
	catalog Catalog
	geo     GeoResolver
	devices DeviceResolver
	events  Events
	logger  zerolog.Logger
}

func New(opts Options, enc Encoder, store Uploader, cat Catalog, geo GeoResolver, devices DeviceResolver, events Events, logger zerolog.Logger) *Pipeline {
	opts.Category = strings.ToLower(opts.Category)
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.UploadConcurrency <= 0 {
		opts.UploadConcurrency = 4
	}
	return &Pipeline{
		opts:    opts,
		encoder: enc,
		store:   store,
		catalog: cat,
		geo:     geo,
		devices: devices,
		events:  events,
		logger:  logger,
	}
}

// Run processes every discoverable file and reports the aggregate result.
// Per-file failures never abort the run; only a missing photographer or an
// unreadable import directory do. On cancellation, in-flight files finish
// their current stage, no new files are dequeued, and the error is the
// context's.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	if p.opts.Photographer == "" {
		return Summary{}, ErrNoPhotographer
	}

	files, err := discover(p.opts.Dir)
	if err != nil {
		return Summary{}, fmt.Errorf("list import dir: %w", err)
	}

	summary := Summary{Total: len(files), FailedByStage: make(map[Stage]int)}
	if len(files) == 0 {
		return summary, nil
	}

	workers := p.opts.Concurrency
	if workers > len(files) {
		workers = len(files)
	}

	jobs := make(chan string)
	outcomes := make(chan Outcome)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for file := range jobs {
				outcomes <- p.processFile(ctx, file)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, file := range files {
			if ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case jobs <- file:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	for outcome := range outcomes {
		if p.events.FileDone != nil {
			p.events.FileDone(outcome)
		}
		switch outcome.State {
		case StateCleaned, StateCataloged:
			summary.Succeeded++
		case StateFailed:
			summary.Failed++
			summary.FailedByStage[outcome.Stage]++
		}
	}
	summary.Skipped = summary.Total - summary.Succeeded - summary.Failed

	return summary, ctx.Err()
}

// discover lists candidate files: regular, non-hidden entries of the
// import directory.
func discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if !entry.Type().IsRegular() {
			continue
		}
		files = append(files, entry.Name())
	}
	return files, nil
}

func (p *Pipeline) stageDone(file string, state State) {
	if p.events.StageDone != nil {
		p.events.StageDone(file, state)
	}
}

func (p *Pipeline) failed(file, id string, stage Stage, err error) Outcome {
	p.logger.Error().Err(err).Str("file", file).Str("stage", string(stage)).Msg("file failed")
	return Outcome{File: file, ID: id, State: StateFailed, Stage: stage, Err: err}
}
