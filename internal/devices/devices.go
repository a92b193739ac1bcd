// Package devices maps raw camera/device model strings to friendly
// marketing names. The backing table is materialized once per environment
// from a remote CSV and cached as a local JSON file; per-file lookups are
// plain map reads.
package devices

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"mue/importer/internal/config"
)

// Resolver is read-only after construction and safe for concurrent use.
type Resolver struct {
	names map[string]string
}

func NewResolver(names map[string]string) *Resolver {
	return &Resolver{names: names}
}

// Resolve returns the friendly name for a model, or the model string
// itself when no usable mapping exists.
func (r *Resolver) Resolve(model string) string {
	if name, ok := r.names[model]; ok && name != "" {
		return name
	}
	return model
}

func (r *Resolver) Len() int {
	return len(r.names)
}

// Load reads a previously materialized cache file.
func Load(path string) (*Resolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read device cache: %w", err)
	}
	var names map[string]string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("parse device cache %s: %w", path, err)
	}
	return NewResolver(names), nil
}

// Bootstrap returns a resolver backed by the local cache file, building
// the cache from the remote CSV when it does not exist yet. It runs once
// before the worker pool starts; failure is run-fatal.
func Bootstrap(ctx context.Context, cfg config.DevicesConfig) (*Resolver, error) {
	if _, err := os.Stat(cfg.CachePath); err == nil {
		return Load(cfg.CachePath)
	}

	names, err := fetchTable(ctx, cfg)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(names)
	if err != nil {
		return nil, fmt.Errorf("encode device cache: %w", err)
	}
	if err := os.WriteFile(cfg.CachePath, data, 0o644); err != nil {
		return nil, fmt.Errorf("write device cache: %w", err)
	}

	return NewResolver(names), nil
}

// fetchTable downloads the supported-devices CSV (UTF-16LE on the wire)
// and reduces it to a Model -> DisplayName map.
func fetchTable(ctx context.Context, cfg config.DevicesConfig) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.CSVURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build device table request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch device table: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch device table: unexpected status %s", resp.Status)
	}

	decoder := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
	return parseTable(transform.NewReader(resp.Body, decoder))
}

func parseTable(r io.Reader) (map[string]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read device table header: %w", err)
	}

	columns := map[string]int{}
	for i, name := range header {
		// the upstream file spells these "Retail Branding", "Marketing Name"
		columns[strings.ReplaceAll(strings.TrimSpace(name), " ", "")] = i
	}
	modelCol, ok := columns["Model"]
	if !ok {
		return nil, fmt.Errorf("device table missing Model column")
	}
	brandCol, brandOK := columns["RetailBranding"]
	marketingCol, marketingOK := columns["MarketingName"]
	if !brandOK || !marketingOK {
		return nil, fmt.Errorf("device table missing branding columns")
	}

	names := make(map[string]string)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read device table row: %w", err)
		}
		if modelCol >= len(record) || brandCol >= len(record) || marketingCol >= len(record) {
			continue
		}
		model := strings.TrimSpace(record[modelCol])
		if model == "" {
			continue
		}
		names[model] = displayName(model, strings.TrimSpace(record[brandCol]), strings.TrimSpace(record[marketingCol]))
	}
	return names, nil
}

// displayName applies the retail-brand prefix rule: keep the marketing
// name when it already leads with the brand, otherwise prepend the brand
// to the marketing name (or to the model when no marketing name exists).
func displayName(model, brand, marketing string) string {
	if marketing != "" && strings.HasPrefix(marketing, brand) {
		return marketing
	}
	name := marketing
	if name == "" {
		name = model
	}
	return strings.TrimSpace(brand + " " + name)
}
