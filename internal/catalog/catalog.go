// Package catalog persists one metadata row per successfully ingested
// image. The id is the content-derived identifier, so retrying a file
// after a partial failure converges on the same row.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrImageNotFound = errors.New("image not found")

// Record is the durable catalog row. Optional fields are pointers so that
// absence survives the round trip as NULL.
type Record struct {
	ID             string
	Category       string
	Photographer   string
	Camera         *string
	CapturedAt     *time.Time
	LocationData   *string
	LocationName   *string
	DominantColour *string
	SourceFile     string
	Version        int64
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert writes the record, replacing any existing row for the same id as
// long as the incoming version is not older. Re-running an import is
// therefore idempotent and never duplicates a row.
func (r *Repository) Upsert(ctx context.Context, rec Record) error {
	const query = `
		INSERT INTO images (
			id, category, photographer, camera, captured_at,
			location_data, location_name, dominant_colour, source_file, version
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10
		)
		ON CONFLICT (id) DO UPDATE SET
			category = EXCLUDED.category,
			photographer = EXCLUDED.photographer,
			camera = EXCLUDED.camera,
			captured_at = EXCLUDED.captured_at,
			location_data = EXCLUDED.location_data,
			location_name = EXCLUDED.location_name,
			dominant_colour = EXCLUDED.dominant_colour,
			source_file = EXCLUDED.source_file,
			version = EXCLUDED.version
		WHERE images.version <= EXCLUDED.version
	`

	_, err := r.pool.Exec(ctx, query,
		rec.ID,
		rec.Category,
		rec.Photographer,
		rec.Camera,
		rec.CapturedAt,
		rec.LocationData,
		rec.LocationName,
		rec.DominantColour,
		rec.SourceFile,
		rec.Version,
	)
	return err
}

func (r *Repository) GetByID(ctx context.Context, id string) (Record, error) {
	const query = `
		SELECT id, category, photographer, camera, captured_at,
		       location_data, location_name, dominant_colour, source_file, version
		FROM images WHERE id = $1
	`

	row := r.pool.QueryRow(ctx, query, id)
	var rec Record
	if err := row.Scan(
		&rec.ID,
		&rec.Category,
		&rec.Photographer,
		&rec.Camera,
		&rec.CapturedAt,
		&rec.LocationData,
		&rec.LocationName,
		&rec.DominantColour,
		&rec.SourceFile,
		&rec.Version,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrImageNotFound
		}
		return Record{}, err
	}
	return rec, nil
}
