package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"car_scrooper/identity"
	"car_scrooper/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Migrate creates the listing tables if they do not exist yet
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS vehicle_specs (
		id UUID PRIMARY KEY,
		fingerprint TEXT NOT NULL UNIQUE,
		year INTEGER NOT NULL DEFAULT 0,
		fuel_type TEXT NOT NULL DEFAULT '',
		transmission TEXT NOT NULL DEFAULT '',
		engine_displacement INTEGER NOT NULL DEFAULT 0,
		power INTEGER NOT NULL DEFAULT 0,
		make TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		trim TEXT NOT NULL DEFAULT '',
		model_year INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS listings (
		id UUID PRIMARY KEY,
		source_id TEXT NOT NULL,
		link TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		price TEXT NOT NULL DEFAULT '',
		old_price TEXT,
		price_changed_at TIMESTAMPTZ,
		is_sold BOOLEAN NOT NULL DEFAULT FALSE,
		is_sold_changed_at TIMESTAMPTZ,
		vehicle_spec_id UUID NOT NULL REFERENCES vehicle_specs(id),
		mileage BIGINT,
		posted_at TIMESTAMPTZ,
		image_url TEXT,
		image_key TEXT,
		image_failures INTEGER NOT NULL DEFAULT 0,
		external_id BIGINT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (source_id, link)
	);

	ALTER TABLE listings ADD COLUMN IF NOT EXISTS image_failures INTEGER NOT NULL DEFAULT 0;

	CREATE INDEX IF NOT EXISTS idx_listings_source ON listings(source_id);
	CREATE INDEX IF NOT EXISTS idx_listings_image_pending ON listings(created_at) WHERE image_key IS NULL AND image_url IS NOT NULL;
	`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// =============================================================================
// Vehicle specs
// =============================================================================

const specColumns = `id, fingerprint, year, fuel_type, transmission, engine_displacement,
	power, make, model, trim, model_year, created_at`

func scanSpec(row pgx.Row) (*models.VehicleSpec, error) {
	var v models.VehicleSpec
	err := row.Scan(&v.ID, &v.Fingerprint, &v.Year, &v.FuelType, &v.Transmission, &v.EngineDisplacement,
		&v.Power, &v.Make, &v.Model, &v.Trim, &v.ModelYear, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// FindSpecByKey looks a spec up by the fingerprint of its identity key
func (s *PostgresStore) FindSpecByKey(ctx context.Context, key models.SpecKey) (*models.VehicleSpec, error) {
	query := `SELECT ` + specColumns + ` FROM vehicle_specs WHERE fingerprint = $1`
	return scanSpec(s.pool.QueryRow(ctx, query, identity.SpecFingerprint(key)))
}

// CreateSpec inserts spec, or returns the row that already holds its
// fingerprint when another writer got there first.
func (s *PostgresStore) CreateSpec(ctx context.Context, spec *models.VehicleSpec) (*models.VehicleSpec, error) {
	if spec.Fingerprint == "" {
		spec.Fingerprint = identity.SpecFingerprint(spec.Key())
	}
	if spec.ID == uuid.Nil {
		spec.ID = uuid.New()
	}

	query := `
		INSERT INTO vehicle_specs (` + specColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (fingerprint) DO UPDATE SET fingerprint = EXCLUDED.fingerprint
		RETURNING ` + specColumns

	stored, err := scanSpec(s.pool.QueryRow(ctx, query,
		spec.ID, spec.Fingerprint, spec.Year, spec.FuelType, spec.Transmission, spec.EngineDisplacement,
		spec.Power, spec.Make, spec.Model, spec.Trim, spec.ModelYear, spec.CreatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("insert vehicle spec: %w", err)
	}
	return stored, nil
}

// =============================================================================
// Listings
// =============================================================================

const listingColumns = `id, source_id, link, title, price, old_price, price_changed_at,
	is_sold, is_sold_changed_at, vehicle_spec_id, mileage, posted_at, image_url, image_key,
	image_failures, external_id, created_at, updated_at`

func scanListing(row pgx.Row) (*models.Listing, error) {
	var l models.Listing
	err := row.Scan(&l.ID, &l.SourceID, &l.Link, &l.Title, &l.Price, &l.OldPrice, &l.PriceChangedAt,
		&l.IsSold, &l.IsSoldChangedAt, &l.VehicleSpecID, &l.Mileage, &l.PostedAt, &l.ImageURL, &l.ImageKey,
		&l.ImageFailures, &l.ExternalID, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *PostgresStore) FindListingsBySource(ctx context.Context, sourceID string) ([]models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE source_id = $1 ORDER BY created_at, link`

	rows, err := s.pool.Query(ctx, query, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

func (s *PostgresStore) CreateListing(ctx context.Context, l *models.Listing) (*models.Listing, error) {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}

	query := `
		INSERT INTO listings (` + listingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING ` + listingColumns

	stored, err := scanListing(s.pool.QueryRow(ctx, query,
		l.ID, l.SourceID, l.Link, l.Title, l.Price, l.OldPrice, l.PriceChangedAt,
		l.IsSold, l.IsSoldChangedAt, l.VehicleSpecID, l.Mileage, l.PostedAt, l.ImageURL, l.ImageKey,
		l.ImageFailures, l.ExternalID, l.CreatedAt, l.UpdatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("insert listing: %w", err)
	}
	return stored, nil
}

// UpdateListing writes only the fields set in patch
func (s *PostgresStore) UpdateListing(ctx context.Context, id uuid.UUID, patch models.ListingPatch) error {
	if patch.IsEmpty() {
		return nil
	}

	var sets []string
	var args []interface{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Price != nil {
		add("price", *patch.Price)
	}
	if patch.OldPrice != nil {
		add("old_price", *patch.OldPrice)
	}
	if patch.PriceChangedAt != nil {
		add("price_changed_at", *patch.PriceChangedAt)
	}
	if patch.Mileage != nil {
		add("mileage", *patch.Mileage)
	}
	if patch.IsSold != nil {
		add("is_sold", *patch.IsSold)
	}
	if patch.IsSoldChangedAt != nil {
		add("is_sold_changed_at", *patch.IsSoldChangedAt)
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE listings SET %s, updated_at = NOW() WHERE id = $%d`,
		strings.Join(sets, ", "), len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update listing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update listing: %s not found", id)
	}
	return nil
}

// =============================================================================
// Image mirror
// =============================================================================

// ListingsWithoutImageMirror returns listings that have an image URL but no
// stored copy yet, skipping those that already failed maxFailures times.
func (s *PostgresStore) ListingsWithoutImageMirror(ctx context.Context, maxFailures, limit int) ([]models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings
		WHERE image_key IS NULL AND image_url IS NOT NULL AND image_failures < $1
		ORDER BY created_at
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, maxFailures, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

func (s *PostgresStore) SetListingImageKey(ctx context.Context, id uuid.UUID, key string) error {
	_, err := s.pool.Exec(ctx, `UPDATE listings SET image_key = $1, updated_at = NOW() WHERE id = $2`, key, id)
	return err
}

// RecordImageFailure bumps the listing's failed mirror count and returns the new value
func (s *PostgresStore) RecordImageFailure(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`UPDATE listings SET image_failures = image_failures + 1 WHERE id = $1 RETURNING image_failures`, id,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("record image failure: %w", err)
	}
	return n, nil
}
