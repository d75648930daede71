package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"car-listings-toolkit/models"
)

const upsertColumns = 10

// PostgresWriter upserts scraped listings into PostgreSQL.
type PostgresWriter struct {
	db *sql.DB
}

// NewPostgresWriter opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresWriter.
func NewPostgresWriter(dsn string, attempts int, wait time.Duration) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		if i < attempts-1 {
			time.Sleep(wait)
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	pw := &PostgresWriter{db: db}
	if err := pw.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return pw, nil
}

func (pw *PostgresWriter) migrate() error {
	_, err := pw.db.Exec(`
		CREATE TABLE IF NOT EXISTS car_listings (
			guid              CHAR(32)    PRIMARY KEY,
			url               TEXT        NOT NULL,
			brand             TEXT        NOT NULL DEFAULT '',
			model             TEXT        NOT NULL DEFAULT '',
			price_cash        TEXT        NOT NULL DEFAULT '',
			kilometros        TEXT        NOT NULL DEFAULT '',
			registration_year TEXT        NOT NULL DEFAULT '',
			fuel_type         TEXT        NOT NULL DEFAULT '',
			images            TEXT        NOT NULL DEFAULT '',
			fields            TEXT        NOT NULL DEFAULT '{}',
			scraped_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_car_listings_brand ON car_listings(brand);
		CREATE INDEX IF NOT EXISTS idx_car_listings_year  ON car_listings(registration_year);
	`)
	return err
}

// WriteRaw batch-upserts listings by GUID. Failed scrapes are skipped.
func (pw *PostgresWriter) WriteRaw(listings []*models.RawListing) error {
	var ok []*models.RawListing
	for _, l := range listings {
		if l.Error == "" {
			ok = append(ok, l)
		}
	}
	if len(ok) == 0 {
		return nil
	}

	const batchSize = 50
	for i := 0; i < len(ok); i += batchSize {
		end := i + batchSize
		if end > len(ok) {
			end = len(ok)
		}
		query, args, err := buildUpsert(ok[i:end])
		if err != nil {
			return err
		}
		if _, err := pw.db.Exec(query, args...); err != nil {
			return fmt.Errorf("postgres: upsert batch %d: %w", i/batchSize, err)
		}
	}
	return nil
}

func buildUpsert(batch []*models.RawListing) (string, []any, error) {
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]any, 0, len(batch)*upsertColumns)

	for idx, l := range batch {
		fields, err := json.Marshal(l.Fields)
		if err != nil {
			return "", nil, fmt.Errorf("postgres: encode fields of %s: %w", l.GUID, err)
		}

		base := idx * upsertColumns
		placeholders := make([]string, upsertColumns)
		for j := range placeholders {
			placeholders[j] = fmt.Sprintf("$%d", base+j+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ",")+")")
		valueArgs = append(valueArgs,
			l.GUID, l.OriginalURL,
			l.Field(models.FieldBrand), l.Field(models.FieldModel),
			l.Field(models.FieldPriceCash), l.Field(models.FieldKilometros),
			l.Field(models.FieldRegistrationYear), l.Field(models.FieldFuelType),
			strings.Join(l.Images, "|"), string(fields))
	}

	query := fmt.Sprintf(`
		INSERT INTO car_listings (guid, url, brand, model, price_cash, kilometros,
			registration_year, fuel_type, images, fields)
		VALUES %s
		ON CONFLICT (guid) DO UPDATE SET
			url = EXCLUDED.url,
			brand = EXCLUDED.brand,
			model = EXCLUDED.model,
			price_cash = EXCLUDED.price_cash,
			kilometros = EXCLUDED.kilometros,
			registration_year = EXCLUDED.registration_year,
			fuel_type = EXCLUDED.fuel_type,
			images = EXCLUDED.images,
			fields = EXCLUDED.fields,
			scraped_at = NOW()
	`, strings.Join(valueStrings, ","))

	return query, valueArgs, nil
}

// Count returns the number of stored listings.
func (pw *PostgresWriter) Count() (int, error) {
	var n int
	if err := pw.db.QueryRow(`SELECT COUNT(*) FROM car_listings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count: %w", err)
	}
	return n, nil
}

func (pw *PostgresWriter) Close() error {
	return pw.db.Close()
}
