// Package store persists medicine records in a local SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mediscan-tech/mediscan/internal/pipeline"
	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

// ErrNotFound is returned when no record exists for an image ID.
var ErrNotFound = errors.New("record not found")

const schema = `
CREATE TABLE IF NOT EXISTS records (
    image_id          TEXT PRIMARY KEY,
    detected_language TEXT NOT NULL,
    medicine_name     TEXT NOT NULL,
    ingredients       TEXT NOT NULL,
    quantity          TEXT NOT NULL,
    source            TEXT NOT NULL,
    confidence        REAL NOT NULL,
    name_confidence   REAL NOT NULL,
    ingr_confidence   REAL NOT NULL,
    qty_confidence    REAL NOT NULL,
    created_at        TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_created_at ON records(created_at);
`

// Store wraps the SQLite database holding scan results.
type Store struct {
	db *sql.DB
}

// Open opens (and creates, if needed) the database at path and applies the
// schema. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent scans.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// SaveRecord inserts or replaces the record for its image ID.
func (s *Store) SaveRecord(ctx context.Context, rec *pipeline.MedicineRecord) error {
	if rec == nil || rec.ImageID == "" {
		return fmt.Errorf("record with image ID is required")
	}
	ingredients, err := json.Marshal(rec.Ingredients)
	if err != nil {
		return fmt.Errorf("encode ingredients: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO records (
			image_id, detected_language, medicine_name, ingredients, quantity,
			source, confidence, name_confidence, ingr_confidence, qty_confidence,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ImageID, rec.DetectedLanguage, rec.MedicineName, string(ingredients),
		rec.Quantity, rec.Source, rec.Confidence,
		rec.FieldConfidence.MedicineName, rec.FieldConfidence.Ingredients,
		rec.FieldConfidence.Quantity, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("save record %s: %w", rec.ImageID, err)
	}
	return nil
}

// GetRecord fetches the record for an image ID, or ErrNotFound.
func (s *Store) GetRecord(ctx context.Context, imageID string) (*pipeline.MedicineRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT image_id, detected_language, medicine_name, ingredients, quantity,
		       source, confidence, name_confidence, ingr_confidence, qty_confidence,
		       created_at
		FROM records WHERE image_id = ?`, imageID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", imageID, err)
	}
	return rec, nil
}

// ListRecords returns up to limit records, newest first.
func (s *Store) ListRecords(ctx context.Context, limit int) ([]*pipeline.MedicineRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT image_id, detected_language, medicine_name, ingredients, quantity,
		       source, confidence, name_confidence, ingr_confidence, qty_confidence,
		       created_at
		FROM records ORDER BY created_at DESC, image_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*pipeline.MedicineRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*pipeline.MedicineRecord, error) {
	var rec pipeline.MedicineRecord
	var ingredients string
	if err := row.Scan(
		&rec.ImageID, &rec.DetectedLanguage, &rec.MedicineName, &ingredients,
		&rec.Quantity, &rec.Source, &rec.Confidence,
		&rec.FieldConfidence.MedicineName, &rec.FieldConfidence.Ingredients,
		&rec.FieldConfidence.Quantity, &rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ingredients), &rec.Ingredients); err != nil {
		return nil, fmt.Errorf("decode ingredients: %w", err)
	}
	if rec.Ingredients == nil {
		rec.Ingredients = []string{}
	}
	return &rec, nil
}
