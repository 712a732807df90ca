// Package sqlite is the SQLite implementation of the record store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/openderm/diagnosis-api/internal/storage"
)

// Store is a SQLite implementation of storage.RecordStore.
type Store struct {
	db *sql.DB
}

var _ storage.RecordStore = (*Store)(nil)

// New opens (or creates) the database at dbPath and initializes the schema.
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS diagnoses (
			id TEXT PRIMARY KEY,
			query_text TEXT,
			has_image INTEGER NOT NULL DEFAULT 0,
			labels TEXT,
			response TEXT NOT NULL,
			duration_ns INTEGER,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_diagnoses_created ON diagnoses(created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute %q: %w", stmt[:30], err)
		}
	}
	return nil
}

// SaveRecord inserts one diagnosis record.
func (s *Store) SaveRecord(ctx context.Context, record *storage.Record) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	labels, err := json.Marshal(record.Labels)
	if err != nil {
		return fmt.Errorf("failed to marshal labels: %w", err)
	}

	hasImage := 0
	if record.HasImage {
		hasImage = 1
	}

	query := `INSERT INTO diagnoses (id, query_text, has_image, labels, response, duration_ns, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		record.ID, record.QueryText, hasImage, string(labels),
		record.Response, int64(record.Duration), record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// GetRecord retrieves a diagnosis record by ID.
func (s *Store) GetRecord(ctx context.Context, id string) (*storage.Record, error) {
	query := `SELECT id, query_text, has_image, labels, response, duration_ns, created_at
		FROM diagnoses WHERE id = ?`
	return scanRecord(s.db.QueryRowContext(ctx, query, id))
}

// ListRecords returns records newest first.
func (s *Store) ListRecords(ctx context.Context, opts storage.ListOptions) ([]*storage.Record, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, query_text, has_image, labels, response, duration_ns, created_at
		FROM diagnoses ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []*storage.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*storage.Record, error) {
	var record storage.Record
	var queryText, labels sql.NullString
	var hasImage int
	var durationNS sql.NullInt64

	err := row.Scan(&record.ID, &queryText, &hasImage, &labels,
		&record.Response, &durationNS, &record.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}

	record.QueryText = queryText.String
	record.HasImage = hasImage != 0
	record.Duration = time.Duration(durationNS.Int64)
	if labels.Valid && labels.String != "" && labels.String != "null" {
		if err := json.Unmarshal([]byte(labels.String), &record.Labels); err != nil {
			return nil, fmt.Errorf("failed to unmarshal labels: %w", err)
		}
	}
	return &record, nil
}
