// Package cache is the content-addressed result store. A hit is returned
// only when the stored digest matches the freshly computed one. Anything
// else, including corrupt rows and I/O failures, degrades to a miss with a
// warning. Caching is strictly an optimization, never a correctness
// dependency.
package cache

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/hablara/leadscope/internal/recipe"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps the analysis cache table.
type Store struct {
	db  *sql.DB
	log *logrus.Entry
}

// New wraps an existing database handle and ensures the schema exists.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("create cache schema: %w", err)
	}
	return &Store{
		db:  db,
		log: logrus.WithField("component", "cache"),
	}, nil
}

// Open opens (creating if needed) the cache database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	// Pragmas for performance + concurrency.
	// WAL allows concurrent readers while a writer is active.
	// busy_timeout reduces SQLITE_BUSY errors under contention.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set synchronous: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	return New(db)
}

// OpenDefault opens the cache in the platform data directory, creating the
// directory on first run.
func OpenDefault() (*Store, error) {
	dataDir, err := recipe.GetDataDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return Open(filepath.Join(dataDir, "leadscope.db"))
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Entry is one cached analysis payload.
type Entry struct {
	Fields map[string]string
	Model  string
	RunID  string
}

// Lookup returns the cached payload for phone if the stored digest equals
// digest. A digest mismatch, a missing row, or any read/decode failure is a
// miss, never an error.
func (s *Store) Lookup(ctx context.Context, phone, dig string) (*Entry, bool) {
	var storedDigest, payload, model, runID string
	err := s.db.QueryRowContext(ctx, `
		SELECT digest, payload, model, run_id FROM lead_analyses WHERE phone = ?
	`, phone).Scan(&storedDigest, &payload, &model, &runID)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		s.log.WithField("phone", phone).Warnf("cache read failed, treating as miss: %v", err)
		return nil, false
	}
	if storedDigest != dig {
		return nil, false
	}

	var fields map[string]string
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		s.log.WithField("phone", phone).Warnf("corrupt cache payload, treating as miss: %v", err)
		return nil, false
	}

	return &Entry{Fields: fields, Model: model, RunID: runID}, true
}

// Put stores (overwriting unconditionally) the analysis payload for phone.
func (s *Store) Put(ctx context.Context, phone, dig string, e Entry) error {
	payload, err := json.Marshal(e.Fields)
	if err != nil {
		return fmt.Errorf("encode cache payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO lead_analyses (phone, digest, payload, model, run_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(phone) DO UPDATE SET
			digest = excluded.digest,
			payload = excluded.payload,
			model = excluded.model,
			run_id = excluded.run_id,
			updated_at = excluded.updated_at
	`, phone, dig, string(payload), e.Model, e.RunID, time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

// Stats summarizes the cache contents.
type Stats struct {
	Entries int            `json:"entries"`
	Models  map[string]int `json:"models"`
}

// GetStats returns entry counts grouped by model.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Models: map[string]int{}}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM lead_analyses`).Scan(&stats.Entries); err != nil {
		return nil, fmt.Errorf("count cache entries: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT model, COUNT(*) FROM lead_analyses GROUP BY model`)
	if err != nil {
		return nil, fmt.Errorf("count cache models: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var model string
		var n int
		if err := rows.Scan(&model, &n); err != nil {
			continue
		}
		stats.Models[model] = n
	}
	return stats, rows.Err()
}

// Clear removes every cache entry.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM lead_analyses`); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}
