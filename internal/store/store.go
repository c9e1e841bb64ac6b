package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite-backed persistence for embeddings and delivered reports
type Store struct {
	db   *sql.DB
	path string
}

// ReportRecord describes a delivered report
type ReportRecord struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Title     string    `json:"title"`
	LocalPath string    `json:"local_path"`
	RemoteURL string    `json:"remote_url"`
	Topics    int       `json:"topics"`
	Documents int       `json:"documents"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats summarizes store contents
type Stats struct {
	Embeddings  int       `json:"embeddings"`
	Reports     int       `json:"reports"`
	SizeBytes   int64     `json:"size_bytes"`
	LastUpdated time.Time `json:"last_updated"`
}

// NewStore creates a new store instance with SQLite database
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "bireport.db")
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:   db,
		path: dbPath,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

// initialize creates the necessary tables
func (s *Store) initialize() error {
	embeddingsTable := `
	CREATE TABLE IF NOT EXISTS embeddings (
		fingerprint TEXT NOT NULL,
		model TEXT NOT NULL,
		dims INTEGER NOT NULL,
		vector BLOB NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (fingerprint, model)
	);`

	reportsTable := `
	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		run_id TEXT,
		title TEXT,
		local_path TEXT,
		remote_url TEXT,
		topics INTEGER,
		documents INTEGER,
		created_at DATETIME
	);`

	tables := []string{embeddingsTable, reportsTable}
	for _, table := range tables {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *Store) Path() string { return s.path }

// GetEmbedding returns the stored vector for fingerprint and model.
// The second return value is false when nothing is stored.
func (s *Store) GetEmbedding(ctx context.Context, fingerprint, model string) ([]float64, bool, error) {
	var dims int
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT dims, vector FROM embeddings WHERE fingerprint = ? AND model = ?`,
		fingerprint, model,
	).Scan(&dims, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read embedding: %w", err)
	}

	vec, err := decodeVector(blob)
	if err != nil {
		return nil, false, err
	}
	if len(vec) != dims {
		return nil, false, fmt.Errorf("stored embedding has %d values, expected %d", len(vec), dims)
	}
	return vec, true, nil
}

// PutEmbedding stores or replaces the vector for fingerprint and model
func (s *Store) PutEmbedding(ctx context.Context, fingerprint, model string, vec []float64) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT OR REPLACE INTO embeddings (fingerprint, model, dims, vector, created_at)
	VALUES (?, ?, ?, ?, ?)`,
		fingerprint, model, len(vec), encodeVector(vec), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	return nil
}

// RecordReport stores metadata about a delivered report
func (s *Store) RecordReport(ctx context.Context, r ReportRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT OR REPLACE INTO reports (id, run_id, title, local_path, remote_url, topics, documents, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RunID, r.Title, r.LocalPath, r.RemoteURL, r.Topics, r.Documents, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record report: %w", err)
	}
	return nil
}

// ListReports returns the most recent reports first
func (s *Store) ListReports(ctx context.Context, limit int) ([]ReportRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, run_id, title, local_path, remote_url, topics, documents, created_at
	FROM reports ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var reports []ReportRecord
	for rows.Next() {
		var r ReportRecord
		if err := rows.Scan(&r.ID, &r.RunID, &r.Title, &r.LocalPath, &r.RemoteURL, &r.Topics, &r.Documents, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// GetStats returns statistics about the store
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	queries := map[string]*int{
		"SELECT COUNT(*) FROM embeddings": &stats.Embeddings,
		"SELECT COUNT(*) FROM reports":    &stats.Reports,
	}

	for query, target := range queries {
		if err := s.db.QueryRowContext(ctx, query).Scan(target); err != nil {
			return nil, fmt.Errorf("failed to get count: %w", err)
		}
	}

	if fileInfo, err := os.Stat(s.path); err == nil {
		stats.SizeBytes = fileInfo.Size()
		stats.LastUpdated = fileInfo.ModTime()
	}

	return stats, nil
}

// CountEmbeddings returns the number of stored embeddings
func (s *Store) CountEmbeddings(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count embeddings: %w", err)
	}
	return n, nil
}

// ClearEmbeddings removes every stored embedding
func (s *Store) ClearEmbeddings(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM embeddings"); err != nil {
		return fmt.Errorf("failed to clear embeddings table: %w", err)
	}

	// Vacuum to reclaim space
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}

	return nil
}

// CleanupOldEmbeddings removes embeddings older than maxAge
func (s *Store) CleanupOldEmbeddings(ctx context.Context, maxAge time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM embeddings WHERE created_at < ?", time.Now().UTC().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to clean old embeddings: %w", err)
	}
	return res.RowsAffected()
}

func encodeVector(vec []float64) []byte {
	buf := make([]byte, 8*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

func decodeVector(buf []byte) ([]float64, error) {
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("corrupt embedding blob of %d bytes", len(buf))
	}
	vec := make([]float64, len(buf)/8)
	for i := range vec {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vec, nil
}
