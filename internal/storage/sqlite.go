package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dsn(dbPath))
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) querier() querier {
	return t.tx
}

func (s *SQLiteStorage) querier() querier {
	return s.db
}

// File operations

// UnixSeconds converts t to fractional unix seconds, the unit mod_time is stored in
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func secondsToTime(sec float64) time.Time {
	whole := int64(sec)
	nanos := int64((sec - float64(whole)) * 1e9)
	return time.Unix(whole, nanos)
}

// upsertFileWithQuerier replaces the stored fingerprint for file.Path
func (s *SQLiteStorage) upsertFileWithQuerier(ctx context.Context, q querier, file *File) error {
	query := `
		INSERT INTO files (path, mod_time, size_bytes, content_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			mod_time = excluded.mod_time,
			size_bytes = excluded.size_bytes,
			content_hash = excluded.content_hash,
			updated_at = excluded.updated_at
		RETURNING id
	`
	now := time.Now()
	err := q.QueryRowContext(ctx, query,
		file.Path, UnixSeconds(file.ModTime), file.SizeBytes, file.ContentHash[:], now, now).Scan(&file.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert file: %w", err)
	}
	file.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) UpsertFile(ctx context.Context, file *File) error {
	return s.upsertFileWithQuerier(ctx, s.querier(), file)
}

// scanFile reads one files row
func scanFile(scan func(dest ...interface{}) error) (*File, error) {
	var file File
	var hash []byte
	var modTime float64
	if err := scan(&file.ID, &file.Path, &modTime, &file.SizeBytes, &hash, &file.CreatedAt, &file.UpdatedAt); err != nil {
		return nil, err
	}
	file.ModTime = secondsToTime(modTime)
	copy(file.ContentHash[:], hash)
	return &file, nil
}

const fileColumns = `id, path, mod_time, size_bytes, content_hash, created_at, updated_at`

func (s *SQLiteStorage) getFileWithQuerier(ctx context.Context, q querier, path string) (*File, error) {
	row := q.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE path = ?`, path)
	file, err := scanFile(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return file, nil
}

func (s *SQLiteStorage) GetFile(ctx context.Context, path string) (*File, error) {
	return s.getFileWithQuerier(ctx, s.querier(), path)
}

func (s *SQLiteStorage) listFilesWithQuerier(ctx context.Context, q querier) ([]*File, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+fileColumns+` FROM files ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	files := make([]*File, 0)
	for rows.Next() {
		file, err := scanFile(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

func (s *SQLiteStorage) ListFiles(ctx context.Context) ([]*File, error) {
	return s.listFilesWithQuerier(ctx, s.querier())
}

func countWithQuerier(ctx context.Context, q querier, table string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
	return n, err
}

func (s *SQLiteStorage) CountFiles(ctx context.Context) (int, error) {
	return countWithQuerier(ctx, s.querier(), "files")
}

func (s *SQLiteStorage) deleteFileWithQuerier(ctx context.Context, q querier, path string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path)
	return err
}

func (s *SQLiteStorage) DeleteFile(ctx context.Context, path string) error {
	return s.deleteFileWithQuerier(ctx, s.querier(), path)
}

// Embedding operations

func (s *SQLiteStorage) upsertEmbeddingWithQuerier(ctx context.Context, q querier, emb *Embedding) error {
	meta, err := json.Marshal(emb.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	query := `
		INSERT INTO embeddings (document_id, vector, dimension, fingerprint_hash, metadata, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			fingerprint_hash = excluded.fingerprint_hash,
			metadata = excluded.metadata,
			content = excluded.content
	`
	now := time.Now()
	_, err = q.ExecContext(ctx, query,
		emb.DocumentID, emb.Vector, emb.Dimension, emb.FingerprintHash, string(meta), emb.Content, now)
	if err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}
	emb.CreatedAt = now
	return nil
}

func (s *SQLiteStorage) UpsertEmbedding(ctx context.Context, emb *Embedding) error {
	return s.upsertEmbeddingWithQuerier(ctx, s.querier(), emb)
}

const embeddingColumns = `document_id, vector, dimension, fingerprint_hash, metadata, content, created_at`

func scanEmbedding(scan func(dest ...interface{}) error) (*Embedding, error) {
	var emb Embedding
	var meta sql.NullString
	if err := scan(&emb.DocumentID, &emb.Vector, &emb.Dimension, &emb.FingerprintHash, &meta, &emb.Content, &emb.CreatedAt); err != nil {
		return nil, err
	}
	if meta.Valid && meta.String != "" && meta.String != "null" {
		if err := json.Unmarshal([]byte(meta.String), &emb.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return &emb, nil
}

func (s *SQLiteStorage) getEmbeddingWithQuerier(ctx context.Context, q querier, documentID string) (*Embedding, error) {
	row := q.QueryRowContext(ctx, `SELECT `+embeddingColumns+` FROM embeddings WHERE document_id = ?`, documentID)
	emb, err := scanEmbedding(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return emb, nil
}

func (s *SQLiteStorage) GetEmbedding(ctx context.Context, documentID string) (*Embedding, error) {
	return s.getEmbeddingWithQuerier(ctx, s.querier(), documentID)
}

func (s *SQLiteStorage) listEmbeddingsWithQuerier(ctx context.Context, q querier) ([]*Embedding, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+embeddingColumns+` FROM embeddings ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]*Embedding, 0)
	for rows.Next() {
		emb, err := scanEmbedding(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		out = append(out, emb)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) ListEmbeddings(ctx context.Context) ([]*Embedding, error) {
	return s.listEmbeddingsWithQuerier(ctx, s.querier())
}

func (s *SQLiteStorage) CountEmbeddings(ctx context.Context) (int, error) {
	return countWithQuerier(ctx, s.querier(), "embeddings")
}

func (s *SQLiteStorage) SearchVector(ctx context.Context, vector []float32, limit int, minScore float64) ([]VectorResult, error) {
	return searchVector(ctx, s.querier(), vector, limit, minScore)
}

// Run operations

func (s *SQLiteStorage) insertRunWithQuerier(ctx context.Context, q querier, run *Run) error {
	query := `
		INSERT INTO runs (run_id, input_dir, mode, report_json, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := q.ExecContext(ctx, query,
		run.RunID, run.InputDir, run.Mode, run.ReportJSON, run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	run.ID = id
	return nil
}

func (s *SQLiteStorage) InsertRun(ctx context.Context, run *Run) error {
	return s.insertRunWithQuerier(ctx, s.querier(), run)
}

func (s *SQLiteStorage) latestRunWithQuerier(ctx context.Context, q querier, inputDir string) (*Run, error) {
	query := `
		SELECT id, run_id, input_dir, mode, report_json, started_at, finished_at
		FROM runs
		WHERE input_dir = ?
		ORDER BY id DESC
		LIMIT 1
	`
	var run Run
	err := q.QueryRowContext(ctx, query, inputDir).Scan(
		&run.ID, &run.RunID, &run.InputDir, &run.Mode, &run.ReportJSON, &run.StartedAt, &run.FinishedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *SQLiteStorage) LatestRun(ctx context.Context, inputDir string) (*Run, error) {
	return s.latestRunWithQuerier(ctx, s.querier(), inputDir)
}

// Transaction operations

func (t *sqliteTx) UpsertFile(ctx context.Context, file *File) error {
	return t.storage.upsertFileWithQuerier(ctx, t.querier(), file)
}

func (t *sqliteTx) GetFile(ctx context.Context, path string) (*File, error) {
	return t.storage.getFileWithQuerier(ctx, t.querier(), path)
}

func (t *sqliteTx) ListFiles(ctx context.Context) ([]*File, error) {
	return t.storage.listFilesWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) CountFiles(ctx context.Context) (int, error) {
	return countWithQuerier(ctx, t.querier(), "files")
}

func (t *sqliteTx) DeleteFile(ctx context.Context, path string) error {
	return t.storage.deleteFileWithQuerier(ctx, t.querier(), path)
}

func (t *sqliteTx) UpsertEmbedding(ctx context.Context, emb *Embedding) error {
	return t.storage.upsertEmbeddingWithQuerier(ctx, t.querier(), emb)
}

func (t *sqliteTx) GetEmbedding(ctx context.Context, documentID string) (*Embedding, error) {
	return t.storage.getEmbeddingWithQuerier(ctx, t.querier(), documentID)
}

func (t *sqliteTx) ListEmbeddings(ctx context.Context) ([]*Embedding, error) {
	return t.storage.listEmbeddingsWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) CountEmbeddings(ctx context.Context) (int, error) {
	return countWithQuerier(ctx, t.querier(), "embeddings")
}

func (t *sqliteTx) SearchVector(ctx context.Context, vector []float32, limit int, minScore float64) ([]VectorResult, error) {
	return searchVector(ctx, t.querier(), vector, limit, minScore)
}

func (t *sqliteTx) InsertRun(ctx context.Context, run *Run) error {
	return t.storage.insertRunWithQuerier(ctx, t.querier(), run)
}

func (t *sqliteTx) LatestRun(ctx context.Context, inputDir string) (*Run, error) {
	return t.storage.latestRunWithQuerier(ctx, t.querier(), inputDir)
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	return nil, errors.New("nested transactions not supported")
}
