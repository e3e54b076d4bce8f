package storage

import (
	"context"
	"time"
)

// Storage defines the interface for persisting pipeline state
type Storage interface {
	// Fingerprint operations
	UpsertFile(ctx context.Context, file *File) error
	GetFile(ctx context.Context, path string) (*File, error)
	ListFiles(ctx context.Context) ([]*File, error)
	CountFiles(ctx context.Context) (int, error)
	DeleteFile(ctx context.Context, path string) error

	// Accepted embedding operations
	UpsertEmbedding(ctx context.Context, embedding *Embedding) error
	GetEmbedding(ctx context.Context, documentID string) (*Embedding, error)
	ListEmbeddings(ctx context.Context) ([]*Embedding, error)
	CountEmbeddings(ctx context.Context) (int, error)
	SearchVector(ctx context.Context, vector []float32, limit int, minScore float64) ([]VectorResult, error)

	// Run history
	InsertRun(ctx context.Context, run *Run) error
	LatestRun(ctx context.Context, inputDir string) (*Run, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage
}

// File is the fingerprint of one tracked input path
type File struct {
	ID          int64
	Path        string
	ModTime     time.Time
	SizeBytes   int64
	ContentHash [32]byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Embedding is an accepted document vector kept for later comparison and search
type Embedding struct {
	DocumentID      string
	Vector          []byte // Serialized float32 array
	Dimension       int
	FingerprintHash string
	Metadata        map[string]string
	Content         string
	CreatedAt       time.Time
}

// Run records the outcome of one pipeline run
type Run struct {
	ID         int64
	RunID      string
	InputDir   string
	Mode       string
	ReportJSON string
	StartedAt  time.Time
	FinishedAt time.Time
}

// VectorResult represents a result from vector similarity search
type VectorResult struct {
	DocumentID      string
	SimilarityScore float64
}
