// Package vectorstore persists accepted document embeddings.
package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/dshills/docpipe/internal/storage"
)

// Record is one accepted document embedding
type Record struct {
	ID          string
	Vector      []float32
	Fingerprint string
	Metadata    map[string]string
	Content     string
}

// Store is the long-lived home of accepted embeddings
type Store interface {
	Upsert(ctx context.Context, records []Record) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// SQLiteStore writes records to the embeddings table of a storage.Storage
type SQLiteStore struct {
	store storage.Storage
}

// NewSQLiteStore creates a Store over an open storage. Closing it leaves the
// storage open.
func NewSQLiteStore(store storage.Storage) *SQLiteStore {
	return &SQLiteStore{store: store}
}

// Upsert writes all records in one transaction
func (s *SQLiteStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	for _, r := range records {
		emb := &storage.Embedding{
			DocumentID:      r.ID,
			Vector:          storage.SerializeVector(r.Vector),
			Dimension:       len(r.Vector),
			FingerprintHash: r.Fingerprint,
			Metadata:        r.Metadata,
			Content:         r.Content,
			CreatedAt:       now,
		}
		if err := tx.UpsertEmbedding(ctx, emb); err != nil {
			return fmt.Errorf("failed to upsert embedding %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit embeddings: %w", err)
	}
	return nil
}

// Count returns the number of stored embeddings
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	return s.store.CountEmbeddings(ctx)
}

// Close implements Store
func (s *SQLiteStore) Close() error {
	return nil
}
