// Package storage provides SQLite-based persistence for docpipe's durable state.
//
// The storage layer manages:
//   - Per-path fingerprints (modification time, size, content hash)
//   - Accepted document embeddings written by the deduplicator
//   - Run history (one row per completed pipeline run)
//
// # Database Schema
//
// Tables:
//   - files: one fingerprint per path, replaced on every record
//   - embeddings: accepted document vectors with fingerprint hash, metadata and content
//   - runs: final reports keyed by run id and input directory
//   - schema_version: applied migrations, compared with semantic versioning
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage(".docpipe/content_versions.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	err = db.UpsertFile(ctx, &storage.File{
//	    Path:        "/data/in/report.md",
//	    ModTime:     info.ModTime(),
//	    SizeBytes:   info.Size(),
//	    ContentHash: sha256.Sum256(content),
//	})
//
// Modification times are stored as fractional unix seconds so callers can
// compare them with a sub-microsecond tolerance.
//
// # Transactions
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	for _, emb := range accepted {
//	    if err := tx.UpsertEmbedding(ctx, emb); err != nil {
//	        return err
//	    }
//	}
//	return tx.Commit()
//
// # Vector Search
//
// SearchVector ranks accepted embeddings by cosine similarity. With the
// sqlite_vec build tag the distance is computed in SQL by the sqlite-vec
// extension; otherwise vectors are loaded and scored in Go.
//
// # Build Modes
//
//	CGO_ENABLED=1 go build -tags "sqlite_vec" ./...   # github.com/mattn/go-sqlite3
//	CGO_ENABLED=0 go build -tags "purego" ./...       # modernc.org/sqlite
package storage
