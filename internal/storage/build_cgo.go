//go:build sqlite_vec
// +build sqlite_vec

package storage

// Compiled with CGO and the sqlite_vec tag:
//
//	CGO_ENABLED=1 go build -tags "sqlite_vec" ./...
//
// Uses github.com/mattn/go-sqlite3. Similarity search over accepted
// embeddings goes through the sqlite-vec extension when it is loaded.

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// VectorExtensionAvailable indicates if vector extension is available
	VectorExtensionAvailable = true

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)

// dsn adds the driver's busy timeout parameter so the fingerprint writer
// waits out a concurrent status reader instead of failing with SQLITE_BUSY
func dsn(path string) string {
	if path == ":memory:" {
		return path
	}
	return path + "?_busy_timeout=5000"
}
