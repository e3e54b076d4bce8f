//go:build !sqlite_vec
// +build !sqlite_vec

package storage

// Default build, no CGO required. Uses modernc.org/sqlite; cosine similarity
// for accepted embeddings is computed in Go.

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// VectorExtensionAvailable indicates if vector extension is available
	VectorExtensionAvailable = false

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)

// dsn adds modernc's busy_timeout pragma
func dsn(path string) string {
	if path == ":memory:" {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)"
}
