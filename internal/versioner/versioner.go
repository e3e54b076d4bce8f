// Package versioner detects which input files changed since they were last recorded.
package versioner

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/rs/zerolog"

	"github.com/dshills/docpipe/internal/storage"
)

// ModTimeTolerance is the clock-precision slack, in seconds, allowed when
// comparing modification times.
const ModTimeTolerance = 1e-6

// ReadFunc returns the text content of a path. An empty string means no content.
type ReadFunc func(path string) (string, error)

// Versioner persists per-path fingerprints and classifies paths as changed or unchanged
type Versioner struct {
	store  storage.Storage
	logger zerolog.Logger
}

// New creates a Versioner backed by store
func New(store storage.Storage, logger zerolog.Logger) *Versioner {
	return &Versioner{store: store, logger: logger}
}

// Fingerprint is the (modTime, size, contentHash) triple used to detect changes
type Fingerprint struct {
	ModTime     float64
	SizeBytes   int64
	ContentHash [32]byte
}

// DetectChanges splits paths into changed and unchanged, preserving input order.
// A path with no stored record is changed. A path that cannot be stat'ed or read
// is reported as changed so later stages decide what to do with it.
func (v *Versioner) DetectChanges(ctx context.Context, paths []string, read ReadFunc) (changed, unchanged []string, err error) {
	changed = make([]string, 0, len(paths))
	unchanged = make([]string, 0)

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		current, err := computeFingerprint(path, read)
		if err != nil {
			v.logger.Debug().Str("path", path).Err(err).Msg("fingerprint unavailable, treating as changed")
			changed = append(changed, path)
			continue
		}

		stored, err := v.store.GetFile(ctx, path)
		if errors.Is(err, storage.ErrNotFound) {
			changed = append(changed, path)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load fingerprint for %s: %w", path, err)
		}

		if matches(stored, current) {
			unchanged = append(unchanged, path)
		} else {
			changed = append(changed, path)
		}
	}

	return changed, unchanged, nil
}

// RecordFile computes a fresh fingerprint of path over content and replaces the
// stored record. An empty content string is fingerprinted as-is.
func (v *Versioner) RecordFile(ctx context.Context, path, content string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	file := &storage.File{
		Path:        path,
		ModTime:     info.ModTime(),
		SizeBytes:   info.Size(),
		ContentHash: sha256.Sum256([]byte(content)),
	}
	if err := v.store.UpsertFile(ctx, file); err != nil {
		return fmt.Errorf("failed to record %s: %w", path, err)
	}
	return nil
}

// Lookup returns the stored fingerprint for path, or storage.ErrNotFound
func (v *Versioner) Lookup(ctx context.Context, path string) (Fingerprint, error) {
	file, err := v.store.GetFile(ctx, path)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{
		ModTime:     storage.UnixSeconds(file.ModTime),
		SizeBytes:   file.SizeBytes,
		ContentHash: file.ContentHash,
	}, nil
}

// computeFingerprint stats path and hashes the content produced by read
func computeFingerprint(path string, read ReadFunc) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, err
	}

	content, err := read(path)
	if err != nil {
		return Fingerprint{}, err
	}

	return Fingerprint{
		ModTime:     storage.UnixSeconds(info.ModTime()),
		SizeBytes:   info.Size(),
		ContentHash: sha256.Sum256([]byte(content)),
	}, nil
}

func matches(stored *storage.File, current Fingerprint) bool {
	if math.Abs(storage.UnixSeconds(stored.ModTime)-current.ModTime) > ModTimeTolerance {
		return false
	}
	if stored.SizeBytes != current.SizeBytes {
		return false
	}
	return stored.ContentHash == current.ContentHash
}
