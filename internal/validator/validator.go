// Package validator screens an input directory before ingestion. Files with
// an unsupported extension, no content, or more bytes than the ceiling are
// reported as issues and left out.
package validator

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultMaxBytes is the per-file size ceiling
const DefaultMaxBytes int64 = 50 * 1024 * 1024

// DefaultExtensions are the file types readers exist for
var DefaultExtensions = []string{".pdf", ".txt", ".md", ".csv", ".docx", ".html", ".htm", ".png", ".jpg", ".jpeg"}

// Issue explains why a file was rejected
type Issue struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Result lists accepted paths in walk order and every rejection
type Result struct {
	ValidPaths []string `json:"valid_paths"`
	Issues     []Issue  `json:"issues"`
}

// Options configures a Validator
type Options struct {
	MaxBytes   int64
	Extensions []string
	// Exclude holds doublestar patterns matched against slash-separated
	// paths relative to the input directory
	Exclude []string
}

// Validator walks input directories
type Validator struct {
	maxBytes   int64
	extensions map[string]struct{}
	exclude    []string
}

// New creates a Validator. Invalid exclude patterns are an error.
func New(opts Options) (*Validator, error) {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	for _, p := range opts.Exclude {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclude pattern %q", p)
		}
	}

	exts := make(map[string]struct{}, len(opts.Extensions))
	for _, e := range opts.Extensions {
		exts[strings.ToLower(e)] = struct{}{}
	}
	return &Validator{maxBytes: opts.MaxBytes, extensions: exts, exclude: opts.Exclude}, nil
}

// ValidateFolder walks dir. An unreadable dir is an error; unreadable files
// inside it are issues.
func (v *Validator) ValidateFolder(ctx context.Context, dir string) (*Result, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input path is not a directory: %s", dir)
	}

	result := &Result{}
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == dir {
				return err
			}
			result.Issues = append(result.Issues, Issue{Path: path, Reason: "unreadable"})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, _ := filepath.Rel(dir, path)
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if path != dir && v.excluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if v.excluded(rel) {
			return nil
		}

		if reason := v.check(path, d); reason != "" {
			result.Issues = append(result.Issues, Issue{Path: path, Reason: reason})
			return nil
		}
		result.ValidPaths = append(result.ValidPaths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk input directory: %w", err)
	}

	sort.Strings(result.ValidPaths)
	return result, nil
}

func (v *Validator) check(path string, d fs.DirEntry) string {
	info, err := d.Info()
	if err != nil {
		return "unreadable"
	}
	if !info.Mode().IsRegular() {
		return "unreadable"
	}

	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := v.extensions[ext]; !ok {
		return "unsupported extension: " + ext
	}
	if info.Size() <= 0 {
		return "empty file"
	}
	if info.Size() > v.maxBytes {
		return fmt.Sprintf("file too large: %d", info.Size())
	}

	f, err := os.Open(path)
	if err != nil {
		return "unreadable"
	}
	f.Close()
	return ""
}

func (v *Validator) excluded(rel string) bool {
	for _, p := range v.exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}
