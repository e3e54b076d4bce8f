// Package reader turns input files into text. Readers are registered per
// extension and every result is truncated to the registry's character limit.
// Image files read as empty text; the orchestrator hands their path to the
// vision model instead.
package reader

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

// DefaultMaxChars bounds the text returned for one file
const DefaultMaxChars = 200_000

// ErrUnsupported is returned for an extension with no reader
var ErrUnsupported = errors.New("unsupported file type")

// Reader extracts text from one file
type Reader interface {
	Read(path string) (string, error)
}

// Func adapts a function to Reader
type Func func(path string) (string, error)

// Read implements Reader
func (f Func) Read(path string) (string, error) {
	return f(path)
}

var imageExtensions = map[string]struct{}{".png": {}, ".jpg": {}, ".jpeg": {}}

// IsImage reports whether path has an image extension
func IsImage(path string) bool {
	_, ok := imageExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Registry dispatches by lower-cased extension
type Registry struct {
	readers  map[string]Reader
	maxChars int
}

// NewRegistry creates a registry with the built-in readers
func NewRegistry(maxChars int) *Registry {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	r := &Registry{readers: make(map[string]Reader), maxChars: maxChars}

	text := Func(ReadText)
	r.Register(".txt", text)
	r.Register(".md", text)
	r.Register(".csv", Func(ReadCSV))
	r.Register(".html", Func(ReadHTML))
	r.Register(".htm", Func(ReadHTML))
	r.Register(".pdf", Func(ReadPDF))
	r.Register(".docx", Func(ReadDocx))
	for ext := range imageExtensions {
		r.Register(ext, Func(readImage))
	}
	return r
}

// Register sets the reader for ext, replacing any existing one
func (r *Registry) Register(ext string, reader Reader) {
	r.readers[strings.ToLower(ext)] = reader
}

// Extensions lists the registered extensions, sorted
func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.readers))
	for ext := range r.readers {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// ReadAny reads path with the reader for its extension
func (r *Registry) ReadAny(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	reader, ok := r.readers[ext]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, ext)
	}
	text, err := reader.Read(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	return Truncate(text, r.maxChars), nil
}

// Truncate cuts s to at most n characters
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func readImage(string) (string, error) {
	return "", nil
}
