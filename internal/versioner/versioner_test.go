package versioner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docpipe/internal/storage"
)

func setupVersioner(t *testing.T) *Versioner {
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, zerolog.Nop())
}

func writeFile(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func readFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	return string(b), err
}

func TestDetectChanges_NewFilesAreChanged(t *testing.T) {
	v := setupVersioner(t)
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "alpha")
	b := writeFile(t, dir, "b.txt", "beta")

	changed, unchanged, err := v.DetectChanges(context.Background(), []string{a, b}, readFile)
	require.NoError(t, err)
	assert.Equal(t, []string{a, b}, changed)
	assert.Empty(t, unchanged)
}

func TestDetectChanges_Idempotent(t *testing.T) {
	v := setupVersioner(t)
	ctx := context.Background()
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "alpha")

	require.NoError(t, v.RecordFile(ctx, a, "alpha"))

	for i := 0; i < 2; i++ {
		changed, unchanged, err := v.DetectChanges(ctx, []string{a}, readFile)
		require.NoError(t, err)
		assert.Empty(t, changed)
		assert.Equal(t, []string{a}, unchanged)
	}
}

func TestDetectChanges_ContentChange(t *testing.T) {
	v := setupVersioner(t)
	ctx := context.Background()
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "alpha")
	require.NoError(t, v.RecordFile(ctx, a, "alpha"))

	info, err := os.Stat(a)
	require.NoError(t, err)

	// Same size and mod time, different bytes
	require.NoError(t, os.WriteFile(a, []byte("alphb"), 0644))
	require.NoError(t, os.Chtimes(a, info.ModTime(), info.ModTime()))

	changed, _, err := v.DetectChanges(ctx, []string{a}, readFile)
	require.NoError(t, err)
	assert.Equal(t, []string{a}, changed)
}

func TestDetectChanges_ModTimeChange(t *testing.T) {
	v := setupVersioner(t)
	ctx := context.Background()
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "alpha")
	require.NoError(t, v.RecordFile(ctx, a, "alpha"))

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(a, later, later))

	changed, unchanged, err := v.DetectChanges(ctx, []string{a}, readFile)
	require.NoError(t, err)
	assert.Equal(t, []string{a}, changed)
	assert.Empty(t, unchanged)
}

func TestDetectChanges_ReadFailureIsChanged(t *testing.T) {
	v := setupVersioner(t)
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "alpha")

	failing := func(string) (string, error) { return "", errors.New("boom") }
	changed, unchanged, err := v.DetectChanges(context.Background(), []string{a, filepath.Join(dir, "missing")}, failing)
	require.NoError(t, err)
	assert.Len(t, changed, 2)
	assert.Empty(t, unchanged)
}

// RecordFile fingerprints whatever content it is handed, including the empty
// string produced by a failed read. The file is then reported unchanged while
// the reader keeps returning empty content, so a transient read failure
// suppresses reprocessing until the file itself changes.
func TestRecordFile_EmptyContentMarksFileSeen(t *testing.T) {
	v := setupVersioner(t)
	ctx := context.Background()
	dir := t.TempDir()
	a := writeFile(t, dir, "scan.pdf", "%PDF-binary")

	require.NoError(t, v.RecordFile(ctx, a, ""))

	emptyReader := func(string) (string, error) { return "", nil }
	changed, unchanged, err := v.DetectChanges(ctx, []string{a}, emptyReader)
	require.NoError(t, err)
	assert.Empty(t, changed)
	assert.Equal(t, []string{a}, unchanged)

	// Once the reader recovers, the content hash differs and the file is changed again
	changed, _, err = v.DetectChanges(ctx, []string{a}, readFile)
	require.NoError(t, err)
	assert.Equal(t, []string{a}, changed)
}

func TestRecordFile_MissingPath(t *testing.T) {
	v := setupVersioner(t)
	err := v.RecordFile(context.Background(), "/definitely/missing", "x")
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	v := setupVersioner(t)
	ctx := context.Background()
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "alpha")

	_, err := v.Lookup(ctx, a)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, v.RecordFile(ctx, a, "alpha"))
	fp, err := v.Lookup(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, int64(5), fp.SizeBytes)
}

func TestDetectChanges_ContextCanceled(t *testing.T) {
	v := setupVersioner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := v.DetectChanges(ctx, []string{"/a"}, readFile)
	assert.ErrorIs(t, err, context.Canceled)
}
