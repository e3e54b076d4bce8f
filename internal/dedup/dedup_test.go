package dedup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docpipe/internal/breaker"
	"github.com/dshills/docpipe/internal/embedder"
	"github.com/dshills/docpipe/internal/storage"
	"github.com/dshills/docpipe/internal/vectorstore"
	"github.com/dshills/docpipe/pkg/types"
)

// mockEmbedder maps content to fixed vectors and counts batch calls
type mockEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	batches [][]string
	err     error
}

func (m *mockEmbedder) GenerateEmbedding(ctx context.Context, text string) (*embedder.Embedding, error) {
	embs, err := m.GenerateBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embs[0], nil
}

func (m *mockEmbedder) GenerateBatch(_ context.Context, texts []string) ([]*embedder.Embedding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, texts)
	if m.err != nil {
		return nil, m.err
	}
	out := make([]*embedder.Embedding, len(texts))
	for i, text := range texts {
		vec, ok := m.vectors[text]
		if !ok {
			vec = []float32{0, 0, 1}
		}
		out[i] = &embedder.Embedding{Vector: vec, Dimension: len(vec)}
	}
	return out, nil
}

func (m *mockEmbedder) Dimension() int   { return 3 }
func (m *mockEmbedder) Provider() string { return "mock" }
func (m *mockEmbedder) Model() string    { return "mock" }
func (m *mockEmbedder) Close() error     { return nil }

// recordingStore remembers upserted records
type recordingStore struct {
	mu      sync.Mutex
	records []vectorstore.Record
	err     error
}

func (s *recordingStore) Upsert(_ context.Context, records []vectorstore.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, records...)
	return nil
}

func (s *recordingStore) Count(context.Context) (int, error) { return len(s.records), nil }
func (s *recordingStore) Close() error                       { return nil }

func doc(path, content string) *types.Document {
	d := types.NewDocument(path, content)
	return &d
}

func TestDedupe_IdenticalContentKeepsOne(t *testing.T) {
	emb := embedder.NewLocalProvider(nil)
	store := &recordingStore{}
	d := New(emb, store, Options{Logger: zerolog.Nop()})

	docs := []*types.Document{
		doc("/a.txt", "Invoice 42 from Acme for widgets"),
		doc("/b.txt", "Invoice 42 from Acme for widgets"),
	}
	res, err := d.Dedupe(context.Background(), docs)
	require.NoError(t, err)
	require.Len(t, res.Unique, 1)
	assert.Equal(t, "/a.txt", res.Unique[0].SourcePath)
	assert.Equal(t, 1, res.ExactDuplicates)
	assert.Len(t, store.records, 1)
}

func TestDedupe_NearDuplicatesAndOrder(t *testing.T) {
	m := &mockEmbedder{vectors: map[string][]float32{
		"a": {1, 0, 0},
		"b": {0, 1, 0},
		"c": {0.95, 0.1, 0}, // close to a
		"d": {0.6, 0.8, 0},  // between a and b, below threshold for both
	}}
	d := New(m, nil, Options{Threshold: 0.85})

	res, err := d.Dedupe(context.Background(), []*types.Document{
		doc("/a", "a"), doc("/b", "b"), doc("/c", "c"), doc("/d", "d"),
	})
	require.NoError(t, err)

	paths := make([]string, len(res.Unique))
	for i, u := range res.Unique {
		paths[i] = u.SourcePath
	}
	assert.Equal(t, []string{"/a", "/b", "/d"}, paths)
	assert.Equal(t, 1, res.NearDuplicates)
	assert.Equal(t, 0, res.ExactDuplicates)
}

func TestDedupe_Batches(t *testing.T) {
	m := &mockEmbedder{vectors: map[string][]float32{}}
	docs := make([]*types.Document, 0, 10)
	for i := 0; i < 10; i++ {
		text := string(rune('a' + i))
		vec := make([]float32, 10)
		vec[i] = 1
		m.vectors[text] = vec
		docs = append(docs, doc("/"+text, text))
	}

	d := New(m, nil, Options{BatchSize: 4})
	res, err := d.Dedupe(context.Background(), docs)
	require.NoError(t, err)
	assert.Len(t, res.Unique, 10)
	require.Len(t, m.batches, 3)
	assert.Len(t, m.batches[0], 4)
	assert.Len(t, m.batches[2], 2)
}

func TestDedupe_EmptyContentPassesThrough(t *testing.T) {
	m := &mockEmbedder{vectors: map[string][]float32{"x": {1, 0, 0}}}
	d := New(m, nil, Options{})

	img := doc("/scan.png", "")
	img.ImagePath = "/scan.png"
	res, err := d.Dedupe(context.Background(), []*types.Document{img, doc("/x", "x")})
	require.NoError(t, err)
	assert.Len(t, res.Unique, 2)
	assert.Equal(t, 1, res.Unembedded)
	assert.Equal(t, []string{"x"}, m.batches[0])
}

func TestDedupe_EmbeddingFailure(t *testing.T) {
	m := &mockEmbedder{err: errors.New("model offline")}
	d := New(m, nil, Options{})
	_, err := d.Dedupe(context.Background(), []*types.Document{doc("/a", "a")})
	assert.Error(t, err)
}

func TestDedupe_BreakerOpensOnRepeatedFailures(t *testing.T) {
	m := &mockEmbedder{err: errors.New("model offline")}
	b := breaker.New("embedding", breaker.Options{Threshold: 2, Cooldown: time.Hour})
	d := New(m, nil, Options{Breaker: b})

	for i := 0; i < 2; i++ {
		_, err := d.Dedupe(context.Background(), []*types.Document{doc("/a", "a")})
		assert.Error(t, err)
	}
	_, err := d.Dedupe(context.Background(), []*types.Document{doc("/a", "a")})
	assert.ErrorIs(t, err, breaker.ErrServiceUnavailable)
	assert.Len(t, m.batches, 2)
}

func TestDedupe_PersistFailureIsNotFatal(t *testing.T) {
	m := &mockEmbedder{vectors: map[string][]float32{"a": {1, 0, 0}}}
	d := New(m, &recordingStore{err: errors.New("disk full")}, Options{})
	res, err := d.Dedupe(context.Background(), []*types.Document{doc("/a", "a")})
	require.NoError(t, err)
	assert.Len(t, res.Unique, 1)
}

func TestDedupe_PersistsToSQLite(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()

	m := &mockEmbedder{vectors: map[string][]float32{"a": {3, 4, 0}}}
	d := New(m, vectorstore.NewSQLiteStore(db), Options{})
	a := doc("/a", "a")
	_, err = d.Dedupe(context.Background(), []*types.Document{a})
	require.NoError(t, err)

	stored, err := db.GetEmbedding(context.Background(), a.ID)
	require.NoError(t, err)
	vec := storage.DeserializeVector(stored.Vector)
	assert.InDelta(t, 0.6, vec[0], 1e-6, "stored vectors are normalized")
	assert.Equal(t, Fingerprint(vec), stored.FingerprintHash)
	assert.Equal(t, "a", stored.Content)
}

func TestDedupe_Empty(t *testing.T) {
	d := New(&mockEmbedder{}, nil, Options{})
	res, err := d.Dedupe(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Unique)
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]float32{0.12341, 0.5, -0.0001})
	b := Fingerprint([]float32{0.12339, 0.5, 0.0001})
	c := Fingerprint([]float32{0.125, 0.5, 0})
	assert.Equal(t, a, b, "equal at three decimals")
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
