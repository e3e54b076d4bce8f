// Package dedup drops documents whose embeddings are identical or nearly
// identical to a document already accepted in the same run.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dshills/docpipe/internal/breaker"
	"github.com/dshills/docpipe/internal/embedder"
	"github.com/dshills/docpipe/internal/metrics"
	"github.com/dshills/docpipe/internal/storage"
	"github.com/dshills/docpipe/internal/vectorstore"
	"github.com/dshills/docpipe/pkg/types"
)

// Defaults
const (
	DefaultThreshold = 0.85
	DefaultBatchSize = 8
	// FingerprintPrecision is the number of decimals vectors are rounded to
	// before hashing
	FingerprintPrecision = 3
)

// Options configures a Deduplicator
type Options struct {
	Threshold float64
	BatchSize int
	// Breaker guards embedding calls when set
	Breaker *breaker.Breaker
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Result is the outcome of one Dedupe call
type Result struct {
	Unique          []*types.Document
	ExactDuplicates int
	NearDuplicates  int
	// Unembedded counts documents without text, which pass through uncompared
	Unembedded int
}

// Deduplicator compares documents within a run. Accepted embeddings are also
// written to the vector store so later runs could compare against history,
// but comparisons only use the current run's accepted set.
type Deduplicator struct {
	embedder  embedder.Embedder
	store     vectorstore.Store
	threshold float64
	batchSize int
	breaker   *breaker.Breaker
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// New creates a Deduplicator. store may be nil to skip persistence.
func New(emb embedder.Embedder, store vectorstore.Store, opts Options) *Deduplicator {
	if opts.Threshold <= 0 || opts.Threshold > 1 {
		opts.Threshold = DefaultThreshold
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Deduplicator{
		embedder:  emb,
		store:     store,
		threshold: opts.Threshold,
		batchSize: opts.BatchSize,
		breaker:   opts.Breaker,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
}

type accepted struct {
	doc    *types.Document
	vector []float32
	hash   string
}

// Dedupe returns the first-seen representative of each group of duplicate
// documents, preserving input order. An embedding failure aborts the call.
func (d *Deduplicator) Dedupe(ctx context.Context, docs []*types.Document) (*Result, error) {
	result := &Result{Unique: make([]*types.Document, 0, len(docs))}
	if len(docs) == 0 {
		return result, nil
	}

	seen := make(map[string]struct{})
	var kept []accepted

	for start := 0; start < len(docs); start += d.batchSize {
		batch := docs[start:min(start+d.batchSize, len(docs))]

		texts := make([]string, 0, len(batch))
		embeddable := make([]*types.Document, 0, len(batch))
		for _, doc := range batch {
			if doc.Content == "" {
				continue
			}
			texts = append(texts, doc.Content)
			embeddable = append(embeddable, doc)
		}

		vectors, err := d.embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch at %d: %w", start, err)
		}

		vi := 0
		for _, doc := range batch {
			if doc.Content == "" {
				result.Unique = append(result.Unique, doc)
				result.Unembedded++
				continue
			}
			vec := vectors[vi]
			vi++

			hash := Fingerprint(vec)
			if _, dup := seen[hash]; dup {
				result.ExactDuplicates++
				d.metrics.RecordDuplicate("exact")
				d.logger.Debug().Str("path", doc.SourcePath).Msg("exact duplicate dropped")
				continue
			}

			if best, match := d.nearest(vec, kept); match >= d.threshold {
				result.NearDuplicates++
				d.metrics.RecordDuplicate("near")
				d.logger.Debug().
					Str("path", doc.SourcePath).
					Str("duplicate_of", best).
					Float64("similarity", match).
					Msg("near duplicate dropped")
				continue
			}

			seen[hash] = struct{}{}
			kept = append(kept, accepted{doc: doc, vector: vec, hash: hash})
			result.Unique = append(result.Unique, doc)
		}
	}

	d.persist(ctx, kept)
	return result, nil
}

func (d *Deduplicator) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	call := func() ([]*embedder.Embedding, error) {
		return d.embedder.GenerateBatch(ctx, texts)
	}
	var embs []*embedder.Embedding
	var err error
	if d.breaker != nil {
		embs, err = breaker.Do(d.breaker, call)
	} else {
		embs, err = call()
	}
	if err != nil {
		return nil, err
	}
	if len(embs) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(embs), len(texts))
	}

	out := make([][]float32, len(embs))
	for i, e := range embs {
		out[i] = embedder.NormalizeVector(e.Vector)
	}
	return out, nil
}

// nearest returns the id and similarity of the closest accepted vector
func (d *Deduplicator) nearest(vec []float32, kept []accepted) (string, float64) {
	bestID, best := "", math.Inf(-1)
	for _, k := range kept {
		if sim := storage.CosineSimilarity(vec, k.vector); sim > best {
			best, bestID = sim, k.doc.ID
		}
	}
	return bestID, best
}

// persist writes accepted records to the vector store. Failures are logged;
// the in-run result stands on its own.
func (d *Deduplicator) persist(ctx context.Context, kept []accepted) {
	if d.store == nil || len(kept) == 0 {
		return
	}
	records := make([]vectorstore.Record, len(kept))
	for i, k := range kept {
		records[i] = vectorstore.Record{
			ID:          k.doc.ID,
			Vector:      k.vector,
			Fingerprint: k.hash,
			Metadata:    k.doc.Metadata,
			Content:     k.doc.Content,
		}
	}
	if err := d.store.Upsert(ctx, records); err != nil {
		d.logger.Warn().Err(err).Int("records", len(records)).Msg("failed to persist accepted embeddings")
	}
}

// Fingerprint hashes a vector rounded to FingerprintPrecision decimals, so
// vectors equal at that precision share a fingerprint
func Fingerprint(vec []float32) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		r := math.Round(float64(v)*1000) / 1000
		if r == 0 {
			r = 0 // fold -0
		}
		parts[i] = strconv.FormatFloat(r, 'f', FingerprintPrecision, 64)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, ",")))
	return hex.EncodeToString(sum[:])
}
