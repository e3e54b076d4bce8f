package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// searchVector ranks accepted embeddings by cosine similarity to queryVector
func searchVector(ctx context.Context, q querier, queryVector []float32, limit int, minScore float64) ([]VectorResult, error) {
	if len(queryVector) == 0 {
		return []VectorResult{}, nil
	}
	// Use SQL-side distance when sqlite-vec is available
	if VectorExtensionAvailable {
		return searchVectorOptimized(ctx, q, queryVector, limit, minScore)
	}
	return searchVectorFallback(ctx, q, queryVector, limit, minScore)
}

// searchVectorOptimized uses the sqlite-vec extension to compute distances in SQL
func searchVectorOptimized(ctx context.Context, q querier, queryVector []float32, limit int, minScore float64) ([]VectorResult, error) {
	if limit <= 0 {
		return []VectorResult{}, nil
	}
	blob := serializeVector(queryVector)

	// vec_distance_cosine returns a distance; convert to similarity
	query := `
		SELECT document_id, 1.0 - vec_distance_cosine(vector, ?) AS similarity
		FROM embeddings
		WHERE dimension = ?
		  AND (1.0 - vec_distance_cosine(vector, ?)) >= ?
		ORDER BY similarity DESC
		LIMIT ?
	`
	rows, err := q.QueryContext(ctx, query, blob, len(queryVector), blob, minScore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]VectorResult, 0, limit)
	for rows.Next() {
		var r VectorResult
		if err := rows.Scan(&r.DocumentID, &r.SimilarityScore); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// searchVectorFallback loads vectors and scores them in Go for purego builds
func searchVectorFallback(ctx context.Context, q querier, queryVector []float32, limit int, minScore float64) ([]VectorResult, error) {
	rows, err := q.QueryContext(ctx, `SELECT document_id, vector FROM embeddings WHERE dimension = ?`, len(queryVector))
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates := make([]VectorResult, 0)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		vector := deserializeVector(blob)
		if len(vector) != len(queryVector) {
			continue
		}
		score := cosineSimilarity(queryVector, vector)
		if score < minScore {
			continue
		}
		candidates = append(candidates, VectorResult{DocumentID: id, SimilarityScore: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].SimilarityScore > candidates[j].SimilarityScore
	})
	if limit > 0 && limit < len(candidates) {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SerializeVector encodes a vector in the on-disk blob format
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector decodes a vector blob
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineSimilarity returns the cosine similarity of a and b, or 0 when undefined
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
