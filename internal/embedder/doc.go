// Package embedder generates vector embeddings for document text.
//
// Three providers implement Embedder:
//
//   - ollama: a local Ollama server's /api/embeddings endpoint (default nomic-embed-text)
//   - openai: any OpenAI-compatible endpoint through the eino embedding component
//   - local: deterministic feature-hashed vectors, no network
//
// Every provider shares an optional LRU Cache keyed by the SHA-256 of the
// text, and retries transient failures with exponential backoff.
//
// # Basic Usage
//
//	emb, err := embedder.New(ctx, embedder.Config{Provider: "ollama", CacheSize: 1000})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	vectors, err := emb.GenerateBatch(ctx, []string{docA, docB})
//
// Callers comparing vectors by cosine similarity should pass them through
// NormalizeVector first.
package embedder
