// Package searcher queries the documents the deduplicator accepted.
//
// Three search modes are available:
//   - Hybrid: vector similarity and BM25 keyword ranks merged with Reciprocal
//     Rank Fusion (the default)
//   - Vector: cosine similarity against the stored embeddings
//   - Keyword: BM25 over the stored document text; needs no embedding model
//
// # Basic Usage
//
//	s := searcher.NewSearcher(store, emb)
//
//	resp, err := s.Search(ctx, searcher.SearchRequest{
//	    Query: "unpaid invoices from acme",
//	    Limit: 5,
//	})
//	for _, r := range resp.Results {
//	    fmt.Printf("[%d] %s (%.3f)\n", r.Rank, r.Path, r.RelevanceScore)
//	}
//
// # Caching
//
// With UseCache set, responses are kept in an LRU keyed by query, mode,
// limit and minimum score until CacheTTL passes. InvalidateCache clears it
// after an ingest run changes the accepted set.
package searcher
