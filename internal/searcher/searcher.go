package searcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/docpipe/internal/embedder"
	"github.com/dshills/docpipe/internal/storage"
)

// SearchMode defines how search is performed
type SearchMode string

const (
	SearchModeHybrid  SearchMode = "hybrid"  // Vector + keyword with RRF
	SearchModeVector  SearchMode = "vector"  // Vector similarity only
	SearchModeKeyword SearchMode = "keyword" // BM25 over stored content only
)

// ParseMode converts a string to a SearchMode, defaulting to hybrid
func ParseMode(s string) (SearchMode, error) {
	switch m := SearchMode(strings.ToLower(s)); m {
	case "":
		return SearchModeHybrid, nil
	case SearchModeHybrid, SearchModeVector, SearchModeKeyword:
		return m, nil
	}
	return "", fmt.Errorf("unsupported search mode: %s", s)
}

// BM25 parameters
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query       string
	Limit       int
	Mode        SearchMode
	MinScore    float64 // minimum cosine similarity for vector hits
	UseCache    bool
	CacheTTL    time.Duration
	RRFConstant float64 // k value for Reciprocal Rank Fusion (default 60)
}

// Result is one accepted document matching a query
type Result struct {
	DocumentID     string  `json:"doc_id"`
	Path           string  `json:"path"`
	Rank           int     `json:"rank"`
	RelevanceScore float64 `json:"relevance_score"`
	Snippet        string  `json:"snippet"`
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results       []Result      `json:"results"`
	TotalResults  int           `json:"total_results"`
	SearchMode    SearchMode    `json:"search_mode"`
	Duration      time.Duration `json:"duration_ns"`
	CacheHit      bool          `json:"cache_hit"`
	VectorResults int           `json:"vector_results"`
	TextResults   int           `json:"text_results"`
}

// SnippetChars bounds the content excerpt in a result
const SnippetChars = 240

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// Searcher runs queries over the accepted-embedding table
type Searcher struct {
	storage  storage.Storage
	embedder embedder.Embedder
	cache    *lru.Cache[[32]byte, *cacheEntry]
	cacheMu  sync.RWMutex
}

// NewSearcher creates a new Searcher instance
func NewSearcher(storage storage.Storage, embedder embedder.Embedder) *Searcher {
	cache, err := lru.New[[32]byte, *cacheEntry](1000)
	if err != nil {
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}

	return &Searcher{
		storage:  storage,
		embedder: embedder,
		cache:    cache,
	}
}

// Search performs a search based on the request parameters
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	if err := s.validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}
	if s.embedder == nil && req.Mode != SearchModeKeyword {
		return nil, fmt.Errorf("embedder not initialized")
	}

	if req.UseCache {
		if cached, ok := s.checkCache(req); ok {
			cached.CacheHit = true
			cached.Duration = time.Since(startTime)
			return cached, nil
		}
	}

	var response *SearchResponse
	var err error

	switch req.Mode {
	case SearchModeHybrid:
		response, err = s.hybridSearch(ctx, req)
	case SearchModeVector:
		response, err = s.vectorSearch(ctx, req)
	case SearchModeKeyword:
		response, err = s.keywordSearch(ctx, req)
	default:
		return nil, fmt.Errorf("unsupported search mode: %s", req.Mode)
	}
	if err != nil {
		return nil, err
	}

	response.Duration = time.Since(startTime)
	response.SearchMode = req.Mode

	if req.UseCache && len(response.Results) > 0 {
		s.storeInCache(req, response)
	}
	return response, nil
}

// searchResult holds results from concurrent search operations
type searchResult struct {
	ranked []rankedResult
	err    error
}

// rankedResult represents a document with its relevance score and rank
type rankedResult struct {
	documentID string
	score      float64
	rank       int
}

func (s *Searcher) runVectorSearch(ctx context.Context, req SearchRequest, limit int, resultChan chan<- searchResult) {
	var res searchResult
	res.ranked, res.err = s.vectorRanks(ctx, req, limit)
	select {
	case resultChan <- res:
	case <-ctx.Done():
	}
}

func (s *Searcher) runTextSearch(ctx context.Context, req SearchRequest, limit int, resultChan chan<- searchResult) {
	var res searchResult
	res.ranked, res.err = s.keywordRanks(ctx, req.Query, limit)
	select {
	case resultChan <- res:
	case <-ctx.Done():
	}
}

// hybridSearch combines vector and keyword search using Reciprocal Rank Fusion
func (s *Searcher) hybridSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	vectorChan := make(chan searchResult, 1)
	textChan := make(chan searchResult, 1)

	go s.runVectorSearch(ctx, req, req.Limit*2, vectorChan)
	go s.runTextSearch(ctx, req, req.Limit*2, textChan)

	var vectorRes, textRes searchResult
	var vectorDone, textDone bool
	for !vectorDone || !textDone {
		select {
		case vectorRes = <-vectorChan:
			vectorDone = true
		case textRes = <-textChan:
			textDone = true
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// one side may fail
	if vectorRes.err != nil && textRes.err != nil {
		return nil, fmt.Errorf("both searches failed: vector=%w, text=%v", vectorRes.err, textRes.err)
	}

	rrf := applyRRF(vectorRes.ranked, textRes.ranked, req.RRFConstant)
	results := s.fetchResults(ctx, rrf, req.Limit)

	return &SearchResponse{
		Results:       results,
		TotalResults:  len(results),
		VectorResults: len(vectorRes.ranked),
		TextResults:   len(textRes.ranked),
	}, nil
}

// vectorSearch performs only vector similarity search
func (s *Searcher) vectorSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	ranked, err := s.vectorRanks(ctx, req, req.Limit)
	if err != nil {
		return nil, err
	}
	results := s.fetchResults(ctx, ranked, req.Limit)
	return &SearchResponse{
		Results:       results,
		TotalResults:  len(results),
		VectorResults: len(ranked),
	}, nil
}

// keywordSearch performs only BM25 text search
func (s *Searcher) keywordSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	ranked, err := s.keywordRanks(ctx, req.Query, req.Limit)
	if err != nil {
		return nil, err
	}
	results := s.fetchResults(ctx, ranked, req.Limit)
	return &SearchResponse{
		Results:      results,
		TotalResults: len(results),
		TextResults:  len(ranked),
	}, nil
}

func (s *Searcher) vectorRanks(ctx context.Context, req SearchRequest, limit int) ([]rankedResult, error) {
	embedding, err := s.embedder.GenerateEmbedding(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}
	hits, err := s.storage.SearchVector(ctx, embedding.Vector, limit, req.MinScore)
	if err != nil {
		return nil, err
	}
	ranked := make([]rankedResult, len(hits))
	for i, h := range hits {
		ranked[i] = rankedResult{documentID: h.DocumentID, score: h.SimilarityScore, rank: i + 1}
	}
	return ranked, nil
}

// keywordRanks scores every stored document against the query with BM25
func (s *Searcher) keywordRanks(ctx context.Context, query string, limit int) ([]rankedResult, error) {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}
	docs, err := s.storage.ListEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	type docTerms struct {
		id     string
		counts map[string]int
		length int
	}
	corpus := make([]docTerms, len(docs))
	docFreq := make(map[string]int)
	totalLen := 0
	for i, d := range docs {
		tokens := tokenize(d.Content)
		counts := make(map[string]int)
		for _, t := range tokens {
			counts[t]++
		}
		for t := range counts {
			docFreq[t]++
		}
		corpus[i] = docTerms{id: d.DocumentID, counts: counts, length: len(tokens)}
		totalLen += len(tokens)
	}
	avgLen := float64(totalLen) / float64(len(docs))
	n := float64(len(docs))

	var ranked []rankedResult
	for _, d := range corpus {
		score := 0.0
		for _, t := range terms {
			tf := float64(d.counts[t])
			if tf == 0 {
				continue
			}
			df := float64(docFreq[t])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			norm := 1 - bm25B
			if avgLen > 0 {
				norm += bm25B * float64(d.length) / avgLen
			}
			score += idf * tf * (bm25K1 + 1) / (tf + bm25K1*norm)
		}
		if score > 0 {
			ranked = append(ranked, rankedResult{documentID: d.id, score: score})
		}
	}

	sortRankedResults(ranked)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	for i := range ranked {
		ranked[i].rank = i + 1
	}
	return ranked, nil
}

// applyRRF applies Reciprocal Rank Fusion to combine vector and text results
// RRF formula: RRF(d) = Σ 1/(k + rank(d))
func applyRRF(vectorResults, textResults []rankedResult, k float64) []rankedResult {
	if k == 0 {
		k = 60
	}

	scores := make(map[string]float64)
	for rank, vr := range vectorResults {
		scores[vr.documentID] += 1.0 / (k + float64(rank+1))
	}
	for rank, tr := range textResults {
		scores[tr.documentID] += 1.0 / (k + float64(rank+1))
	}

	results := make([]rankedResult, 0, len(scores))
	for id, score := range scores {
		results = append(results, rankedResult{documentID: id, score: score})
	}
	sortRankedResults(results)
	for i := range results {
		results[i].rank = i + 1
	}
	return results
}

// fetchResults loads the stored document for each ranked id
func (s *Searcher) fetchResults(ctx context.Context, ranked []rankedResult, limit int) []Result {
	if limit > len(ranked) {
		limit = len(ranked)
	}

	results := make([]Result, 0, limit)
	for i := 0; i < limit; i++ {
		rr := ranked[i]
		emb, err := s.storage.GetEmbedding(ctx, rr.documentID)
		if err != nil {
			continue // Skip documents that can't be loaded
		}
		results = append(results, Result{
			DocumentID:     rr.documentID,
			Path:           emb.Metadata["path"],
			Rank:           rr.rank,
			RelevanceScore: rr.score,
			Snippet:        snippet(emb.Content, SnippetChars),
		})
	}
	return results
}

// validateRequest ensures search request is valid
func (s *Searcher) validateRequest(req *SearchRequest) error {
	if strings.TrimSpace(req.Query) == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}
	if req.Limit > 100 {
		req.Limit = 100
	}
	if req.Mode == "" {
		req.Mode = SearchModeHybrid
	}
	if req.RRFConstant == 0 {
		req.RRFConstant = 60
	}
	if req.CacheTTL == 0 {
		req.CacheTTL = time.Hour
	}
	return nil
}

// checkCache looks up cached search results
func (s *Searcher) checkCache(req SearchRequest) (*SearchResponse, bool) {
	hash := computeQueryHash(req)
	now := time.Now()

	s.cacheMu.RLock()
	entry, found := s.cache.Get(hash)
	if !found {
		s.cacheMu.RUnlock()
		return nil, false
	}

	// Check expiry under the read lock
	if now.After(entry.expiresAt) {
		s.cacheMu.RUnlock()

		s.cacheMu.Lock()
		s.cache.Remove(hash)
		s.cacheMu.Unlock()
		return nil, false
	}

	response := copySearchResponse(entry.response)
	s.cacheMu.RUnlock()
	return response, true
}

// storeInCache saves search results to cache
func (s *Searcher) storeInCache(req SearchRequest, response *SearchResponse) {
	entry := &cacheEntry{
		response:  copySearchResponse(response),
		expiresAt: time.Now().Add(req.CacheTTL),
	}

	s.cacheMu.Lock()
	s.cache.Add(computeQueryHash(req), entry)
	s.cacheMu.Unlock()
}

// copySearchResponse creates a deep copy of a SearchResponse
func copySearchResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Results = append([]Result(nil), src.Results...)
	return &dst
}

// computeQueryHash computes a unique hash for a search request
func computeQueryHash(req SearchRequest) [32]byte {
	var data strings.Builder
	data.WriteString(req.Query)
	data.WriteString("|")
	data.WriteString(string(req.Mode))
	fmt.Fprintf(&data, "|%d|%.3f", req.Limit, req.MinScore)
	return sha256.Sum256([]byte(data.String()))
}

// sortRankedResults sorts by score descending, then id for stable output
func sortRankedResults(results []rankedResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].documentID < results[j].documentID
	})
}

// InvalidateCache drops every cached query. Called after a run changes the
// accepted set.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// CacheLen returns the number of cached queries
func (s *Searcher) CacheLen() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache.Len()
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func snippet(content string, n int) string {
	content = strings.Join(strings.Fields(content), " ")
	runes := []rune(content)
	if len(runes) <= n {
		return content
	}
	return string(runes[:n]) + "…"
}
