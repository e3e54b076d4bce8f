package guardian

import (
	"context"
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/docpipe/pkg/types"
)

// UnknownDomain is assigned when a classifier answer matches no known domain
const UnknownDomain = "unknown"

// SampleChars is how much leading content a classifier sees
const SampleChars = 1500

// Domain buckets by expected extraction success
var (
	HighSuccessDomains   = []string{"technical", "computer_science", "mathematics", "physics", "engineering"}
	MediumSuccessDomains = []string{"biology", "chemistry", "economics", "history", "finance"}
	LowSuccessDomains    = []string{"philosophy", "literature", "art"}
)

// Classifier assigns a document to a domain
type Classifier interface {
	Classify(ctx context.Context, doc *types.Document) (string, error)
}

// Generator produces text from a prompt
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ModelClassifier asks a generation model for the domain, caching answers per document id
type ModelClassifier struct {
	model   Generator
	domains map[string]struct{}
	cache   *lru.Cache[string, string]
}

const classificationPrompt = `Classify the following text into exactly one of these domains: %s.
Respond with the domain name only.

Text:
%s`

// NewModelClassifier creates a classifier with an LRU cache of cacheSize entries
func NewModelClassifier(model Generator, cacheSize int) (*ModelClassifier, error) {
	if cacheSize < 1 {
		cacheSize = 1024
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier cache: %w", err)
	}

	domains := make(map[string]struct{})
	for _, set := range [][]string{HighSuccessDomains, MediumSuccessDomains, LowSuccessDomains} {
		for _, d := range set {
			domains[d] = struct{}{}
		}
	}

	return &ModelClassifier{model: model, domains: domains, cache: cache}, nil
}

// Classify implements Classifier. Model errors are returned uncached so a
// later call can retry.
func (c *ModelClassifier) Classify(ctx context.Context, doc *types.Document) (string, error) {
	if domain, ok := c.cache.Get(doc.ID); ok {
		return domain, nil
	}

	names := make([]string, 0, len(c.domains))
	for d := range c.domains {
		names = append(names, d)
	}
	sort.Strings(names)

	answer, err := c.model.Generate(ctx, fmt.Sprintf(classificationPrompt, strings.Join(names, ", "), doc.Sample(SampleChars)))
	if err != nil {
		return UnknownDomain, err
	}

	domain := NormalizeDomain(answer)
	if _, ok := c.domains[domain]; !ok {
		domain = UnknownDomain
	}
	c.cache.Add(doc.ID, domain)
	return domain, nil
}

// NormalizeDomain lower-cases an answer and joins words with underscores so
// "Computer Science" matches computer_science
func NormalizeDomain(answer string) string {
	s := strings.ToLower(strings.TrimSpace(answer))
	s = strings.Trim(s, ".\"'`")
	return strings.Join(strings.Fields(s), "_")
}
