package extractor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/docpipe/internal/llm"
	"github.com/dshills/docpipe/pkg/types"
)

// Category is a document type
type Category string

const (
	CategoryInvoice Category = "invoice"
	CategoryResume  Category = "resume"
	CategoryOther   Category = "other"
)

// ClassifierSampleChars is how much leading text the classifier sees
const ClassifierSampleChars = 2000

const documentClassificationPrompt = `Classify the following document into exactly one category: invoice, resume, or other.
Respond with a single word.

Document:
---
%s
---
Category:`

// DocumentClassifier sorts documents into categories with a small model and
// remembers each answer by document id
type DocumentClassifier struct {
	model llm.Generator
	cache *lru.Cache[string, Category]
}

// NewDocumentClassifier creates a classifier with an LRU of cacheSize entries
func NewDocumentClassifier(model llm.Generator, cacheSize int) (*DocumentClassifier, error) {
	if cacheSize < 1 {
		cacheSize = 1024
	}
	cache, err := lru.New[string, Category](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier cache: %w", err)
	}
	return &DocumentClassifier{model: model, cache: cache}, nil
}

// Classify returns the category of doc. Image documents carry no text, so
// they are judged by file name and never reach the model.
func (c *DocumentClassifier) Classify(ctx context.Context, doc *types.Document) (Category, error) {
	if cat, ok := c.cache.Get(doc.ID); ok {
		return cat, nil
	}

	var cat Category
	if doc.ImagePath != "" && doc.Content == "" {
		cat = categoryFromName(doc.ImagePath)
	} else {
		answer, err := c.model.Generate(ctx, fmt.Sprintf(documentClassificationPrompt, doc.Sample(ClassifierSampleChars)))
		if err != nil {
			return CategoryOther, fmt.Errorf("failed to classify document: %w", err)
		}
		cat = ParseCategory(answer)
	}

	c.cache.Add(doc.ID, cat)
	return cat, nil
}

// ParseCategory maps a model answer to a Category, defaulting to other
func ParseCategory(answer string) Category {
	s := strings.Trim(strings.ToLower(strings.TrimSpace(answer)), ".\"'`")
	switch Category(s) {
	case CategoryInvoice, CategoryResume:
		return Category(s)
	}
	return CategoryOther
}

func categoryFromName(path string) Category {
	name := strings.ToLower(filepath.Base(path))
	if strings.Contains(name, "invoice") || strings.Contains(name, "receipt") {
		return CategoryInvoice
	}
	return CategoryOther
}
