package types

import (
	"github.com/google/uuid"
)

// Document is a readable input file prepared for the pipeline.
// It is built once per run and never mutated afterwards.
type Document struct {
	ID         string
	SourcePath string
	Content    string
	// ImagePath is set for image inputs so extraction can use the vision model.
	ImagePath string
	Metadata  map[string]string
}

// DocumentID derives the stable identifier for a source path.
// The same path always yields the same id across runs.
func DocumentID(sourcePath string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(sourcePath)).String()
}

// NewDocument builds a Document with its deterministic id and a path entry in Metadata.
func NewDocument(sourcePath, content string) Document {
	return Document{
		ID:         DocumentID(sourcePath),
		SourcePath: sourcePath,
		Content:    content,
		Metadata:   map[string]string{"path": sourcePath},
	}
}

// Validate checks that the document can enter the pipeline
func (d *Document) Validate() error {
	if d.SourcePath == "" {
		return ErrEmptyPath
	}
	if d.Content == "" && d.ImagePath == "" {
		return ErrEmptyContent
	}
	return nil
}

// Sample returns at most n leading characters of the content.
func (d *Document) Sample(n int) string {
	runes := []rune(d.Content)
	if len(runes) <= n {
		return d.Content
	}
	return string(runes[:n])
}
