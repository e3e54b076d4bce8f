package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentID_Deterministic(t *testing.T) {
	a := DocumentID("/data/a.txt")
	b := DocumentID("/data/a.txt")
	c := DocumentID("/data/b.txt")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 36)
}

func TestNewDocument(t *testing.T) {
	doc := NewDocument("/data/a.txt", "hello")
	assert.Equal(t, DocumentID("/data/a.txt"), doc.ID)
	assert.Equal(t, "/data/a.txt", doc.Metadata["path"])
	require.NoError(t, doc.Validate())
}

func TestFailed_KeepsContent(t *testing.T) {
	doc := NewDocument("/data/a.txt", "hello")
	res := Failed(&doc, "model down")
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, doc.ID, res.DocumentID)
	assert.Equal(t, "model down", res.Reason)
	assert.Equal(t, "hello", res.Content)
}

func TestDocument_Validate(t *testing.T) {
	tests := []struct {
		name    string
		doc     Document
		wantErr error
	}{
		{"missing path", Document{Content: "x"}, ErrEmptyPath},
		{"missing content", Document{SourcePath: "/a"}, ErrEmptyContent},
		{"image only", Document{SourcePath: "/a.png", ImagePath: "/a.png"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.doc.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDocument_Sample(t *testing.T) {
	doc := NewDocument("/a", "héllo world")
	assert.Equal(t, "héllo", doc.Sample(5))
	assert.Equal(t, "héllo world", doc.Sample(100))
}

func TestProcessingPlan(t *testing.T) {
	var plan ProcessingPlan
	plan.AddFull("/a")
	plan.AddLimited("/b")
	plan.AddSkip("/c", "critical memory pressure")

	admitted := plan.Admitted()
	assert.Len(t, admitted, 2)
	assert.Equal(t, ActionFull, admitted["/a"])
	assert.Equal(t, ActionLimited, admitted["/b"])
	assert.Equal(t, 1, plan.Count(ActionSkip))

	for _, d := range plan.Decisions {
		assert.NoError(t, d.Validate())
	}
	assert.ErrorIs(t, ProcessingDecision{Path: "/x", Action: ActionSkip}.Validate(), ErrMissingReason)
	assert.ErrorIs(t, ProcessingDecision{Path: "/x", Action: "partial"}.Validate(), ErrInvalidAction)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeExtract, m)

	m, err = ParseMode("knowledge")
	require.NoError(t, err)
	assert.Equal(t, ModeKnowledge, m)

	_, err = ParseMode("graph")
	assert.ErrorIs(t, err, ErrUnknownVariant)
}
