package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docpipe/internal/chunker"
	"github.com/dshills/docpipe/pkg/types"
)

// fakeModel answers by prompt kind and counts calls
type fakeModel struct {
	mu            sync.Mutex
	concepts      string
	principles    string
	controversies string
	err           error
	calls         int
}

func (m *fakeModel) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	switch {
	case strings.HasPrefix(prompt, "Extract the key concepts"):
		return m.concepts, nil
	case strings.Contains(prompt, "first principles"):
		return m.principles, nil
	default:
		return m.controversies, nil
	}
}

func TestExtractor_ConceptsConsensus(t *testing.T) {
	primary := &fakeModel{concepts: `[{"name":"Entropy","description":"disorder","confidence":0.8},{"name":"Heat","confidence":0.9}]`}
	validation := &fakeModel{concepts: `Here: [{"name":"entropy","description":"x","confidence":1.0},{"name":"","confidence":1}]`}
	ex := NewExtractor(primary, validation, &fakeModel{}, zerolog.Nop())

	concepts, err := ex.Concepts(context.Background(), "text")
	require.NoError(t, err)
	require.Len(t, concepts, 2)
	assert.Equal(t, "Entropy", concepts[0].Name)
	assert.InDelta(t, 0.9, concepts[0].Confidence, 1e-9)
	assert.Equal(t, "Heat", concepts[1].Name)
}

func TestExtractor_UnparseableYieldsNothing(t *testing.T) {
	primary := &fakeModel{concepts: "I don't know"}
	ex := NewExtractor(primary, nil, &fakeModel{}, zerolog.Nop())

	concepts, err := ex.Concepts(context.Background(), "text")
	require.NoError(t, err)
	assert.Empty(t, concepts)
}

func TestExtractor_PrinciplesAndControversies(t *testing.T) {
	reasoning := &fakeModel{
		principles:    `[{"name":"Conservation","rationale":"Energy and entropy are linked"},{"name":""}]`,
		controversies: `[{"topic":"Heat death","viewpoints":["inevitable","unclear"],"confidence":0.4},{"topic":"No views","viewpoints":[]}]`,
	}
	ex := NewExtractor(&fakeModel{}, nil, reasoning, zerolog.Nop())
	concepts := []Concept{{Name: "Entropy", Confidence: 0.8}}

	principles, err := ex.Principles(context.Background(), concepts, "text")
	require.NoError(t, err)
	require.Len(t, principles, 1)
	assert.Equal(t, DefaultConfidence, principles[0].Confidence)

	controversies, err := ex.Controversies(context.Background(), concepts, "text")
	require.NoError(t, err)
	require.Len(t, controversies, 1)
	assert.Equal(t, "Heat death", controversies[0].Topic)

	none, err := ex.Principles(context.Background(), nil, "text")
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.Equal(t, 2, reasoning.calls)
}

func TestGraph_MergeIsOrderIndependent(t *testing.T) {
	a := []Concept{{Name: "Entropy", Confidence: 0.6, Description: "from a"}}
	b := []Concept{{Name: "Entropy", Confidence: 0.9, Description: "from b"}}
	p := []Principle{{Name: "Second law", Rationale: "entropy never decreases"}}

	g1 := NewGraph()
	g1.AddConcepts(a, "doc-a")
	g1.AddConcepts(b, "doc-b")
	g1.AddPrinciples(p, "doc-a")
	g1.MapDependencies(a, p)

	g2 := NewGraph()
	g2.AddPrinciples(p, "doc-a")
	g2.MapDependencies(a, p)
	g2.AddConcepts(b, "doc-b")
	g2.AddConcepts(a, "doc-a")

	j1, err := json.Marshal(g1)
	require.NoError(t, err)
	j2, err := json.Marshal(g2)
	require.NoError(t, err)
	assert.JSONEq(t, string(j1), string(j2))

	n, ok := g1.Node("Entropy")
	require.True(t, ok)
	assert.Equal(t, "from b", n.Description)
	assert.Equal(t, 1, g1.EdgeCount())
}

func TestGraph_RoundTrip(t *testing.T) {
	g := NewGraph()
	g.AddConcepts([]Concept{{Name: "Entropy", Confidence: 0.7}}, "d1")
	g.AddControversies([]Controversy{{Topic: "Heat death", Viewpoints: []string{"a", "b"}}}, "d1")
	g.AddPrinciples([]Principle{{Name: "Second law", Rationale: "about entropy"}}, "d1")
	g.MapDependencies([]Concept{{Name: "Entropy"}}, []Principle{{Name: "Second law", Rationale: "about entropy"}})

	data, err := json.Marshal(g)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"directed":true`)
	assert.Contains(t, string(data), `"rel":"explains"`)

	restored := NewGraph()
	require.NoError(t, json.Unmarshal(data, restored))
	assert.Equal(t, 3, restored.NodeCount())
	assert.Equal(t, 1, restored.EdgeCount())

	assert.Error(t, restored.UnmarshalJSON([]byte("not json")))
}

func TestQuality(t *testing.T) {
	q := Quality([]Concept{{Name: "a", Confidence: 0.5}, {Name: "b", Confidence: 0.8}, {Name: "c", Confidence: 0.9}})
	assert.Equal(t, 0.733, q.AvgConceptConfidence)
	assert.Len(t, q.LowConfidenceConcepts, 1)

	assert.Equal(t, QualityReport{}, Quality(nil))
}

func TestPipeline_Process(t *testing.T) {
	primary := &fakeModel{concepts: `[{"name":"Entropy","confidence":0.8}]`}
	reasoning := &fakeModel{
		principles:    `[{"name":"Second law","rationale":"Entropy grows","confidence":0.7}]`,
		controversies: `[]`,
	}
	p := NewPipeline(NewExtractor(primary, nil, reasoning, zerolog.Nop()), chunker.New(100, 10, 5), zerolog.Nop())

	doc := types.NewDocument("/in/thermo.txt", strings.Repeat("Entropy is a measure of disorder. ", 10))
	res := p.Process(context.Background(), &doc, types.ActionFull)
	require.Equal(t, types.StatusSuccess, res.Status)
	assert.Equal(t, 1, res.Counters[CounterConcepts])
	assert.Equal(t, 1, res.Counters[CounterPrinciples])
	assert.Equal(t, 0, res.Counters[CounterControversies])
	require.NotNil(t, res.Quality)
	assert.InDelta(t, 0.8, *res.Quality, 1e-9)
	assert.Equal(t, doc.Content, res.Content)

	p.Absorb(res)
	assert.Equal(t, 2, p.Graph().NodeCount())
	assert.Equal(t, 1, p.Graph().EdgeCount())

	snap, err := p.Snapshot()
	require.NoError(t, err)

	other := NewPipeline(NewExtractor(primary, nil, reasoning, zerolog.Nop()), chunker.New(100, 10, 5), zerolog.Nop())
	require.NoError(t, other.Restore(snap))
	assert.Equal(t, 2, other.Graph().NodeCount())
}

func TestPipeline_LimitedSkipsReasoning(t *testing.T) {
	primary := &fakeModel{concepts: `[{"name":"Entropy","confidence":0.8}]`}
	reasoning := &fakeModel{principles: `[]`, controversies: `[]`}
	p := NewPipeline(NewExtractor(primary, nil, reasoning, zerolog.Nop()), chunker.New(0, -1, -1), zerolog.Nop())

	doc := types.NewDocument("/in/a.txt", "Entropy.")
	res := p.Process(context.Background(), &doc, types.ActionLimited)
	assert.Equal(t, types.StatusSuccess, res.Status)
	assert.Equal(t, 0, reasoning.calls)
}

func TestPipeline_NoConceptsIsSkipped(t *testing.T) {
	primary := &fakeModel{concepts: `[]`}
	p := NewPipeline(NewExtractor(primary, nil, &fakeModel{}, zerolog.Nop()), chunker.New(0, -1, -1), zerolog.Nop())

	doc := types.NewDocument("/in/a.txt", "nothing here")
	res := p.Process(context.Background(), &doc, types.ActionFull)
	assert.Equal(t, types.StatusSkipped, res.Status)
	assert.Equal(t, ReasonNoConcepts, res.Reason)

	p.Absorb(res)
	assert.Equal(t, 0, p.Graph().NodeCount())
}

func TestPipeline_ModelErrorFailsDocument(t *testing.T) {
	primary := &fakeModel{err: errors.New("down")}
	p := NewPipeline(NewExtractor(primary, nil, &fakeModel{}, zerolog.Nop()), chunker.New(0, -1, -1), zerolog.Nop())

	doc := types.NewDocument("/in/a.txt", "text")
	res := p.Process(context.Background(), &doc, types.ActionFull)
	assert.Equal(t, types.StatusError, res.Status)
	assert.Contains(t, res.Reason, "concept extraction failed")
	assert.Equal(t, "text", res.Content)
}
