package knowledge

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Node types
const (
	NodeConcept     = "concept"
	NodePrinciple   = "principle"
	NodeControversy = "controversy"
)

// RelExplains links a principle to a concept its rationale mentions
const RelExplains = "explains"

// Node is a graph vertex, identified by its name
type Node struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Confidence  float64  `json:"confidence"`
	Description string   `json:"description,omitempty"`
	Rationale   string   `json:"rationale,omitempty"`
	Viewpoints  []string `json:"viewpoints,omitempty"`
	DocID       string   `json:"doc_id"`
}

// Edge is a directed, labelled link
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Rel    string `json:"rel"`
}

// nodeLink is the node-link JSON layout
type nodeLink struct {
	Directed   bool           `json:"directed"`
	Multigraph bool           `json:"multigraph"`
	Graph      map[string]any `json:"graph"`
	Nodes      []Node         `json:"nodes"`
	Links      []Edge         `json:"links"`
}

// Graph is a directed knowledge graph. When two documents produce a node with
// the same name, the higher-confidence node wins, then the smaller document
// id, so the merged graph does not depend on the order documents finish in.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]Node
	edges map[Edge]struct{}
}

// NewGraph creates an empty graph
func NewGraph() *Graph {
	return &Graph{nodes: make(map[string]Node), edges: make(map[Edge]struct{})}
}

// AddConcepts adds concept nodes for docID
func (g *Graph) AddConcepts(concepts []Concept, docID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range concepts {
		g.put(Node{ID: c.Name, Type: NodeConcept, Confidence: c.Confidence, Description: c.Description, DocID: docID})
	}
}

// AddPrinciples adds principle nodes for docID
func (g *Graph) AddPrinciples(principles []Principle, docID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range principles {
		g.put(Node{ID: p.Name, Type: NodePrinciple, Confidence: p.Confidence, Rationale: p.Rationale, DocID: docID})
	}
}

// AddControversies adds controversy nodes for docID
func (g *Graph) AddControversies(controversies []Controversy, docID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range controversies {
		g.put(Node{ID: c.Topic, Type: NodeControversy, Confidence: c.Confidence, Viewpoints: c.Viewpoints, DocID: docID})
	}
}

// MapDependencies links each principle to every concept named in its rationale
func (g *Graph) MapDependencies(concepts []Concept, principles []Principle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range concepts {
		name := strings.ToLower(c.Name)
		for _, p := range principles {
			if strings.Contains(strings.ToLower(p.Rationale), name) {
				g.edges[Edge{Source: p.Name, Target: c.Name, Rel: RelExplains}] = struct{}{}
			}
		}
	}
}

func (g *Graph) put(n Node) {
	if n.ID == "" {
		return
	}
	if old, ok := g.nodes[n.ID]; ok {
		if old.Confidence > n.Confidence || (old.Confidence == n.Confidence && old.DocID <= n.DocID) {
			return
		}
	}
	g.nodes[n.ID] = n
}

// NodeCount returns the number of nodes
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of edges
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// Node returns the node with the given id
func (g *Graph) Node(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// MarshalJSON writes node-link JSON with nodes and links sorted
func (g *Graph) MarshalJSON() ([]byte, error) {
	g.mu.RLock()
	doc := nodeLink{
		Directed: true,
		Graph:    map[string]any{},
		Nodes:    make([]Node, 0, len(g.nodes)),
		Links:    make([]Edge, 0, len(g.edges)),
	}
	for _, n := range g.nodes {
		doc.Nodes = append(doc.Nodes, n)
	}
	for e := range g.edges {
		doc.Links = append(doc.Links, e)
	}
	g.mu.RUnlock()

	sort.Slice(doc.Nodes, func(i, j int) bool { return doc.Nodes[i].ID < doc.Nodes[j].ID })
	sort.Slice(doc.Links, func(i, j int) bool {
		a, b := doc.Links[i], doc.Links[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		return a.Rel < b.Rel
	})
	return json.Marshal(doc)
}

// UnmarshalJSON replaces the graph with node-link JSON
func (g *Graph) UnmarshalJSON(data []byte) error {
	var doc nodeLink
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid graph snapshot: %w", err)
	}

	nodes := make(map[string]Node, len(doc.Nodes))
	for _, n := range doc.Nodes {
		nodes[n.ID] = n
	}
	edges := make(map[Edge]struct{}, len(doc.Links))
	for _, e := range doc.Links {
		edges[e] = struct{}{}
	}

	g.mu.Lock()
	g.nodes = nodes
	g.edges = edges
	g.mu.Unlock()
	return nil
}
