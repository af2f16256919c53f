package graphkit

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/auditlens/auditlens-backend/internal/domain/audit"
	pkgerrors "github.com/auditlens/auditlens-backend/internal/pkg/errors"
)

// Graph is the in-memory knowledge graph assembled during a pipeline run.
// It is owned exclusively by one run until the explicit save hands the
// collections to the durable store. Not safe for concurrent use.
type Graph struct {
	nodes map[uuid.UUID]*audit.ConceptNode
	edges map[uuid.UUID]*audit.GraphEdge

	// concept label (normalized) -> node id, for cross-batch deduplication
	conceptsByLabel map[string]uuid.UUID

	order []uuid.UUID // node insertion order, for deterministic output
}

func New() *Graph {
	return &Graph{
		nodes:           make(map[uuid.UUID]*audit.ConceptNode),
		edges:           make(map[uuid.UUID]*audit.GraphEdge),
		conceptsByLabel: make(map[string]uuid.UUID),
	}
}

func normalizeLabel(label string) string {
	return strings.Join(strings.Fields(strings.ToLower(label)), " ")
}

// AddNodes adds or replaces nodes keyed by id. Adding a concept node whose
// normalized label already exists merges into the existing node instead:
// source element references are unioned, never duplicated as two nodes.
func (g *Graph) AddNodes(nodes []*audit.ConceptNode) {
	for _, n := range nodes {
		if n == nil || n.ID == uuid.Nil {
			continue
		}
		if n.NodeType == audit.NodeConcept {
			key := normalizeLabel(n.Label)
			if existingID, ok := g.conceptsByLabel[key]; ok && existingID != n.ID {
				g.mergeConcept(g.nodes[existingID], n)
				continue
			}
			g.conceptsByLabel[key] = n.ID
		}
		if _, exists := g.nodes[n.ID]; !exists {
			g.order = append(g.order, n.ID)
		}
		g.nodes[n.ID] = n
	}
}

func (g *Graph) mergeConcept(dst, src *audit.ConceptNode) {
	if dst == nil || src == nil {
		return
	}
	union := unionIDs(decodeIDs(dst.SourceElementIDs), decodeIDs(src.SourceElementIDs))
	dst.SourceElementIDs = encodeIDs(union)
	if dst.Description == "" {
		dst.Description = src.Description
	}
	switch {
	case dst.SourceDataset == src.SourceDataset:
	case dst.SourceDataset == audit.SourceNone:
		dst.SourceDataset = src.SourceDataset
	case src.SourceDataset == audit.SourceNone:
	default:
		dst.SourceDataset = audit.SourceBoth
	}
}

// AddEdges rejects edges referencing unknown node ids with a
// DanglingReference error; on rejection no edge of the batch is added.
func (g *Graph) AddEdges(edges []*audit.GraphEdge) error {
	for _, e := range edges {
		if e == nil || e.ID == uuid.Nil {
			continue
		}
		if _, ok := g.nodes[e.SourceNodeID]; !ok {
			return pkgerrors.E(pkgerrors.KindDanglingReference, "edge source node not found: "+e.SourceNodeID.String(), nil)
		}
		if _, ok := g.nodes[e.TargetNodeID]; !ok {
			return pkgerrors.E(pkgerrors.KindDanglingReference, "edge target node not found: "+e.TargetNodeID.String(), nil)
		}
	}
	for _, e := range edges {
		if e == nil || e.ID == uuid.Nil {
			continue
		}
		g.edges[e.ID] = e
	}
	return nil
}

// RemoveNodes drops the given nodes and every edge incident to them.
func (g *Graph) RemoveNodes(ids []uuid.UUID) {
	drop := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	for id := range drop {
		n, ok := g.nodes[id]
		if !ok {
			continue
		}
		if n.NodeType == audit.NodeConcept {
			delete(g.conceptsByLabel, normalizeLabel(n.Label))
		}
		delete(g.nodes, id)
	}
	for eid, e := range g.edges {
		if drop[e.SourceNodeID] || drop[e.TargetNodeID] {
			delete(g.edges, eid)
		}
	}
}

// PruneOrphans removes nodes with zero incident edges and returns how many
// were removed. Idempotent: a second call with no intervening mutation
// returns 0.
func (g *Graph) PruneOrphans() int {
	incident := make(map[uuid.UUID]int, len(g.nodes))
	for _, e := range g.edges {
		incident[e.SourceNodeID]++
		incident[e.TargetNodeID]++
	}
	var orphans []uuid.UUID
	for id := range g.nodes {
		if incident[id] == 0 {
			orphans = append(orphans, id)
		}
	}
	g.RemoveNodes(orphans)
	return len(orphans)
}

// ConceptByLabel returns the node id a concept label resolves to, if any.
func (g *Graph) ConceptByLabel(label string) (uuid.UUID, bool) {
	id, ok := g.conceptsByLabel[normalizeLabel(label)]
	return id, ok
}

func (g *Graph) Node(id uuid.UUID) (*audit.ConceptNode, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []*audit.ConceptNode {
	out := make([]*audit.ConceptNode, 0, len(g.nodes))
	for _, id := range g.order {
		if n, ok := g.nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Edges returns all edges sorted by id for deterministic output.
func (g *Graph) Edges() []*audit.GraphEdge {
	out := make([]*audit.GraphEdge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (g *Graph) NodeCount() int { return len(g.nodes) }
func (g *Graph) EdgeCount() int { return len(g.edges) }

func decodeIDs(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func encodeIDs(ids []string) datatypes.JSON {
	if ids == nil {
		ids = []string{}
	}
	b, _ := json.Marshal(ids)
	return datatypes.JSON(b)
}

func unionIDs(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// EncodeElementIDs exposes the JSON encoding used for source element id sets.
func EncodeElementIDs(ids []string) datatypes.JSON { return encodeIDs(ids) }

// DecodeElementIDs decodes a stored source element id set.
func DecodeElementIDs(raw datatypes.JSON) []string { return decodeIDs(raw) }
