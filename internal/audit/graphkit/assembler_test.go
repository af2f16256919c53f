package graphkit

import (
	"testing"

	"github.com/google/uuid"

	"github.com/auditlens/auditlens-backend/internal/domain/audit"
	pkgerrors "github.com/auditlens/auditlens-backend/internal/pkg/errors"
)

func conceptNode(label string, source audit.SourceDataset, elementIDs ...string) *audit.ConceptNode {
	return &audit.ConceptNode{
		ID:               uuid.New(),
		Label:            label,
		NodeType:         audit.NodeConcept,
		SourceDataset:    source,
		SourceElementIDs: EncodeElementIDs(elementIDs),
	}
}

func elementNode(label string) *audit.ConceptNode {
	return &audit.ConceptNode{
		ID:            uuid.New(),
		Label:         label,
		NodeType:      audit.NodeD1Element,
		SourceDataset: audit.SourceD1,
	}
}

func edge(from, to uuid.UUID) *audit.GraphEdge {
	return &audit.GraphEdge{
		ID:           uuid.New(),
		SourceNodeID: from,
		TargetNodeID: to,
		EdgeType:     "subsumes",
		Weight:       1,
	}
}

func TestAddNodesMergesConceptsByLabel(t *testing.T) {
	g := New()
	a := conceptNode("Data Retention", audit.SourceD1, "r1")
	b := conceptNode("data  retention", audit.SourceD2, "a1", "r1")
	g.AddNodes([]*audit.ConceptNode{a, b})

	if g.NodeCount() != 1 {
		t.Fatalf("NodeCount=%d, want 1 (concepts with equal normalized labels must merge)", g.NodeCount())
	}
	id, ok := g.ConceptByLabel("DATA RETENTION")
	if !ok || id != a.ID {
		t.Fatalf("ConceptByLabel=%v ok=%v, want first node id %v", id, ok, a.ID)
	}
	merged, _ := g.Node(a.ID)
	ids := DecodeElementIDs(merged.SourceElementIDs)
	if len(ids) != 2 {
		t.Fatalf("merged SourceElementIDs=%v, want union of 2 distinct ids", ids)
	}
	if merged.SourceDataset != audit.SourceBoth {
		t.Fatalf("merged SourceDataset=%s, want %s", merged.SourceDataset, audit.SourceBoth)
	}
}

func TestAddNodesKeepsDistinctConcepts(t *testing.T) {
	g := New()
	g.AddNodes([]*audit.ConceptNode{
		conceptNode("encryption", audit.SourceD1),
		conceptNode("audit logging", audit.SourceD2),
	})
	if g.NodeCount() != 2 {
		t.Fatalf("NodeCount=%d, want 2", g.NodeCount())
	}
}

func TestAddEdgesRejectsDanglingBatch(t *testing.T) {
	g := New()
	n := elementNode("e1")
	g.AddNodes([]*audit.ConceptNode{n})

	good := edge(n.ID, n.ID)
	bad := edge(n.ID, uuid.New())
	err := g.AddEdges([]*audit.GraphEdge{good, bad})
	if err == nil {
		t.Fatalf("AddEdges accepted an edge to an unknown node")
	}
	if pkgerrors.KindOf(err) != pkgerrors.KindDanglingReference {
		t.Fatalf("KindOf=%q, want %q", pkgerrors.KindOf(err), pkgerrors.KindDanglingReference)
	}
	if g.EdgeCount() != 0 {
		t.Fatalf("EdgeCount=%d after rejected batch, want 0 (no partial insert)", g.EdgeCount())
	}
}

func TestPruneOrphansIsIdempotent(t *testing.T) {
	g := New()
	kept1 := elementNode("kept-source")
	kept2 := elementNode("kept-target")
	orphan := elementNode("orphan")
	g.AddNodes([]*audit.ConceptNode{kept1, kept2, orphan})
	if err := g.AddEdges([]*audit.GraphEdge{edge(kept1.ID, kept2.ID)}); err != nil {
		t.Fatalf("AddEdges: %v", err)
	}

	if removed := g.PruneOrphans(); removed != 1 {
		t.Fatalf("first PruneOrphans removed %d, want 1", removed)
	}
	if _, ok := g.Node(orphan.ID); ok {
		t.Fatalf("orphan node still present after prune")
	}
	if removed := g.PruneOrphans(); removed != 0 {
		t.Fatalf("second PruneOrphans removed %d, want 0", removed)
	}
	if g.NodeCount() != 2 {
		t.Fatalf("NodeCount=%d after prune, want 2", g.NodeCount())
	}
}

func TestRemoveNodesDropsIncidentEdges(t *testing.T) {
	g := New()
	a := elementNode("a")
	b := elementNode("b")
	c := elementNode("c")
	g.AddNodes([]*audit.ConceptNode{a, b, c})
	if err := g.AddEdges([]*audit.GraphEdge{edge(a.ID, b.ID), edge(b.ID, c.ID)}); err != nil {
		t.Fatalf("AddEdges: %v", err)
	}

	g.RemoveNodes([]uuid.UUID{b.ID})
	if g.NodeCount() != 2 {
		t.Fatalf("NodeCount=%d, want 2", g.NodeCount())
	}
	if g.EdgeCount() != 0 {
		t.Fatalf("EdgeCount=%d, want 0 (both edges touched the removed node)", g.EdgeCount())
	}
}

func TestNodesPreserveInsertionOrder(t *testing.T) {
	g := New()
	first := elementNode("first")
	second := elementNode("second")
	third := elementNode("third")
	g.AddNodes([]*audit.ConceptNode{first, second, third})

	got := g.Nodes()
	if len(got) != 3 {
		t.Fatalf("len(Nodes)=%d, want 3", len(got))
	}
	for i, want := range []uuid.UUID{first.ID, second.ID, third.ID} {
		if got[i].ID != want {
			t.Fatalf("Nodes[%d].ID=%v, want %v", i, got[i].ID, want)
		}
	}
}
