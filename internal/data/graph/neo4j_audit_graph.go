package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/auditlens/auditlens-backend/internal/domain/audit"
	"github.com/auditlens/auditlens-backend/internal/platform/logger"
	"github.com/auditlens/auditlens-backend/internal/platform/neo4jdb"
)

// UpsertAuditGraph mirrors a session's persisted nodes and edges into neo4j
// for graph queries. Best-effort: a nil client disables the sync.
func UpsertAuditGraph(ctx context.Context, client *neo4jdb.Client, log *logger.Logger, sessionID uuid.UUID, nodes []*audit.ConceptNode, edges []*audit.GraphEdge) error {
	if client == nil || client.Driver == nil {
		return nil
	}
	if sessionID == uuid.Nil {
		return fmt.Errorf("neo4j audit graph sync: missing sessionID")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	nodeRecs := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		if n == nil || n.ID == uuid.Nil {
			continue
		}
		nodeRecs = append(nodeRecs, map[string]any{
			"id":             n.ID.String(),
			"session_id":     sessionID.String(),
			"label":          n.Label,
			"description":    n.Description,
			"node_type":      string(n.NodeType),
			"source_dataset": string(n.SourceDataset),
			"source_element_ids_json": func() string {
				if len(n.SourceElementIDs) == 0 {
					return ""
				}
				return string(n.SourceElementIDs)
			}(),
			"color":     n.Color,
			"size":      n.Size,
			"synced_at": now,
		})
	}

	edgeRecs := make([]map[string]any, 0, len(edges))
	for _, e := range edges {
		if e == nil || e.ID == uuid.Nil || e.SourceNodeID == uuid.Nil || e.TargetNodeID == uuid.Nil {
			continue
		}
		edgeRecs = append(edgeRecs, map[string]any{
			"id":         e.ID.String(),
			"from_id":    e.SourceNodeID.String(),
			"to_id":      e.TargetNodeID.String(),
			"edge_type":  e.EdgeType,
			"weight":     e.Weight,
			"session_id": sessionID.String(),
			"synced_at":  now,
		})
	}

	session := client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: client.Database,
	})
	defer session.Close(ctx)

	// Schema helpers (best-effort; may fail for restricted users).
	if res, err := session.Run(ctx, `CREATE CONSTRAINT audit_node_id_unique IF NOT EXISTS FOR (n:AuditNode) REQUIRE n.id IS UNIQUE`, nil); err != nil {
		if log != nil {
			log.Warn("neo4j schema init failed (continuing)", "error", err)
		}
	} else {
		_, _ = res.Consume(ctx)
	}
	if res, err := session.Run(ctx, `CREATE INDEX audit_node_session_idx IF NOT EXISTS FOR (n:AuditNode) ON (n.session_id)`, nil); err != nil {
		if log != nil {
			log.Warn("neo4j schema init failed (continuing)", "error", err)
		}
	} else {
		_, _ = res.Consume(ctx)
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		// Replace the session's mirror wholesale so retries converge.
		res, err := tx.Run(ctx, `
MATCH (n:AuditNode {session_id: $session_id})
DETACH DELETE n
`, map[string]any{"session_id": sessionID.String()})
		if err != nil {
			return nil, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}

		if len(nodeRecs) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $nodes AS n
MERGE (m:AuditNode {id: n.id})
SET m += n
`, map[string]any{"nodes": nodeRecs})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}

		if len(edgeRecs) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $rels AS r
MATCH (a:AuditNode {id: r.from_id})
MATCH (b:AuditNode {id: r.to_id})
MERGE (a)-[e:SUBSUMES]->(b)
SET e.id = r.id,
    e.edge_type = r.edge_type,
    e.weight = r.weight,
    e.session_id = r.session_id,
    e.synced_at = r.synced_at
`, map[string]any{"rels": edgeRecs})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}

		return nil, nil
	})
	return err
}
