package audit

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type NodeType string

const (
	NodeConcept   NodeType = "concept"
	NodeD1Element NodeType = "d1_element"
	NodeD2Element NodeType = "d2_element"
)

type SourceDataset string

const (
	SourceD1   SourceDataset = "d1"
	SourceD2   SourceDataset = "d2"
	SourceBoth SourceDataset = "both"
	SourceNone SourceDataset = "none"
)

// ConceptNode is a node of the assembled knowledge graph. Concept nodes carry
// the union of source element ids that contributed to them; element nodes
// mirror input elements for visualization. Nodes are never mutated after
// creation except for removal by orphan pruning.
type ConceptNode struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"session_id"`
	Label            string         `gorm:"column:label;not null" json:"label"`
	Description      string         `gorm:"column:description;type:text" json:"description,omitempty"`
	NodeType         NodeType       `gorm:"column:node_type;not null;index" json:"node_type"`
	SourceDataset    SourceDataset  `gorm:"column:source_dataset;not null" json:"source_dataset"`
	SourceElementIDs datatypes.JSON `gorm:"column:source_element_ids;type:jsonb" json:"source_element_ids,omitempty"`
	Color            string         `gorm:"column:color" json:"color,omitempty"`
	Size             float64        `gorm:"column:size;not null;default:1" json:"size"`
	Metadata         datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	CreatedAt        time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (ConceptNode) TableName() string { return "concept_node" }

// GraphEdge links an element node to a concept that subsumes it, or two
// concepts to each other. Endpoints must reference existing node ids at
// creation time; a dangling edge is a defect, never a stored state.
type GraphEdge struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"session_id"`
	SourceNodeID uuid.UUID      `gorm:"type:uuid;not null;index" json:"source_node_id"`
	TargetNodeID uuid.UUID      `gorm:"type:uuid;not null;index" json:"target_node_id"`
	EdgeType     string         `gorm:"column:edge_type;not null" json:"edge_type"`
	Label        string         `gorm:"column:label" json:"label,omitempty"`
	Weight       float64        `gorm:"column:weight;not null;default:1" json:"weight"`
	Metadata     datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (GraphEdge) TableName() string { return "graph_edge" }
