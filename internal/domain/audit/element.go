package audit

// ElementCategory tags the source record family an element was extracted from.
type ElementCategory string

const (
	CategoryRequirement  ElementCategory = "requirement"
	CategoryArtifact     ElementCategory = "artifact"
	CategoryStandard     ElementCategory = "standard"
	CategoryFile         ElementCategory = "file"
	CategoryDiagramNode  ElementCategory = "diagram_node"
	CategorySchemaObject ElementCategory = "schema_object"
)

// DatasetSide identifies which side of a comparison an element belongs to.
type DatasetSide string

const (
	SideD1 DatasetSide = "d1"
	SideD2 DatasetSide = "d2"
)

// DatasetElement is one normalized unit of input content. Immutable once
// extracted. IDs are unique within a side; the same id may appear on both
// sides and is never conflated across them.
type DatasetElement struct {
	ID       string          `json:"id"`
	Label    string          `json:"label"`
	Content  string          `json:"content"`
	Category ElementCategory `json:"category"`
}
