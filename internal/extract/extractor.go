package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/auditlens/auditlens-backend/internal/domain/audit"
	pkgerrors "github.com/auditlens/auditlens-backend/internal/pkg/errors"
)

// SourceRecord is the tagged-variant boundary for heterogeneous dataset
// content. Each source category has its own typed record; all of them
// normalize into the same DatasetElement shape.
type SourceRecord interface {
	Category() audit.ElementCategory
	Element() (audit.DatasetElement, error)
}

type RequirementRecord struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Text     string `json:"text"`
	Priority string `json:"priority,omitempty"`
}

func (r RequirementRecord) Category() audit.ElementCategory { return audit.CategoryRequirement }

func (r RequirementRecord) Element() (audit.DatasetElement, error) {
	return normalize(r.ID, r.Title, r, r.Category())
}

type ArtifactRecord struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Kind    string `json:"kind,omitempty"`
	Content string `json:"content"`
}

func (r ArtifactRecord) Category() audit.ElementCategory { return audit.CategoryArtifact }

func (r ArtifactRecord) Element() (audit.DatasetElement, error) {
	return normalize(r.ID, r.Name, r, r.Category())
}

type StandardRecord struct {
	ID      string `json:"id"`
	Clause  string `json:"clause"`
	Body    string `json:"body"`
	Source  string `json:"source,omitempty"`
	Version string `json:"version,omitempty"`
}

func (r StandardRecord) Category() audit.ElementCategory { return audit.CategoryStandard }

func (r StandardRecord) Element() (audit.DatasetElement, error) {
	return normalize(r.ID, r.Clause, r, r.Category())
}

type FileRecord struct {
	ID      string `json:"id"`
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (r FileRecord) Category() audit.ElementCategory { return audit.CategoryFile }

func (r FileRecord) Element() (audit.DatasetElement, error) {
	return normalize(r.ID, r.Path, r, r.Category())
}

type DiagramNodeRecord struct {
	ID       string            `json:"id"`
	Label    string            `json:"label"`
	NodeKind string            `json:"node_kind,omitempty"`
	Props    map[string]string `json:"props,omitempty"`
}

func (r DiagramNodeRecord) Category() audit.ElementCategory { return audit.CategoryDiagramNode }

func (r DiagramNodeRecord) Element() (audit.DatasetElement, error) {
	return normalize(r.ID, r.Label, r, r.Category())
}

type SchemaObjectRecord struct {
	ID         string   `json:"id"`
	ObjectName string   `json:"object_name"`
	ObjectType string   `json:"object_type,omitempty"`
	Columns    []string `json:"columns,omitempty"`
	Definition string   `json:"definition,omitempty"`
}

func (r SchemaObjectRecord) Category() audit.ElementCategory { return audit.CategorySchemaObject }

func (r SchemaObjectRecord) Element() (audit.DatasetElement, error) {
	return normalize(r.ID, r.ObjectName, r, r.Category())
}

func normalize(id, label string, rec any, cat audit.ElementCategory) (audit.DatasetElement, error) {
	id = strings.TrimSpace(id)
	label = strings.TrimSpace(label)
	if id == "" {
		return audit.DatasetElement{}, pkgerrors.E(pkgerrors.KindInput, fmt.Sprintf("%s record missing id", cat), nil)
	}
	if label == "" {
		label = id
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return audit.DatasetElement{}, fmt.Errorf("serialize %s record %s: %w", cat, id, err)
	}
	return audit.DatasetElement{
		ID:       id,
		Label:    label,
		Content:  string(raw),
		Category: cat,
	}, nil
}

// Extract normalizes one side's records into a flat element list. Duplicate
// ids within the side are an input error.
func Extract(records []SourceRecord) ([]audit.DatasetElement, error) {
	out := make([]audit.DatasetElement, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		el, err := rec.Element()
		if err != nil {
			return nil, err
		}
		if seen[el.ID] {
			return nil, pkgerrors.E(pkgerrors.KindInput, "duplicate element id: "+el.ID, nil)
		}
		seen[el.ID] = true
		out = append(out, el)
	}
	return out, nil
}

// DecodeRecords parses a JSON array of {category, ...} objects into typed
// records, the shape the HTTP layer accepts.
func DecodeRecords(raw json.RawMessage) ([]SourceRecord, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var envelopes []struct {
		Category audit.ElementCategory `json:"category"`
	}
	if err := json.Unmarshal(raw, &envelopes); err != nil {
		return nil, pkgerrors.E(pkgerrors.KindInput, "malformed records payload", err)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, pkgerrors.E(pkgerrors.KindInput, "malformed records payload", err)
	}
	out := make([]SourceRecord, 0, len(items))
	for i, item := range items {
		rec, err := decodeRecord(envelopes[i].Category, item)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeRecord(cat audit.ElementCategory, item json.RawMessage) (SourceRecord, error) {
	var (
		rec SourceRecord
		err error
	)
	switch cat {
	case audit.CategoryRequirement:
		var r RequirementRecord
		err = json.Unmarshal(item, &r)
		rec = r
	case audit.CategoryArtifact:
		var r ArtifactRecord
		err = json.Unmarshal(item, &r)
		rec = r
	case audit.CategoryStandard:
		var r StandardRecord
		err = json.Unmarshal(item, &r)
		rec = r
	case audit.CategoryFile:
		var r FileRecord
		err = json.Unmarshal(item, &r)
		rec = r
	case audit.CategoryDiagramNode:
		var r DiagramNodeRecord
		err = json.Unmarshal(item, &r)
		rec = r
	case audit.CategorySchemaObject:
		var r SchemaObjectRecord
		err = json.Unmarshal(item, &r)
		rec = r
	default:
		return nil, pkgerrors.E(pkgerrors.KindInput, "unknown record category: "+string(cat), nil)
	}
	if err != nil {
		return nil, pkgerrors.E(pkgerrors.KindInput, "malformed "+string(cat)+" record", err)
	}
	return rec, nil
}
