package pipeline

// Phase identifiers, in execution order. The engine never runs phase N+1
// before all of phase N's work and log entries are final.
const (
	PhaseExtraction        = "extraction"
	PhaseConsolidation     = "consolidation"
	PhaseConceptDiscovery  = "concept_discovery"
	PhaseGraphAssembly     = "graph_assembly"
	PhaseTesseractScoring  = "tesseract_scoring"
	PhaseSetClassification = "set_classification"
	PhaseFinalization      = "finalization"
)

var phaseOrder = []string{
	PhaseExtraction,
	PhaseConsolidation,
	PhaseConceptDiscovery,
	PhaseGraphAssembly,
	PhaseTesseractScoring,
	PhaseSetClassification,
	PhaseFinalization,
}

var phaseTitles = map[string]string{
	PhaseExtraction:        "Extracting dataset elements",
	PhaseConsolidation:     "Consolidating elements",
	PhaseConceptDiscovery:  "Discovering shared concepts",
	PhaseGraphAssembly:     "Assembling knowledge graph",
	PhaseTesseractScoring:  "Scoring tesseract cells",
	PhaseSetClassification: "Classifying concept sets",
	PhaseFinalization:      "Finalizing result",
}

// PhaseIndex returns the position of a phase id, or -1 when unknown.
func PhaseIndex(id string) int {
	for i, p := range phaseOrder {
		if p == id {
			return i
		}
	}
	return -1
}

// Phases returns the ordered phase ids.
func Phases() []string {
	out := make([]string, len(phaseOrder))
	copy(out, phaseOrder)
	return out
}
