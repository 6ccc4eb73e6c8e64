// Package pattern defines the static catalog of text-transformation patterns
// that a processing run executes.
//
// A [Pattern] is pure configuration: the name passed to the external tool, a
// display phase, a human description, and the output filename. Each pattern
// also carries the aggregation [Strategy] used to merge per-chunk outputs when
// an oversized transcript is split. The strategy is resolved once, when the
// [Catalog] is built, from the lookup table in [StrategyFor].
//
// A [Catalog] is immutable after construction and safe for concurrent use.
package pattern

import (
	"fmt"
	"strings"
)

// Phase groups patterns for display and progress reporting. It carries no
// execution-order dependency.
type Phase int

const (
	PhasePrimaryExtraction Phase = iota + 1
	PhaseContentAnalysis
	PhaseKnowledgeGraph
	PhaseSynthesis
)

// String returns the human-readable phase title.
func (p Phase) String() string {
	switch p {
	case PhasePrimaryExtraction:
		return "Primary Extraction"
	case PhaseContentAnalysis:
		return "Content Analysis"
	case PhaseKnowledgeGraph:
		return "Knowledge Graph Building"
	case PhaseSynthesis:
		return "Synthesis Materials"
	default:
		return fmt.Sprintf("Phase %d", int(p))
	}
}

// IsValid reports whether p is one of the four known phases.
func (p Phase) IsValid() bool {
	return p >= PhasePrimaryExtraction && p <= PhaseSynthesis
}

// Strategy selects how per-chunk outputs of one pattern are merged back into a
// single document.
type Strategy int

const (
	// StrategyDefault concatenates parts under "Part N" headings separated by
	// a horizontal rule.
	StrategyDefault Strategy = iota

	// StrategySummary concatenates per-part summaries and appends a closing
	// note that the content spans several segments.
	StrategySummary

	// StrategyBriefSummary keeps the leading sentences of each part, five
	// sentences at most overall.
	StrategyBriefSummary

	// StrategyListExtraction merges bullet lists, dropping near-duplicates and
	// capping the combined list.
	StrategyListExtraction

	// StrategyTagSet unions lower-cased tags across parts.
	StrategyTagSet

	// StrategySynthesis strips headers and joins parts into one paragraph.
	StrategySynthesis

	// StrategyFlashcardConcat concatenates flashcard sets without
	// de-duplication.
	StrategyFlashcardConcat
)

// String returns the strategy identifier.
func (s Strategy) String() string {
	switch s {
	case StrategySummary:
		return "summary"
	case StrategyBriefSummary:
		return "brief-summary"
	case StrategyListExtraction:
		return "list-extraction"
	case StrategyTagSet:
		return "tag-set"
	case StrategySynthesis:
		return "synthesis"
	case StrategyFlashcardConcat:
		return "flashcard-concat"
	default:
		return "default"
	}
}

// strategies maps pattern names to their aggregation strategy. Patterns not
// listed here use [StrategyDefault].
var strategies = map[string]Strategy{
	"youtube_summary":           StrategySummary,
	"summarize":                 StrategySummary,
	"create_5_sentence_summary": StrategyBriefSummary,
	"create_micro_summary":      StrategyBriefSummary,
	"extract_wisdom":            StrategyListExtraction,
	"extract_insights":          StrategyListExtraction,
	"extract_ideas":             StrategyListExtraction,
	"extract_patterns":          StrategyListExtraction,
	"extract_recommendations":   StrategyListExtraction,
	"extract_predictions":       StrategyListExtraction,
	"extract_references":        StrategyListExtraction,
	"extract_questions":         StrategyListExtraction,
	"create_tags":               StrategyTagSet,
	"extract_core_message":      StrategySynthesis,
	"to_flashcards":             StrategyFlashcardConcat,
}

// StrategyFor returns the aggregation strategy registered for the pattern
// name, or [StrategyDefault] when none is.
func StrategyFor(name string) Strategy {
	if s, ok := strategies[strings.ToLower(strings.TrimSpace(name))]; ok {
		return s
	}
	return StrategyDefault
}

// Pattern describes one named transformation executed by the external tool.
type Pattern struct {
	// Name is the identifier passed to the external tool (e.g. "extract_wisdom").
	Name string `yaml:"name" json:"name"`

	// Phase is the display grouping (1–4).
	Phase Phase `yaml:"phase" json:"phase"`

	// Description is a short human-readable summary of what the pattern produces.
	Description string `yaml:"description" json:"description"`

	// Filename is the output identifier under which the result is stored.
	Filename string `yaml:"filename" json:"filename"`

	// Strategy is resolved from Name when the catalog is built.
	Strategy Strategy `yaml:"-" json:"-"`
}
