package pattern

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"gopkg.in/yaml.v3"
)

// Catalog is an ordered, immutable list of patterns.
type Catalog struct {
	patterns []Pattern
}

// NewCatalog validates ps and returns a [Catalog] holding a copy of them, with
// each pattern's [Strategy] resolved. A missing Filename defaults to
// "NN-<name>.txt" using the 1-based position.
func NewCatalog(ps []Pattern) (*Catalog, error) {
	if len(ps) == 0 {
		return nil, errors.New("pattern: catalog must not be empty")
	}

	var errs []error
	names := make(map[string]int, len(ps))
	files := make(map[string]int, len(ps))
	out := make([]Pattern, len(ps))

	for i, p := range ps {
		prefix := fmt.Sprintf("patterns[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if !p.Phase.IsValid() {
			errs = append(errs, fmt.Errorf("%s.phase %d is out of range [1, 4]", prefix, int(p.Phase)))
		}
		if p.Filename == "" {
			p.Filename = fmt.Sprintf("%02d-%s.txt", i+1, p.Name)
		}
		if prev, ok := names[p.Name]; ok && p.Name != "" {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of patterns[%d]", prefix, p.Name, prev))
		}
		if prev, ok := files[p.Filename]; ok {
			errs = append(errs, fmt.Errorf("%s.filename %q is a duplicate of patterns[%d]", prefix, p.Filename, prev))
		}
		names[p.Name] = i
		files[p.Filename] = i

		p.Strategy = StrategyFor(p.Name)
		out[i] = p
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &Catalog{patterns: out}, nil
}

// MustCatalog is like [NewCatalog] but panics on invalid input. Intended for
// package-level defaults and tests.
func MustCatalog(ps []Pattern) *Catalog {
	c, err := NewCatalog(ps)
	if err != nil {
		panic(err)
	}
	return c
}

// LoadCatalog decodes a YAML list of patterns from r.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var ps []Pattern
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&ps); err != nil {
		return nil, fmt.Errorf("pattern: decode yaml: %w", err)
	}
	return NewCatalog(ps)
}

// Patterns returns a copy of the ordered pattern list.
func (c *Catalog) Patterns() []Pattern {
	return slices.Clone(c.patterns)
}

// Len returns the number of patterns.
func (c *Catalog) Len() int {
	return len(c.patterns)
}

// Lookup returns the pattern with the given name.
func (c *Catalog) Lookup(name string) (Pattern, bool) {
	for _, p := range c.patterns {
		if p.Name == name {
			return p, true
		}
	}
	return Pattern{}, false
}

// Batches splits the catalog into consecutive groups of at most size patterns.
// A non-positive size yields a single batch.
func (c *Catalog) Batches(size int) [][]Pattern {
	if size <= 0 {
		size = len(c.patterns)
	}
	var batches [][]Pattern
	for i := 0; i < len(c.patterns); i += size {
		end := min(i+size, len(c.patterns))
		batches = append(batches, slices.Clone(c.patterns[i:end]))
	}
	return batches
}

// defaultPatterns is the reference sequence of 13 patterns in four phases.
var defaultPatterns = []Pattern{
	{Name: "youtube_summary", Phase: PhasePrimaryExtraction, Description: "Comprehensive video summary", Filename: "01-youtube_summary.txt"},
	{Name: "extract_core_message", Phase: PhasePrimaryExtraction, Description: "Central thesis and key messages", Filename: "02-extract_core_message.txt"},

	{Name: "extract_wisdom", Phase: PhaseContentAnalysis, Description: "Life lessons and insights", Filename: "03-extract_wisdom.txt"},
	{Name: "extract_insights", Phase: PhaseContentAnalysis, Description: "Deep analytical observations", Filename: "04-extract_insights.txt"},
	{Name: "extract_ideas", Phase: PhaseContentAnalysis, Description: "Novel concepts and innovations", Filename: "05-extract_ideas.txt"},
	{Name: "extract_patterns", Phase: PhaseContentAnalysis, Description: "Recurring themes and structures", Filename: "06-extract_patterns.txt"},
	{Name: "extract_recommendations", Phase: PhaseContentAnalysis, Description: "Actionable guidance", Filename: "07-extract_recommendations.txt"},
	{Name: "extract_predictions", Phase: PhaseContentAnalysis, Description: "Future implications and trends", Filename: "08-extract_predictions.txt"},

	{Name: "extract_references", Phase: PhaseKnowledgeGraph, Description: "People, organizations, and resources", Filename: "09-extract_references.txt"},
	{Name: "extract_questions", Phase: PhaseKnowledgeGraph, Description: "Critical questions raised", Filename: "10-extract_questions.txt"},
	{Name: "create_tags", Phase: PhaseKnowledgeGraph, Description: "Comprehensive tagging system", Filename: "11-create_tags.txt"},

	{Name: "create_5_sentence_summary", Phase: PhaseSynthesis, Description: "Ultra-concise overview", Filename: "12-create_5_sentence_summary.txt"},
	{Name: "to_flashcards", Phase: PhaseSynthesis, Description: "Educational flashcards for learning", Filename: "13-to_flashcards.txt"},
}

// Default returns the reference catalog of 13 patterns.
func Default() *Catalog {
	return MustCatalog(defaultPatterns)
}
