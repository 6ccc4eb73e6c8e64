// Package chunk splits oversized transcripts into overlapping parts and merges
// per-part pattern outputs back into one document.
//
// Token counts are estimated as ceil(bytes / CharsPerToken). This is a
// conservative approximation with no knowledge of any real tokenizer; the
// divisor is configurable.
//
// Every chunk carries its byte range in the source and the offset where its
// own content begins after the overlap with its predecessor, so that
//
//	for _, c := range chunks { b.WriteString(src[c.CoreStart:c.End]) }
//
// rebuilds src exactly.
package chunk

import (
	"unicode/utf8"
)

// Defaults for [Config].
const (
	DefaultMaxTokens     = 50_000
	DefaultOverlapTokens = 2_000
	DefaultCharsPerToken = 4
	DefaultSearchWindow  = 1_000
)

// Config holds the chunking budget.
type Config struct {
	// MaxTokens is the per-chunk budget in estimated tokens.
	MaxTokens int `yaml:"max_tokens"`

	// OverlapTokens is how much trailing context of a chunk is repeated at
	// the start of the next one.
	OverlapTokens int `yaml:"overlap_tokens"`

	// CharsPerToken is the divisor of the token estimate.
	CharsPerToken int `yaml:"chars_per_token"`

	// SearchWindow is how far, in bytes, before the ideal cut a boundary is
	// searched for.
	SearchWindow int `yaml:"search_window"`
}

// DefaultConfig returns the reference budget: 50k tokens per chunk with 2k of
// overlap.
func DefaultConfig() Config {
	return Config{
		MaxTokens:     DefaultMaxTokens,
		OverlapTokens: DefaultOverlapTokens,
		CharsPerToken: DefaultCharsPerToken,
		SearchWindow:  DefaultSearchWindow,
	}
}

// Chunk is one contiguous slice of the source text.
type Chunk struct {
	// Index is 0-based; Total is the number of chunks in the split.
	Index int
	Total int

	Text string

	// Start and End delimit Text in the source as [Start, End).
	Start int
	End   int

	// CoreStart is where this chunk's non-overlapping content begins.
	// Start <= CoreStart <= End.
	CoreStart int
}

// Core returns the part of the chunk not shared with its predecessor.
func (c Chunk) Core() string {
	return c.Text[c.CoreStart-c.Start:]
}

// Chunker splits text according to a [Config]. It is stateless and safe for
// concurrent use.
type Chunker struct {
	cfg Config
}

// New returns a Chunker. Zero or negative fields in cfg fall back to the
// defaults. An overlap that would leave no room for progress is capped at half
// the chunk size.
func New(cfg Config) *Chunker {
	d := DefaultConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = d.MaxTokens
	}
	if cfg.OverlapTokens < 0 {
		cfg.OverlapTokens = 0
	}
	if cfg.CharsPerToken <= 0 {
		cfg.CharsPerToken = d.CharsPerToken
	}
	if cfg.SearchWindow <= 0 {
		cfg.SearchWindow = d.SearchWindow
	}
	if cfg.OverlapTokens >= cfg.MaxTokens {
		cfg.OverlapTokens = cfg.MaxTokens / 2
	}
	return &Chunker{cfg: cfg}
}

// Config returns the effective configuration.
func (c *Chunker) Config() Config {
	return c.cfg
}

// EstimateTokens returns ceil(len(text) / CharsPerToken).
func (c *Chunker) EstimateTokens(text string) int {
	return (len(text) + c.cfg.CharsPerToken - 1) / c.cfg.CharsPerToken
}

// NeedsChunking reports whether text exceeds the per-chunk budget.
func (c *Chunker) NeedsChunking(text string) bool {
	return c.EstimateTokens(text) > c.cfg.MaxTokens
}

// Split divides text into chunks of at most MaxTokens each. Text within budget
// yields a single chunk. Cuts are placed at the best boundary found in the
// search window before the ideal position; see [boundary] for the order of
// preference.
//
// Every cut lies strictly after the previous one, so Split terminates on any
// input, including a single token longer than the budget.
func (c *Chunker) Split(text string) []Chunk {
	maxChars := c.cfg.MaxTokens * c.cfg.CharsPerToken
	overlap := c.cfg.OverlapTokens * c.cfg.CharsPerToken

	var chunks []Chunk
	start, prevEnd := 0, 0
	for {
		ideal := start + maxChars
		if ideal >= len(text) {
			chunks = append(chunks, Chunk{Text: text[start:], Start: start, End: len(text), CoreStart: prevEnd})
			break
		}

		lo := max(start, prevEnd) + 1
		cut := boundary(text, lo, ideal, c.cfg.SearchWindow)
		chunks = append(chunks, Chunk{Text: text[start:cut], Start: start, End: cut, CoreStart: prevEnd})

		prevEnd = cut
		start = runeStartAfter(text, max(cut-overlap, start+1))
	}

	for i := range chunks {
		chunks[i].Index = i
		chunks[i].Total = len(chunks)
	}
	return chunks
}

// boundary classes, best first.
const (
	classSentence = iota
	classParagraph
	classNewline
	classSpace
	numClasses
)

// boundary picks a cut position p in [lo, ideal]. Within the last window
// bytes before ideal it prefers, in order: just after sentence-ending
// punctuation and a space, just after a blank line, just after a newline, and
// just after any other space. Within a class the position closest to ideal
// wins. If nothing is found the cut falls on ideal, moved back to a rune
// boundary.
func boundary(text string, lo, ideal, window int) int {
	floor := max(lo, ideal-window)

	var found [numClasses]int
	for p := ideal; p >= floor; p-- {
		cls := classify(text, p)
		if cls < 0 || found[cls] != 0 {
			continue
		}
		found[cls] = p
		if cls == classSentence {
			break
		}
	}
	for _, p := range found {
		if p != 0 {
			return p
		}
	}

	p := ideal
	for p > lo && !utf8.RuneStart(text[p]) {
		p--
	}
	if !utf8.RuneStart(text[p]) {
		// Only reachable with a budget smaller than one rune.
		p = runeStartAfter(text, p)
	}
	return p
}

// classify returns the boundary class of cutting text before byte p, or -1.
func classify(text string, p int) int {
	if p < 1 || p > len(text) {
		return -1
	}
	switch prev := text[p-1]; prev {
	case '\n':
		if p >= 2 && text[p-2] == '\n' {
			return classParagraph
		}
		if p >= 2 && isSentenceEnd(text[p-2]) {
			return classSentence
		}
		return classNewline
	case ' ', '\t', '\r':
		if p >= 2 && isSentenceEnd(text[p-2]) {
			return classSentence
		}
		return classSpace
	}
	return -1
}

func isSentenceEnd(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

// runeStartAfter returns the first rune boundary at or after p.
func runeStartAfter(text string, p int) int {
	for p < len(text) && !utf8.RuneStart(text[p]) {
		p++
	}
	return p
}

// Stats summarizes a split.
type Stats struct {
	OriginalChars  int
	OriginalTokens int
	Chunks         int
	AvgChunkChars  int
	AvgChunkTokens int
	MaxChunkTokens int
}

// Stats computes chunking statistics for text split into chunks.
func (c *Chunker) Stats(text string, chunks []Chunk) Stats {
	s := Stats{
		OriginalChars:  len(text),
		OriginalTokens: c.EstimateTokens(text),
		Chunks:         len(chunks),
	}
	if len(chunks) == 0 {
		return s
	}
	var chars, tokens int
	for _, ch := range chunks {
		t := c.EstimateTokens(ch.Text)
		chars += len(ch.Text)
		tokens += t
		s.MaxChunkTokens = max(s.MaxChunkTokens, t)
	}
	s.AvgChunkChars = (chars + len(chunks)/2) / len(chunks)
	s.AvgChunkTokens = (tokens + len(chunks)/2) / len(chunks)
	return s
}
