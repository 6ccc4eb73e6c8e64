package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"
)

// smallConfig gives 400-byte chunks with 40 bytes of overlap so tests can use
// short inputs.
func smallConfig() Config {
	return Config{MaxTokens: 100, OverlapTokens: 10, CharsPerToken: 4, SearchWindow: 100}
}

// ── estimation ───────────────────────────────────────────────────────────────

func TestEstimateTokens(t *testing.T) {
	c := New(Config{})
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tt := range tests {
		if got := c.EstimateTokens(tt.in); got != tt.want {
			t.Errorf("EstimateTokens(len %d) = %d, want %d", len(tt.in), got, tt.want)
		}
	}
}

func TestNeedsChunking(t *testing.T) {
	c := New(smallConfig())
	if c.NeedsChunking(strings.Repeat("x", 400)) {
		t.Error("400 bytes at budget 100 tokens should not need chunking")
	}
	if !c.NeedsChunking(strings.Repeat("x", 401)) {
		t.Error("401 bytes at budget 100 tokens should need chunking")
	}

	// The reference budget: 50k tokens, i.e. 200k bytes.
	d := New(DefaultConfig())
	if d.NeedsChunking(strings.Repeat("x", 200_000)) {
		t.Error("200k bytes should fit the default budget")
	}
	if !d.NeedsChunking(strings.Repeat("x", 300_000)) {
		t.Error("300k bytes should exceed the default budget")
	}
}

func TestNew_Defaults(t *testing.T) {
	got := New(Config{}).Config()
	if got != DefaultConfig() {
		t.Errorf("New(Config{}).Config() = %+v, want %+v", got, DefaultConfig())
	}

	capped := New(Config{MaxTokens: 10, OverlapTokens: 50}).Config()
	if capped.OverlapTokens != 5 {
		t.Errorf("OverlapTokens = %d, want 5", capped.OverlapTokens)
	}
}

// ── splitting ────────────────────────────────────────────────────────────────

func TestSplit_SmallInputSingleChunk(t *testing.T) {
	c := New(smallConfig())
	chunks := c.Split("short text")
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	ch := chunks[0]
	if ch.Text != "short text" || ch.Start != 0 || ch.CoreStart != 0 || ch.End != 10 || ch.Total != 1 {
		t.Errorf("chunk = %+v", ch)
	}
}

func TestSplit_Invariants(t *testing.T) {
	inputs := map[string]string{
		"sentences":   strings.Repeat("This is a sentence of moderate length. ", 80),
		"paragraphs":  strings.Repeat("Paragraph text without a full stop\n\n", 60),
		"lines":       strings.Repeat("caption line fragment\n", 120),
		"giant token": strings.Repeat("x", 5000),
		"multibyte":   strings.Repeat("äöü€", 700),
		"mixed":       strings.Repeat("Wait! Really? yes\nno  maybe. ", 90),
		"empty":       "",
	}
	c := New(smallConfig())
	for name, src := range inputs {
		t.Run(name, func(t *testing.T) {
			assertSplitInvariants(t, c, src)
		})
	}
}

func TestSplit_GiantTokenTerminates(t *testing.T) {
	c := New(smallConfig())
	src := strings.Repeat("x", 10_000)
	chunks := c.Split(src)

	// Each step advances by at least maxChars-overlap bytes.
	if len(chunks) < 2 || len(chunks) > 10_000/(400-40)+1 {
		t.Errorf("got %d chunks", len(chunks))
	}
	assertSplitInvariants(t, c, src)
}

func TestSplit_PrefersSentenceBoundary(t *testing.T) {
	c := New(smallConfig())
	src := strings.Repeat("a", 300) + ". " + strings.Repeat("word ", 40)
	chunks := c.Split(src)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want >= 2", len(chunks))
	}
	if chunks[0].End != 302 {
		t.Errorf("first cut at %d, want 302 (after the sentence end)", chunks[0].End)
	}
}

func TestSplit_PrefersParagraphOverSpace(t *testing.T) {
	c := New(smallConfig())
	src := strings.Repeat("b", 320) + "\n\n" + strings.Repeat("w ", 100)
	chunks := c.Split(src)
	if chunks[0].End != 322 {
		t.Errorf("first cut at %d, want 322 (after the blank line)", chunks[0].End)
	}
}

func TestSplit_Overlap(t *testing.T) {
	c := New(smallConfig())
	chunks := c.Split(strings.Repeat("Some words here. ", 100))
	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		if cur.Start >= prev.End {
			t.Errorf("chunk %d starts at %d, not overlapping previous end %d", i, cur.Start, prev.End)
		}
		if cur.CoreStart != prev.End {
			t.Errorf("chunk %d CoreStart = %d, want %d", i, cur.CoreStart, prev.End)
		}
	}
}

func assertSplitInvariants(t *testing.T, c *Chunker, src string) {
	t.Helper()
	chunks := c.Split(src)
	if len(chunks) == 0 {
		t.Fatal("Split returned no chunks")
	}

	var rebuilt strings.Builder
	for i, ch := range chunks {
		if ch.Index != i || ch.Total != len(chunks) {
			t.Errorf("chunk %d: Index/Total = %d/%d", i, ch.Index, ch.Total)
		}
		if ch.Text != src[ch.Start:ch.End] {
			t.Errorf("chunk %d: Text does not match src[%d:%d]", i, ch.Start, ch.End)
		}
		if ch.CoreStart < ch.Start || ch.CoreStart > ch.End {
			t.Errorf("chunk %d: CoreStart %d outside [%d, %d]", i, ch.CoreStart, ch.Start, ch.End)
		}
		if got := c.EstimateTokens(ch.Text); got > c.Config().MaxTokens {
			t.Errorf("chunk %d: %d tokens exceeds budget %d", i, got, c.Config().MaxTokens)
		}
		if !utf8.ValidString(ch.Text) {
			t.Errorf("chunk %d: cut inside a rune", i)
		}
		rebuilt.WriteString(ch.Core())
	}
	if rebuilt.String() != src {
		t.Errorf("reconstruction mismatch: got %d bytes, want %d", rebuilt.Len(), len(src))
	}
}

// ── headers & stats ──────────────────────────────────────────────────────────

func TestHeader(t *testing.T) {
	if got := Header(SourceMeta{}, 1, 3); got != "# Transcript Analysis - Part 2 of 3\n\n" {
		t.Errorf("Header(zero meta) = %q", got)
	}

	typed := Header(SourceMeta{ContentType: "interview"}, 0, 2)
	for _, want := range []string{"# Content Analysis - Part 1 of 2", "**Title**: Unknown", "**Content Type**: interview"} {
		if !strings.Contains(typed, want) {
			t.Errorf("header with only a content type missing %q:\n%s", want, typed)
		}
	}

	meta := SourceMeta{Title: "Deep Work", URL: "https://example.com/v", ContentType: "educational"}
	first := Header(meta, 0, 2)
	for _, want := range []string{"Part 1 of 2", "**Title**: Deep Work", "**Channel**: Unknown", "**URL**: https://example.com/v", "**Content Type**: educational", "split into 2 parts"} {
		if !strings.Contains(first, want) {
			t.Errorf("first header missing %q:\n%s", want, first)
		}
	}
	if second := Header(meta, 1, 2); strings.Contains(second, "split into") {
		t.Error("only the first header should carry the split note")
	}
}

func TestPrefixed(t *testing.T) {
	c := New(smallConfig())
	chunks := c.Split(strings.Repeat("Sentence number here. ", 50))
	texts := Prefixed(chunks, SourceMeta{})
	if len(texts) != len(chunks) {
		t.Fatalf("got %d texts, want %d", len(texts), len(chunks))
	}
	for i, s := range texts {
		if !strings.HasSuffix(s, chunks[i].Text) || !strings.HasPrefix(s, "# Transcript Analysis - Part ") {
			t.Errorf("text %d not prefixed correctly", i)
		}
	}
}

func TestStats(t *testing.T) {
	c := New(smallConfig())
	src := strings.Repeat("x", 1000)
	chunks := c.Split(src)
	s := c.Stats(src, chunks)
	if s.OriginalChars != 1000 || s.OriginalTokens != 250 || s.Chunks != len(chunks) {
		t.Errorf("Stats = %+v", s)
	}
	if s.MaxChunkTokens > 100 || s.AvgChunkTokens == 0 {
		t.Errorf("Stats = %+v", s)
	}
	if got := c.Stats("", nil); got.Chunks != 0 || got.AvgChunkChars != 0 {
		t.Errorf("Stats(empty) = %+v", got)
	}
}

func TestProcessingInfo(t *testing.T) {
	got := ProcessingInfo(Stats{Chunks: 2, OriginalTokens: 75_000})
	if !strings.Contains(got, "processed in 2 chunks") || !strings.Contains(got, "75,000 estimated tokens") {
		t.Errorf("ProcessingInfo = %q", got)
	}
	for n, want := range map[int]string{0: "0", 999: "999", 1000: "1,000", 1234567: "1,234,567"} {
		if got := groupThousands(n); got != want {
			t.Errorf("groupThousands(%d) = %q, want %q", n, got, want)
		}
	}
}
