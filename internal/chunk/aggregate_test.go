package chunk

import (
	"strings"
	"testing"

	"github.com/MrWong99/patternlab/internal/pattern"
)

func bulletCount(s string) int {
	n := 0
	for line := range strings.SplitSeq(s, "\n") {
		if strings.HasPrefix(line, "- ") {
			n++
		}
	}
	return n
}

func TestAggregate_SingleAndEmpty(t *testing.T) {
	if got := Aggregate(nil, pattern.StrategySummary); got != "" {
		t.Errorf("Aggregate(nil) = %q, want empty", got)
	}
	if got := Aggregate([]string{"only part"}, pattern.StrategyListExtraction); got != "only part" {
		t.Errorf("Aggregate(single) = %q, want passthrough", got)
	}
}

func TestAggregate_ListExtractionDeduplicates(t *testing.T) {
	block := "# IDEAS\n\n" +
		"- Focus beats multitasking in deep work sessions\n" +
		"- Sleep quality drives long term cognitive health\n" +
		"- Compound interest rewards patient investors\n"
	got := Aggregate([]string{block, block}, pattern.StrategyListExtraction)

	if n := bulletCount(got); n != 3 {
		t.Errorf("got %d bullets, want 3:\n%s", n, got)
	}
	for _, want := range []string{"Focus beats", "Sleep quality", "Compound interest"} {
		if strings.Count(got, want) != 1 {
			t.Errorf("%q should appear exactly once:\n%s", want, got)
		}
	}
	if strings.Contains(got, "# IDEAS") {
		t.Error("part headings should be stripped")
	}
}

func TestAggregate_ListExtractionNearDuplicates(t *testing.T) {
	a := "- Focus beats multitasking in deep work sessions"
	b := "1. focus beats multitasking in deep work sessions!"
	got := Aggregate([]string{a, b}, pattern.StrategyListExtraction)
	if n := bulletCount(got); n != 1 {
		t.Errorf("got %d bullets, want 1:\n%s", n, got)
	}
}

func TestAggregate_ListExtractionTypoVariants(t *testing.T) {
	a := "- Focus beats multitasking in deep work sessions"
	b := "- Focus beat multitasking in deep work sessions"
	got := Aggregate([]string{a, b}, pattern.StrategyListExtraction)
	if n := bulletCount(got); n != 1 {
		t.Errorf("got %d bullets, want 1:\n%s", n, got)
	}
}

func TestAggregate_ListExtractionKeepsOpposingItems(t *testing.T) {
	parts := []string{
		"- Inflation expectations remain anchored\n- Inflation expectations became unanchored",
		"- Kubernetes simplifies deployment\n- Kubernetes complicates deployment",
	}
	got := Aggregate(parts, pattern.StrategyListExtraction)
	if n := bulletCount(got); n != 4 {
		t.Errorf("got %d bullets, want 4:\n%s", n, got)
	}
	for _, want := range []string{"remain anchored", "became unanchored", "simplifies", "complicates"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q:\n%s", want, got)
		}
	}
}

func TestIsNearDuplicate(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"sleep quality drives cognitive health", "sleep quality drives cognitive health.", true},
		{"focus beats multitasking in deep work", "focus beat multitasking in deep work", true},
		{"kubernetes simplifies deployment", "kubernetes complicates deployment", false},
		{"rates will rise next year", "rates will fall next year", false},
		{"inflation expectations remain anchored", "inflation expectations became unanchored", false},
	}
	for _, tt := range tests {
		if got := isNearDuplicate(tt.a, tt.b); got != tt.want {
			t.Errorf("isNearDuplicate(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestAggregate_ListExtractionCap(t *testing.T) {
	var parts [2]strings.Builder
	for i := range 24 {
		item := strings.Repeat(string(rune('a'+i)), 12) + " " + strings.Repeat(string(rune('z'-i)), 12)
		parts[i%2].WriteString("- " + item + "\n")
	}
	got := Aggregate([]string{parts[0].String(), parts[1].String()}, pattern.StrategyListExtraction)
	if n := bulletCount(got); n != maxListItems {
		t.Errorf("got %d bullets, want %d", n, maxListItems)
	}
}

func TestAggregate_ListExtractionFiltersShortLines(t *testing.T) {
	got := Aggregate([]string{"- tiny\nshort line\n- A sufficiently long extracted point", "- Another long enough point to keep"}, pattern.StrategyListExtraction)
	if n := bulletCount(got); n != 2 {
		t.Errorf("got %d bullets, want 2:\n%s", n, got)
	}
	if strings.Contains(got, "tiny") || strings.Contains(got, "short line") {
		t.Errorf("short lines should be dropped:\n%s", got)
	}
}

func TestAggregate_TagSet(t *testing.T) {
	got := Aggregate([]string{"#Robotics, #Machine Learning\n#ai", "machine learning, ethics, #ROBOTICS, ml"}, pattern.StrategyTagSet)
	if want := "robotics, machine learning, ethics"; got != want {
		t.Errorf("Aggregate(tags) = %q, want %q", got, want)
	}
}

func TestAggregate_TagSetCap(t *testing.T) {
	var a, b []string
	for i := range 15 {
		a = append(a, "alpha"+string(rune('a'+i)))
		b = append(b, "beta"+string(rune('a'+i)))
	}
	got := Aggregate([]string{strings.Join(a, ", "), strings.Join(b, ", ")}, pattern.StrategyTagSet)
	if n := len(strings.Split(got, ", ")); n != maxTags {
		t.Errorf("got %d tags, want %d", n, maxTags)
	}
}

func TestAggregate_BriefSummary(t *testing.T) {
	part := func(tag string) string {
		return "# Summary\n" + tag + " first sentence here. " + tag + " second sentence here. " + tag + " third sentence here."
	}
	got := Aggregate([]string{part("Alpha"), part("Beta"), part("Gamma")}, pattern.StrategyBriefSummary)
	if strings.Contains(got, "third") {
		t.Errorf("at most two sentences per part expected:\n%s", got)
	}
	if n := strings.Count(got, "sentence here"); n != maxBriefSentences {
		t.Errorf("got %d sentences, want %d:\n%s", n, maxBriefSentences, got)
	}
	if !strings.HasPrefix(got, "Alpha first sentence here. Alpha second") || !strings.HasSuffix(got, ".") {
		t.Errorf("unexpected shape: %q", got)
	}
}

func TestAggregate_BriefSummaryFallsBackWithoutSentences(t *testing.T) {
	got := Aggregate([]string{"ok", "fine"}, pattern.StrategyBriefSummary)
	if !strings.HasPrefix(got, "# Combined Analysis") {
		t.Errorf("expected default aggregation, got %q", got)
	}
}

func TestAggregate_Shapes(t *testing.T) {
	parts := []string{"# Heading A\nAlpha message body.", "## Heading B\nBeta message body."}
	tests := []struct {
		name     string
		strategy pattern.Strategy
		want     []string
		notWant  []string
	}{
		{
			name:     "summary",
			strategy: pattern.StrategySummary,
			want:     []string{"## Part 1 Summary\n\nAlpha message body.", "## Part 2 Summary", "## Overall Themes"},
			notWant:  []string{"Heading A"},
		},
		{
			name:     "synthesis",
			strategy: pattern.StrategySynthesis,
			want:     []string{"# Core Message", "Synthesized from 2 parts", "Alpha message body. Beta message body."},
			notWant:  []string{"Heading"},
		},
		{
			name:     "flashcards",
			strategy: pattern.StrategyFlashcardConcat,
			want:     []string{"## Part 1 Cards\n\nAlpha", "## Part 2 Cards\n\nBeta"},
			notWant:  []string{"Heading"},
		},
		{
			name:     "default",
			strategy: pattern.StrategyDefault,
			want:     []string{"# Combined Analysis", "## Part 1\n\n# Heading A", "## Part 2", "---"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate(parts, tt.strategy)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("missing %q in:\n%s", w, got)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(got, w) {
					t.Errorf("unexpected %q in:\n%s", w, got)
				}
			}
		})
	}
}

func TestAggregate_FlashcardsKeepDuplicates(t *testing.T) {
	card := "Q: What is Go?\nA: A programming language."
	got := Aggregate([]string{card, card}, pattern.StrategyFlashcardConcat)
	if n := strings.Count(got, "What is Go?"); n != 2 {
		t.Errorf("got %d copies, want 2", n)
	}
}
