package chunk

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/patternlab/internal/pattern"
)

const (
	// maxListItems caps merged bullet lists.
	maxListItems = 20

	// maxTags caps merged tag sets.
	maxTags = 20

	// maxBriefSentences caps merged brief summaries; each part contributes at
	// most briefSentencesPerPart.
	maxBriefSentences     = 5
	briefSentencesPerPart = 2

	// dedupPrefixRunes is the prefix length compared when de-duplicating
	// list items.
	dedupPrefixRunes = 30

	// nearDuplicateScore is the Jaro-Winkler similarity at or above which two
	// list items may be the same point. They must also be within
	// nearDuplicateEdits of each other.
	nearDuplicateScore = 0.97

	// nearDuplicateRunesPerEdit allows one edit per this many runes of the
	// shorter item, and at least minNearDuplicateEdits.
	nearDuplicateRunesPerEdit = 25
	minNearDuplicateEdits     = 2
)

var (
	headingLineRe   = regexp.MustCompile(`(?m)^#{1,6}[ \t][^\n]*\n*`)
	bulletPrefixRe  = regexp.MustCompile(`^(?:[-*•]\s+|\d+[.)]\s+)`)
	sentenceSplitRe = regexp.MustCompile(`[.!?]+`)
	tagSplitRe      = regexp.MustCompile(`[,\n#]`)
)

// Aggregate merges per-chunk outputs of one pattern into a single document
// using strategy. A single result is returned as is.
func Aggregate(results []string, strategy pattern.Strategy) string {
	switch len(results) {
	case 0:
		return ""
	case 1:
		return results[0]
	}

	switch strategy {
	case pattern.StrategySummary:
		return aggregateSummaries(results)
	case pattern.StrategyBriefSummary:
		if s := aggregateBriefSummaries(results); s != "" {
			return s
		}
	case pattern.StrategyListExtraction:
		return aggregateExtractions(results)
	case pattern.StrategyTagSet:
		return aggregateTags(results)
	case pattern.StrategySynthesis:
		return aggregateSynthesis(results)
	case pattern.StrategyFlashcardConcat:
		return aggregateFlashcards(results)
	}
	return aggregateDefault(results)
}

// stripHeadings removes markdown heading lines. "#tag" without a space is not
// a heading.
func stripHeadings(s string) string {
	return strings.TrimSpace(headingLineRe.ReplaceAllString(s, ""))
}

func aggregateSummaries(results []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Comprehensive Summary\n\n**Note**: This summary combines analysis from %d parts of a long-form transcript.\n\n", len(results))
	for i, r := range results {
		if clean := stripHeadings(r); clean != "" {
			fmt.Fprintf(&b, "## Part %d Summary\n\n%s\n\n", i+1, clean)
		}
	}
	fmt.Fprintf(&b, "## Overall Themes\n\nThe content spans %d segments; the part summaries above follow its progression from start to finish.", len(results))
	return b.String()
}

func aggregateBriefSummaries(results []string) string {
	var sentences []string
	for _, r := range results {
		taken := 0
		for _, s := range sentenceSplitRe.Split(stripHeadings(r), -1) {
			if taken == briefSentencesPerPart {
				break
			}
			if s = strings.TrimSpace(s); len(s) > 10 {
				sentences = append(sentences, s)
				taken++
			}
		}
	}
	if len(sentences) == 0 {
		return ""
	}
	if len(sentences) > maxBriefSentences {
		sentences = sentences[:maxBriefSentences]
	}
	return strings.Join(sentences, ". ") + "."
}

// aggregateExtractions merges list-shaped outputs. A line is a candidate if it
// is a bullet, a numbered item or longer than 20 bytes. Candidates are
// dropped when an already collected item contains their first 30 runes or
// differs from them only by a typo-sized edit.
func aggregateExtractions(results []string) string {
	var points []string
	var keys []string
	for _, r := range results {
		for line := range strings.SplitSeq(stripHeadings(r), "\n") {
			line = strings.TrimSpace(line)
			isItem := bulletPrefixRe.MatchString(line)
			if !isItem && len(line) <= 20 {
				continue
			}
			clean := strings.TrimSpace(bulletPrefixRe.ReplaceAllString(line, ""))
			if len(clean) <= 10 {
				continue
			}
			key := strings.ToLower(clean)
			if isDuplicate(keys, key) {
				continue
			}
			points = append(points, clean)
			keys = append(keys, key)
		}
	}
	if len(points) > maxListItems {
		points = points[:maxListItems]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Comprehensive Analysis\n\n**Note**: Combined analysis from %d parts.\n\n", len(results))
	for i, p := range points {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(p)
	}
	return b.String()
}

func isDuplicate(existing []string, key string) bool {
	prefix := key
	if r := []rune(key); len(r) > dedupPrefixRunes {
		prefix = string(r[:dedupPrefixRunes])
	}
	for _, e := range existing {
		if strings.Contains(e, prefix) {
			return true
		}
		if isNearDuplicate(e, key) {
			return true
		}
	}
	return false
}

// isNearDuplicate reports whether a and b are the same text up to a few
// character edits, such as pluralization or punctuation. Items that share a
// long prefix but change a word stay distinct.
func isNearDuplicate(a, b string) bool {
	if matchr.JaroWinkler(a, b, false) < nearDuplicateScore {
		return false
	}
	shorter := min(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	return matchr.DamerauLevenshtein(a, b) <= max(minNearDuplicateEdits, shorter/nearDuplicateRunesPerEdit)
}

func aggregateTags(results []string) string {
	seen := make(map[string]struct{})
	var tags []string
	for _, r := range results {
		for _, tag := range tagSplitRe.Split(stripHeadings(r), -1) {
			tag = strings.ToLower(strings.TrimSpace(tag))
			if len(tag) <= 2 {
				continue
			}
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			tags = append(tags, tag)
		}
	}
	if len(tags) > maxTags {
		tags = tags[:maxTags]
	}
	return strings.Join(tags, ", ")
}

func aggregateSynthesis(results []string) string {
	var messages []string
	for _, r := range results {
		if clean := stripHeadings(r); clean != "" {
			messages = append(messages, clean)
		}
	}
	header := fmt.Sprintf("# Core Message\n\n**Synthesized from %d parts:**\n\n", len(messages))
	if len(messages) == 1 {
		return header + messages[0]
	}
	return header + "This content conveys: " + strings.Join(messages, " ")
}

func aggregateFlashcards(results []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Comprehensive Flashcards\n\n**Combined from %d parts:**\n\n", len(results))
	for i, r := range results {
		if clean := stripHeadings(r); clean != "" {
			fmt.Fprintf(&b, "## Part %d Cards\n\n%s\n\n", i+1, clean)
		}
	}
	return b.String()
}

func aggregateDefault(results []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Combined Analysis\n\n**Note**: Analysis combined from %d parts.\n\n", len(results))
	for i, r := range results {
		fmt.Fprintf(&b, "## Part %d\n\n%s\n\n---\n\n", i+1, r)
	}
	return b.String()
}
