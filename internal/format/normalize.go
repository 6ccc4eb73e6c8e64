package format

import (
	"regexp"
	"strings"
)

// maxPhraseWords is the longest phrase considered by repetition removal.
const maxPhraseWords = 4

// noiseRe matches bracket- or parenthesis-enclosed non-speech markers.
var noiseRe = regexp.MustCompile(`(?i)[\[(][ \t]*(?:music|applause|laughter|laughs|inaudible|crosstalk|silence|background noise|noise|static|cheering|cheers|coughs?|sighs?|foreign|blank_audio)[ \t]*[\])]`)

var (
	horizontalSpaceRe = regexp.MustCompile(`[ \t\f\v]+`)
	paragraphBreakRe  = regexp.MustCompile(`\n[ \t]*\n\s*`)
)

// Normalize cleans extracted text. Noise markers are removed unless
// opts.KeepNoise is set. Whitespace is collapsed while paragraph breaks
// survive as a single blank line. Adjacent duplicate words and back-to-back
// repeated phrases of up to four words are removed unless opts.KeepRepetition
// is set.
//
// Normalize is idempotent: the cleanup steps are repeated until the text
// stops changing, so feeding the result back in returns it unchanged.
func Normalize(text string, opts Options) string {
	for {
		next := normalizeOnce(text, opts)
		if next == text {
			return next
		}
		text = next
	}
}

func normalizeOnce(text string, opts Options) string {
	text = canonicalNewlines(text)
	if !opts.KeepNoise {
		text = noiseRe.ReplaceAllString(text, " ")
	}

	paragraphs := paragraphBreakRe.Split(strings.TrimSpace(text), -1)
	out := paragraphs[:0]
	for _, p := range paragraphs {
		p = strings.ReplaceAll(p, "\n", " ")
		p = strings.TrimSpace(horizontalSpaceRe.ReplaceAllString(p, " "))
		if !opts.KeepRepetition {
			p = removeRepetition(p)
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}

// removeRepetition drops the first copy of any 1–4 word sequence that is
// immediately repeated. Words compare case-insensitively.
func removeRepetition(p string) string {
	words := strings.Fields(p)
	if len(words) < 2 {
		return p
	}
	keys := make([]string, len(words))
	for i, w := range words {
		keys[i] = strings.ToLower(w)
	}

	kept := make([]string, 0, len(words))
	for i := 0; i < len(words); {
		if n := repeatedAt(keys, i); n > 0 {
			i += n
			continue
		}
		kept = append(kept, words[i])
		i++
	}
	return strings.Join(kept, " ")
}

// repeatedAt returns the length of the shortest phrase starting at i that is
// immediately repeated, or 0.
func repeatedAt(keys []string, i int) int {
	for n := 1; n <= maxPhraseWords && i+2*n <= len(keys); n++ {
		match := true
		for k := range n {
			if keys[i+k] != keys[i+n+k] {
				match = false
				break
			}
		}
		if match {
			return n
		}
	}
	return 0
}
