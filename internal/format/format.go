// Package format detects the source format of a raw transcript and normalizes
// it into clean prose.
//
// Supported inputs are WebVTT and SubRip subtitles, speaker-labeled dialogue
// ("Host: …"), platform-style bracketed timestamps ("[00:01:02] …"), generic
// leading timestamps ("1:02 …") and plain text. Detection tries the formats in
// a fixed priority order and the first structural match wins; plain text is
// the fallback.
//
// [Parse] never fails: every input, including the empty string, yields a
// well-formed [Transcript] that can be handed downstream.
package format

import (
	"regexp"
	"strings"
	"time"
)

// Format identifies the detected structure of a raw transcript.
type Format string

const (
	FormatVTT                 Format = "subtitle-vtt"
	FormatSRT                 Format = "subtitle-srt"
	FormatSpeakerLabeled      Format = "speaker-labeled"
	FormatPlatformTimestamped Format = "platform-timestamped"
	FormatGenericTimestamped  Format = "generic-timestamped"
	FormatPlainText           Format = "plain-text"
	FormatEmpty               Format = "empty"
)

// plainTextConfidence is the confidence reported when nothing structural
// matched.
const plainTextConfidence = 0.8

// Detection is the result of [Detect].
type Detection struct {
	Format     Format
	Confidence float64

	// Heuristics names the structural markers that fired for Format.
	Heuristics []string
}

// detector pairs a format with the structural pattern that selects it and the
// per-line predicate used for the confidence score.
type detector struct {
	format    Format
	structure *regexp.Regexp
	line      func(string) bool
	markers   []marker
}

type marker struct {
	name string
	re   *regexp.Regexp
}

var (
	vttStructureRe = regexp.MustCompile(`(?m)^WEBVTT\b|^(?:\d{2}:)?\d{2}:\d{2}\.\d{3}\s*-->\s*(?:\d{2}:)?\d{2}:\d{2}\.\d{3}`)
	srtStructureRe = regexp.MustCompile(`(?m)^\d+[ \t]*\n\d{2}:\d{2}:\d{2},\d{3}\s*-->\s*\d{2}:\d{2}:\d{2},\d{3}`)
	speakerRe      = regexp.MustCompile(`(?m)^([A-Za-z][A-Za-z0-9 .'_()-]{0,39}?):[ \t]+(\S.*)$`)
	platformTSRe   = regexp.MustCompile(`(?m)^\[(\d{1,2}:\d{2}(?::\d{2})?)\][ \t]*`)
	genericTSRe    = regexp.MustCompile(`(?m)^(\d{1,2}:\d{2}(?::\d{2})?)[ \t]+`)

	vttTimingRe = regexp.MustCompile(`((?:\d{2}:)?\d{2}:\d{2}\.\d{3})\s*-->\s*((?:\d{2}:)?\d{2}:\d{2}\.\d{3})`)
	srtTimingRe = regexp.MustCompile(`(\d{2}:\d{2}:\d{2},\d{3})\s*-->\s*(\d{2}:\d{2}:\d{2},\d{3})`)
	cueNumberRe = regexp.MustCompile(`^\d+$`)
)

// detectors lists formats in priority order: subtitles, then labels, then
// timestamps.
var detectors = []detector{
	{
		format:    FormatVTT,
		structure: vttStructureRe,
		line: func(l string) bool {
			return l == "WEBVTT" || strings.HasPrefix(l, "WEBVTT ") || strings.Contains(l, "-->")
		},
		markers: []marker{
			{"webvtt-header", regexp.MustCompile(`(?m)^WEBVTT\b`)},
			{"vtt-timing", vttTimingRe},
			{"voice-tag", regexp.MustCompile(`<v[ .][^>]*>`)},
		},
	},
	{
		format:    FormatSRT,
		structure: srtStructureRe,
		line: func(l string) bool {
			return cueNumberRe.MatchString(l) || strings.Contains(l, "-->")
		},
		markers: []marker{
			{"cue-number", regexp.MustCompile(`(?m)^\d+[ \t]*$`)},
			{"srt-timing", srtTimingRe},
		},
	},
	{
		format:    FormatSpeakerLabeled,
		structure: speakerRe,
		line:      speakerRe.MatchString,
		markers:   []marker{{"speaker-label", speakerRe}},
	},
	{
		format:    FormatPlatformTimestamped,
		structure: platformTSRe,
		line:      platformTSRe.MatchString,
		markers:   []marker{{"bracketed-timestamp", platformTSRe}},
	},
	{
		format:    FormatGenericTimestamped,
		structure: genericTSRe,
		line:      genericTSRe.MatchString,
		markers:   []marker{{"leading-timestamp", genericTSRe}},
	},
}

// Detect classifies raw. The first format in priority order whose structural
// pattern matches anywhere wins. Its confidence is the share of non-blank lines
// carrying that format's markers, relative to 30% of all non-blank lines,
// clipped to 1.
func Detect(raw string) Detection {
	content := strings.TrimSpace(canonicalNewlines(raw))
	if content == "" {
		return Detection{Format: FormatEmpty, Confidence: 1.0}
	}

	lines := nonBlankLines(content)
	for _, d := range detectors {
		if !d.structure.MatchString(content) {
			continue
		}
		matching := 0
		for _, l := range lines {
			if d.line(l) {
				matching++
			}
		}
		var heuristics []string
		for _, m := range d.markers {
			if m.re.MatchString(content) {
				heuristics = append(heuristics, m.name)
			}
		}
		return Detection{
			Format:     d.format,
			Confidence: confidence(matching, len(lines)),
			Heuristics: heuristics,
		}
	}
	return Detection{Format: FormatPlainText, Confidence: plainTextConfidence}
}

func confidence(matching, total int) float64 {
	c := float64(matching) / max(float64(total)*0.3, 1)
	return min(c, 1.0)
}

// ContentType is a coarse guess at what kind of content a transcript holds.
// It is informational only.
type ContentType string

const (
	ContentEducational  ContentType = "educational"
	ContentInterview    ContentType = "interview"
	ContentPresentation ContentType = "presentation"
	ContentPodcast      ContentType = "podcast"
	ContentGeneral      ContentType = "general"
)

// Options tunes [Parse].
type Options struct {
	// KeepNoise retains bracketed non-speech markers such as "[Music]".
	KeepNoise bool

	// KeepRepetition disables the stutter and repeated-phrase removal.
	KeepRepetition bool

	// ForceFormat skips detection and extracts with the given format.
	ForceFormat Format
}

// Transcript is a normalized transcript. It is created once per submission
// and must not be modified afterwards.
type Transcript struct {
	// Text is the cleaned prose.
	Text string

	Format     Format
	Confidence float64
	Heuristics []string

	// Speakers holds the distinct speaker labels in first-seen order.
	Speakers []string

	// Duration is derived from the last timestamp seen. Zero means unknown.
	Duration time.Duration

	OriginalChars   int
	ProcessedChars  int
	EstimatedTokens int
	LineCount       int

	// Notes is a human-readable processing summary.
	Notes []string

	ContentType     ContentType
	Recommendations []string
}

// HasDuration reports whether a duration could be estimated.
func (t *Transcript) HasDuration() bool {
	return t.Duration > 0
}

// Parse detects the format of raw, extracts its text and normalizes it.
func Parse(raw string, opts Options) *Transcript {
	det := Detect(raw)
	f := det.Format
	if opts.ForceFormat != "" {
		f = opts.ForceFormat
	}

	content := canonicalNewlines(raw)
	t := &Transcript{
		Format:        f,
		Confidence:    det.Confidence,
		Heuristics:    det.Heuristics,
		OriginalChars: len(raw),
		LineCount:     strings.Count(raw, "\n") + 1,
	}
	if f == FormatEmpty {
		t.Notes = notes(t)
		t.ContentType = ContentGeneral
		return t
	}

	var ex extraction
	switch f {
	case FormatVTT:
		ex = extractVTT(content)
	case FormatSRT:
		ex = extractSRT(content)
	case FormatSpeakerLabeled:
		ex = extractSpeakerLabeled(content)
	case FormatPlatformTimestamped:
		ex = extractTimestamped(content, platformTSRe)
	case FormatGenericTimestamped:
		ex = extractTimestamped(content, genericTSRe)
	default:
		ex = extraction{text: strings.TrimSpace(content)}
	}

	text := Normalize(ex.text, opts)
	if len(text) > len(raw) {
		// Cleaning must never add content.
		text = strings.TrimSpace(raw)
	}

	t.Text = text
	t.Speakers = ex.speakers
	t.Duration = ex.duration
	t.ProcessedChars = len(text)
	t.EstimatedTokens = (len(text) + 3) / 4
	t.ContentType = EstimateContentType(text, len(t.Speakers))
	t.Notes = notes(t)
	t.Recommendations = recommendations(t)
	return t
}

func canonicalNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

func nonBlankLines(s string) []string {
	var out []string
	for l := range strings.SplitSeq(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
