package format

import (
	"fmt"
	"math"
	"strings"
	"time"
)

var contentKeywords = []struct {
	kind     ContentType
	keywords []string
}{
	{ContentEducational, []string{"lesson", "tutorial", "learn", "course", "lecture", "students", "chapter", "exercise"}},
	{ContentPresentation, []string{"slide", "presentation", "agenda", "keynote", "next slide", "q&a"}},
	{ContentPodcast, []string{"podcast", "episode", "listeners", "subscribe", "sponsor", "show notes"}},
	{ContentInterview, []string{"interview", "thanks for having me", "welcome to the show", "my guest", "tell us about"}},
}

// EstimateContentType guesses the kind of content from keyword hits and the
// number of distinct speakers. The keyword family with the most hits wins;
// two or more speakers without a clear winner suggests an interview.
func EstimateContentType(text string, speakers int) ContentType {
	lower := strings.ToLower(text)
	best, bestHits := ContentGeneral, 0
	for _, ck := range contentKeywords {
		hits := 0
		for _, kw := range ck.keywords {
			hits += strings.Count(lower, kw)
		}
		if hits > bestHits {
			best, bestHits = ck.kind, hits
		}
	}
	if bestHits >= 2 {
		return best
	}
	if speakers >= 2 {
		return ContentInterview
	}
	return ContentGeneral
}

// FormatDuration renders d as m:ss, or h:mm:ss past an hour.
func FormatDuration(d time.Duration) string {
	s := int(d.Round(time.Second) / time.Second)
	h, m, sec := s/3600, (s%3600)/60, s%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}

func notes(t *Transcript) []string {
	if t.Format == FormatEmpty {
		return []string{"Input was empty; nothing to process"}
	}
	out := []string{fmt.Sprintf("Original format: %s (confidence %.0f%%)", t.Format, t.Confidence*100)}
	if len(t.Speakers) > 0 {
		out = append(out, fmt.Sprintf("Speakers detected: %s", strings.Join(t.Speakers, ", ")))
	}
	if t.HasDuration() {
		out = append(out, "Estimated duration: "+FormatDuration(t.Duration))
	}
	if t.OriginalChars > 0 {
		reduction := 100 * (1 - float64(t.ProcessedChars)/float64(t.OriginalChars))
		out = append(out, fmt.Sprintf("Size reduced by %d%% during cleanup", int(math.Round(reduction))))
	}
	return out
}

func recommendations(t *Transcript) []string {
	var out []string
	switch t.Format {
	case FormatVTT, FormatSRT:
		out = append(out, "Subtitle timing was removed; cross-reference the original file for exact timestamps")
	case FormatSpeakerLabeled:
		if len(t.Speakers) >= 2 {
			out = append(out, "Multiple speakers detected; interview-oriented patterns will give the most useful results")
		}
	case FormatPlatformTimestamped, FormatGenericTimestamped:
		out = append(out, "Timestamps were stripped; keep the source handy to locate quotes")
	case FormatPlainText:
		if t.Confidence < 1 {
			out = append(out, "No structure detected; the text was processed as plain prose")
		}
	}
	if t.Duration > time.Hour {
		out = append(out, "Long recording; expect the transcript to be split into several parts")
	}
	if t.EstimatedTokens > 0 && t.EstimatedTokens < 200 {
		out = append(out, "Very short transcript; some patterns may produce thin output")
	}
	return out
}
