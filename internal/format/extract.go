package format

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// extraction is the raw output of a per-format extractor, before
// normalization.
type extraction struct {
	text     string
	speakers []string
	duration time.Duration
}

var (
	voiceTagRe = regexp.MustCompile(`<v(?:\.[^ >]*)?[ \t]+([^>]+)>`)
	tagRe      = regexp.MustCompile(`</?[A-Za-z][^>]*>|<\d{2}:\d{2}[^>]*>`)
	metaLineRe = regexp.MustCompile(`^(?:Kind|Language|X-TIMESTAMP-MAP)[:=]`)
)

// speakerSet collects distinct labels in first-seen order.
type speakerSet struct {
	seen  map[string]struct{}
	names []string
}

func (s *speakerSet) add(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	key := strings.ToLower(name)
	if _, ok := s.seen[key]; ok {
		return
	}
	s.seen[key] = struct{}{}
	s.names = append(s.names, name)
}

// extractVTT strips the header, metadata, NOTE/STYLE/REGION blocks, cue
// identifiers and timing lines. Voice tags become "Name: " prefixes and are
// recorded as speakers. Consecutive identical caption lines, which rolling
// auto-captions produce, are kept once.
func extractVTT(content string) extraction {
	var (
		parts    []string
		speakers speakerSet
		last     string
		lastEnd  string
		skipping bool
	)
	lines := strings.Split(content, "\n")
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			skipping = false
			continue
		}
		if skipping {
			continue
		}
		switch {
		case line == "WEBVTT" || strings.HasPrefix(line, "WEBVTT ") || strings.HasPrefix(line, "WEBVTT\t"):
			continue
		case line == "NOTE" || strings.HasPrefix(line, "NOTE ") ||
			line == "STYLE" || line == "REGION":
			skipping = true
			continue
		case metaLineRe.MatchString(line):
			continue
		}
		if m := vttTimingRe.FindStringSubmatch(line); m != nil {
			lastEnd = m[2]
			continue
		}
		// A cue identifier is any line directly followed by a timing line.
		if i+1 < len(lines) && vttTimingRe.MatchString(lines[i+1]) {
			continue
		}

		speaker := ""
		if m := voiceTagRe.FindStringSubmatch(line); m != nil {
			speaker = strings.TrimSpace(m[1])
			speakers.add(speaker)
		}
		text := strings.TrimSpace(tagRe.ReplaceAllString(line, ""))
		if text == "" || text == last {
			continue
		}
		last = text
		if speaker != "" {
			text = speaker + ": " + text
		}
		parts = append(parts, text)
	}
	return extraction{
		text:     strings.Join(parts, " "),
		speakers: speakers.names,
		duration: parseTimestamp(lastEnd),
	}
}

// extractSRT strips cue numbers, timing lines and inline formatting tags.
func extractSRT(content string) extraction {
	var (
		parts   []string
		last    string
		lastEnd string
	)
	lines := strings.Split(content, "\n")
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if m := srtTimingRe.FindStringSubmatch(line); m != nil {
			lastEnd = m[2]
			continue
		}
		if cueNumberRe.MatchString(line) && i+1 < len(lines) && srtTimingRe.MatchString(lines[i+1]) {
			continue
		}
		text := strings.TrimSpace(tagRe.ReplaceAllString(line, ""))
		if text == "" || text == last {
			continue
		}
		last = text
		parts = append(parts, text)
	}
	return extraction{
		text:     strings.Join(parts, " "),
		duration: parseTimestamp(lastEnd),
	}
}

// extractSpeakerLabeled keeps each turn as "Label: text" and collects the
// labels. Lines without a label are continuations of the previous turn.
func extractSpeakerLabeled(content string) extraction {
	var (
		parts    []string
		speakers speakerSet
	)
	for raw := range strings.SplitSeq(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if m := speakerRe.FindStringSubmatch(line); m != nil {
			speakers.add(m[1])
			parts = append(parts, strings.TrimSpace(m[1])+": "+strings.TrimSpace(m[2]))
			continue
		}
		parts = append(parts, line)
	}
	return extraction{
		text:     strings.Join(parts, " "),
		speakers: speakers.names,
	}
}

// extractTimestamped removes the leading timestamp matched by re from every
// line and records the last one. A speaker label following the timestamp is
// kept and collected.
func extractTimestamped(content string, re *regexp.Regexp) extraction {
	var (
		parts    []string
		speakers speakerSet
		last     string
	)
	for raw := range strings.SplitSeq(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if m := re.FindStringSubmatch(line); m != nil {
			last = m[1]
			line = strings.TrimSpace(line[len(m[0]):])
		}
		if m := speakerRe.FindStringSubmatch(line); m != nil {
			speakers.add(m[1])
		}
		if line != "" {
			parts = append(parts, line)
		}
	}
	return extraction{
		text:     strings.Join(parts, " "),
		speakers: speakers.names,
		duration: parseTimestamp(last),
	}
}

// parseTimestamp converts "HH:MM:SS.mmm", "HH:MM:SS,mmm", "MM:SS.mmm",
// "H:MM:SS" or "M:SS" into a duration. Unparseable input yields zero.
func parseTimestamp(ts string) time.Duration {
	if ts == "" {
		return 0
	}
	ts = strings.Replace(ts, ",", ".", 1)

	var frac time.Duration
	if i := strings.IndexByte(ts, '.'); i >= 0 {
		ms, err := strconv.Atoi(ts[i+1:])
		if err != nil {
			return 0
		}
		frac = time.Duration(ms) * time.Millisecond
		ts = ts[:i]
	}

	fields := strings.Split(ts, ":")
	if len(fields) < 2 || len(fields) > 3 {
		return 0
	}
	var secs int
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 {
			return 0
		}
		secs = secs*60 + n
	}
	return time.Duration(secs)*time.Second + frac
}
