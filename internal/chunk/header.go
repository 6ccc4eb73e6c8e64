package chunk

import (
	"fmt"
	"strings"
)

// SourceMeta is optional context about where a transcript came from. It is
// restated in every chunk header so each independent pattern call has some
// orientation.
type SourceMeta struct {
	Title       string `json:"title,omitempty"`
	URL         string `json:"url,omitempty"`
	Uploader    string `json:"uploader,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// IsZero reports whether no field is set.
func (m SourceMeta) IsZero() bool {
	return m == SourceMeta{}
}

// Header returns the orientation header for the chunk at 0-based index out of
// total.
func Header(meta SourceMeta, index, total int) string {
	part := index + 1
	var b strings.Builder
	if meta.IsZero() {
		fmt.Fprintf(&b, "# Transcript Analysis - Part %d of %d\n\n", part, total)
		return b.String()
	}

	fmt.Fprintf(&b, "# Content Analysis - Part %d of %d\n\n", part, total)
	fmt.Fprintf(&b, "**Title**: %s\n", orUnknown(meta.Title))
	fmt.Fprintf(&b, "**Channel**: %s\n", orUnknown(meta.Uploader))
	fmt.Fprintf(&b, "**URL**: %s\n", orUnknown(meta.URL))
	if meta.ContentType != "" {
		fmt.Fprintf(&b, "**Content Type**: %s\n", meta.ContentType)
	}
	fmt.Fprintf(&b, "**Part**: %d/%d\n\n", part, total)
	if index == 0 {
		fmt.Fprintf(&b, "**Note**: This is a long transcript that has been split into %d parts for processing.\n\n", total)
	}
	fmt.Fprintf(&b, "## Transcript (Part %d)\n\n", part)
	return b.String()
}

// Prefixed returns the text of each chunk preceded by its [Header].
func Prefixed(chunks []Chunk, meta SourceMeta) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = Header(meta, c.Index, c.Total) + c.Text
	}
	return out
}

// ProcessingInfo is the footer appended to an aggregated result.
func ProcessingInfo(s Stats) string {
	return fmt.Sprintf("\n\n---\n**Processing Info**: This content was processed in %d chunks due to length (%s estimated tokens).",
		s.Chunks, groupThousands(s.OriginalTokens))
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func groupThousands(n int) string {
	s := fmt.Sprint(n)
	if n < 0 {
		return s
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}
