package pipeline

import (
	"fmt"
	"strings"

	"github.com/MrWong99/patternlab/internal/chunk"
	"github.com/MrWong99/patternlab/internal/format"
	"github.com/MrWong99/patternlab/internal/pattern"
)

// contextHeader is prepended to an unchunked transcript so the pattern sees
// what kind of content it is working on.
func contextHeader(t *format.Transcript, meta chunk.SourceMeta) string {
	var b strings.Builder
	b.WriteString("# Content Analysis\n\n")
	if meta.Title != "" {
		fmt.Fprintf(&b, "**Title**: %s\n", meta.Title)
	}
	if meta.Uploader != "" {
		fmt.Fprintf(&b, "**Channel**: %s\n", meta.Uploader)
	}
	if meta.URL != "" {
		fmt.Fprintf(&b, "**URL**: %s\n", meta.URL)
	}
	contentType := meta.ContentType
	if contentType == "" {
		contentType = string(t.ContentType)
	}
	fmt.Fprintf(&b, "**Content Type**: %s\n", contentType)
	fmt.Fprintf(&b, "**Original Format**: %s\n", t.Format)
	if len(t.Speakers) > 0 {
		fmt.Fprintf(&b, "**Speakers**: %s\n", strings.Join(t.Speakers, ", "))
	}
	if t.HasDuration() {
		fmt.Fprintf(&b, "**Estimated Duration**: %s\n", format.FormatDuration(t.Duration))
	}
	b.WriteString("\n## Content Transcript\n\n")
	return b.String()
}

// failureDocument is stored in place of a pattern's output when it fails.
func failureDocument(p pattern.Pattern, err error) string {
	return fmt.Sprintf("# Error executing %s\n\n%s\n\nThis pattern failed to process the transcript content. "+
		"The transcript was normalized successfully but the pattern execution encountered an issue. "+
		"Results for the other patterns are unaffected.\n", p.Name, err)
}

// failedChunksNote lists chunks that were left out of an aggregated result.
func failedChunksNote(failed []int, total int, errs []error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n\n---\n**Incomplete**: %d of %d parts could not be processed and are not reflected above:\n", len(failed), total)
	for i, idx := range failed {
		fmt.Fprintf(&b, "- Part %d: %v\n", idx+1, errs[i])
	}
	return strings.TrimRight(b.String(), "\n")
}
