package executor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode"
)

// SimulatedRunner produces clearly labelled placeholder output for any
// pattern. It is used when the real tool is unavailable so a run can still
// demonstrate the full flow.
type SimulatedRunner struct {
	// Delay, if set, is waited before each result.
	Delay time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// Run implements [Runner].
func (r *SimulatedRunner) Run(ctx context.Context, pattern, model, inputPath string) (string, error) {
	if r.Delay > 0 {
		if err := sleepContext(ctx, r.Delay); err != nil {
			return "", err
		}
	}
	var size int64
	if fi, err := os.Stat(inputPath); err == nil {
		size = fi.Size()
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	return Placeholder(pattern, model, size, now()), nil
}

// Placeholder renders the simulated document for pattern.
func Placeholder(pattern, model string, inputBytes int64, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", Title(pattern))
	fmt.Fprintf(&b, "This is a simulated output for pattern: **%s**\n\n", pattern)
	b.WriteString("## Simulated Analysis\n\n")
	fmt.Fprintf(&b, "This pattern would normally process the %d-byte transcript with model `%s` and extract information following the %s methodology.\n\n",
		inputBytes, model, pattern)
	b.WriteString("Key insights would include:\n")
	b.WriteString("- Analysis of transcript content\n")
	b.WriteString("- Extraction of relevant patterns\n")
	b.WriteString("- Structured markdown output\n\n")
	b.WriteString("**Note**: This is a simulation. The pattern tool was not available when this run started.\n\n")
	fmt.Fprintf(&b, "*Generated at: %s*\n", at.UTC().Format(time.RFC3339))
	return b.String()
}

// Title turns "extract_wisdom" into "Extract Wisdom".
func Title(pattern string) string {
	words := strings.FieldsFunc(pattern, func(r rune) bool { return r == '_' || r == '-' || unicode.IsSpace(r) })
	for i, w := range words {
		rs := []rune(w)
		rs[0] = unicode.ToUpper(rs[0])
		words[i] = string(rs)
	}
	return strings.Join(words, " ")
}
