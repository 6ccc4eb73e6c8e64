package output

import (
	"archive/zip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/patternlab/internal/chunk"
	"github.com/MrWong99/patternlab/internal/format"
	"github.com/MrWong99/patternlab/internal/pattern"
	"github.com/MrWong99/patternlab/internal/pipeline"
)

var fixedTime = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func testRun() (*pipeline.Run, *pattern.Catalog) {
	cat := pattern.MustCatalog([]pattern.Pattern{
		{Name: "youtube_summary", Phase: pattern.PhasePrimaryExtraction, Description: "Summary", Filename: "01-youtube_summary.txt"},
		{Name: "extract_wisdom", Phase: pattern.PhaseContentAnalysis, Description: "Wisdom", Filename: "03-extract_wisdom.txt"},
	})
	run := &pipeline.Run{
		ID:         "6f1c2a9e-0000-4000-8000-000000000000",
		State:      pipeline.StateCompleted,
		Method:     pipeline.MethodDirect,
		Total:      2,
		Completed:  2,
		Successful: 1,
		Elapsed:    42 * time.Second,
		Meta:       chunk.SourceMeta{Title: "How to Learn: Anything!", URL: "https://example.com/v"},
		Results: map[string]pipeline.Result{
			"01-youtube_summary.txt": {Content: "# Summary\n\nText.", Pattern: "youtube_summary"},
			"03-extract_wisdom.txt":  {Content: "# Error executing extract_wisdom", Pattern: "extract_wisdom", Error: true},
		},
		Transcript: &format.Transcript{
			Format:      format.FormatSpeakerLabeled,
			ContentType: format.ContentInterview,
			Speakers:    []string{"Host", "Guest"},
			Notes:       []string{"Original format: speaker-labeled"},
		},
	}
	return run, cat
}

// ── naming ───────────────────────────────────────────────────────────────────

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"How to Learn: Anything!", "How-to-Learn-Anything"},
		{"  spaces   and -- hyphens ", "spaces-and-hyphens"},
		{"", "Untitled"},
		{"???", "Untitled"},
		{strings.Repeat("word ", 20), strings.TrimRight(strings.Repeat("word-", 10), "-")},
	}
	for _, tt := range tests {
		if got := SanitizeTitle(tt.in); got != tt.want {
			t.Errorf("SanitizeTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFolderAndDownloadName(t *testing.T) {
	meta := chunk.SourceMeta{Title: "Deep Work"}
	if got := FolderName(meta, "6f1c2a9e-1111", fixedTime); got != "2026-03-14_Deep-Work_6f1c2a9e" {
		t.Errorf("FolderName = %q", got)
	}
	if got := DownloadName(meta, "6f1c2a9e-1111"); got != "Deep-Work_analysis_6f1c2a9e.zip" {
		t.Errorf("DownloadName = %q", got)
	}
}

func TestDir_RejectsEscapes(t *testing.T) {
	w := NewWriter(t.TempDir())
	for _, name := range []string{"", ".", "..", "../etc", `a\b`, "a/b"} {
		if _, err := w.Dir(name); !errors.Is(err, ErrInvalidFolder) {
			t.Errorf("Dir(%q) err = %v, want ErrInvalidFolder", name, err)
		}
	}
}

// ── write / archive / history ────────────────────────────────────────────────

func TestWrite(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, WithClock(func() time.Time { return fixedTime }))
	run, cat := testRun()

	folder, err := w.Write(run, cat)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if folder != "2026-03-14_How-to-Learn-Anything_6f1c2a9e" {
		t.Errorf("folder = %q", folder)
	}

	data, err := os.ReadFile(filepath.Join(root, folder, "01-youtube_summary.txt"))
	if err != nil || string(data) != "# Summary\n\nText." {
		t.Errorf("pattern file = %q, %v", data, err)
	}

	index, err := os.ReadFile(filepath.Join(root, folder, IndexName))
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	for _, want := range []string{
		"**Title**: How to Learn: Anything!",
		"**Run ID**: " + run.ID,
		"**Speakers**: Host, Guest",
		"**Successful Patterns**: 1/2",
		"### Phase 1: Primary Extraction",
		"### Phase 2: Content Analysis",
		"- **03-extract_wisdom.txt** - Wisdom (failed)",
		"- Original format: speaker-labeled",
	} {
		if !strings.Contains(string(index), want) {
			t.Errorf("index missing %q", want)
		}
	}
}

func TestArchive(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, WithClock(func() time.Time { return fixedTime }))
	run, cat := testRun()
	folder, err := w.Write(run, cat)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	path, err := w.Archive(folder)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
		if f.Name == "01-youtube_summary.txt" {
			rc, _ := f.Open()
			data, _ := io.ReadAll(rc)
			rc.Close()
			if string(data) != "# Summary\n\nText." {
				t.Errorf("archived content = %q", data)
			}
		}
	}
	slices.Sort(names)
	want := []string{"01-youtube_summary.txt", "03-extract_wisdom.txt", IndexName}
	if !slices.Equal(names, want) {
		t.Errorf("archive entries = %v, want %v", names, want)
	}

	again, err := w.Archive(folder)
	if err != nil || again != path {
		t.Errorf("second Archive = %q, %v", again, err)
	}
}

func TestHistory(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root, WithClock(func() time.Time { return fixedTime }))

	if entries, err := NewWriter(filepath.Join(root, "missing")).History(); err != nil || entries != nil {
		t.Errorf("missing root: %v, %v", entries, err)
	}

	run, cat := testRun()
	folder, err := w.Write(run, cat)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := w.Archive(folder); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	entries, err := w.History()
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Folder != folder || e.Files != 2 || !e.HasArchive || e.Size == 0 {
		t.Errorf("entry = %+v", e)
	}
	if e.Title != "How to Learn: Anything!" || e.RunID != run.ID || e.Method != string(pipeline.MethodDirect) {
		t.Errorf("index fields = %+v", e)
	}

	if got, ok := w.FindRun(run.ID); !ok || got != folder {
		t.Errorf("FindRun = %q, %v", got, ok)
	}
	if _, ok := w.FindRun("unknown"); ok {
		t.Error("FindRun should not find unknown runs")
	}
}
