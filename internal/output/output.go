// Package output persists finished runs: one file per pattern plus an
// index.md in a descriptively named folder, and a zip archive of that folder
// for download.
package output

import (
	"archive/zip"
	"bufio"
	"compress/flate"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/patternlab/internal/chunk"
	"github.com/MrWong99/patternlab/internal/format"
	"github.com/MrWong99/patternlab/internal/pattern"
	"github.com/MrWong99/patternlab/internal/pipeline"
)

const (
	// ArchiveName is the zip file created inside a run folder.
	ArchiveName = "analysis.zip"

	// IndexName is the summary file written next to the pattern outputs.
	IndexName = "index.md"

	maxTitleLen = 50
	shortIDLen  = 8
)

// ErrInvalidFolder is returned for folder names that would escape the root.
var ErrInvalidFolder = errors.New("output: invalid folder name")

var (
	titleStripRe  = regexp.MustCompile(`[^\w\s-]`)
	titleSpaceRe  = regexp.MustCompile(`\s+`)
	titleHyphenRe = regexp.MustCompile(`-+`)
	indexFieldRe  = regexp.MustCompile(`^\*\*([^*]+)\*\*:\s*(.*)$`)
)

// SanitizeTitle turns a free-form title into a filesystem-friendly slug of at
// most 50 bytes.
func SanitizeTitle(title string) string {
	s := titleStripRe.ReplaceAllString(title, "")
	s = titleSpaceRe.ReplaceAllString(strings.TrimSpace(s), "-")
	s = titleHyphenRe.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxTitleLen {
		s = strings.TrimRight(s[:maxTitleLen], "-")
	}
	if s == "" {
		return "Untitled"
	}
	return s
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > shortIDLen {
		return id[:shortIDLen]
	}
	return id
}

// FolderName returns "<date>_<title>_<short id>".
func FolderName(meta chunk.SourceMeta, runID string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s", at.Format(time.DateOnly), SanitizeTitle(meta.Title), shortID(runID))
}

// DownloadName is the file name offered for a run's archive.
func DownloadName(meta chunk.SourceMeta, runID string) string {
	return fmt.Sprintf("%s_analysis_%s.zip", SanitizeTitle(meta.Title), shortID(runID))
}

// ─────────────────────────────────────────────────────────────────────────────
// Writer
// ─────────────────────────────────────────────────────────────────────────────

// Writer stores runs below a root directory.
type Writer struct {
	root string
	now  func() time.Time
}

// Option configures a [Writer].
type Option func(*Writer)

// WithClock overrides the time used for folder names and index dates.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// NewWriter returns a Writer rooted at root. The directory is created on the
// first write.
func NewWriter(root string, opts ...Option) *Writer {
	w := &Writer{root: root, now: time.Now}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Root returns the root directory.
func (w *Writer) Root() string { return w.root }

// Dir resolves folder below the root.
func (w *Writer) Dir(folder string) (string, error) {
	if folder == "" || folder == "." || folder == ".." || strings.ContainsAny(folder, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFolder, folder)
	}
	return filepath.Join(w.root, folder), nil
}

// Write stores every result of run and an index, returning the folder name.
func (w *Writer) Write(run *pipeline.Run, cat *pattern.Catalog) (string, error) {
	at := w.now()
	folder := FolderName(run.Meta, run.ID, at)
	dir, err := w.Dir(folder)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("output: create folder: %w", err)
	}

	for filename, res := range run.Results {
		if filepath.Base(filename) != filename {
			return "", fmt.Errorf("output: result filename %q: %w", filename, ErrInvalidFolder)
		}
		if err := os.WriteFile(filepath.Join(dir, filename), []byte(res.Content), 0o644); err != nil {
			return "", fmt.Errorf("output: write %s: %w", filename, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, IndexName), []byte(Index(run, cat, at)), 0o644); err != nil {
		return "", fmt.Errorf("output: write index: %w", err)
	}
	return folder, nil
}

// Index renders the index.md for run.
func Index(run *pipeline.Run, cat *pattern.Catalog, at time.Time) string {
	var b strings.Builder
	b.WriteString("# Transcript Analysis Results\n\n")
	fmt.Fprintf(&b, "**Title**: %s\n", orUnknown(run.Meta.Title))
	if run.Meta.Uploader != "" {
		fmt.Fprintf(&b, "**Channel**: %s\n", run.Meta.Uploader)
	}
	if run.Meta.URL != "" {
		fmt.Fprintf(&b, "**URL**: %s\n", run.Meta.URL)
	}
	fmt.Fprintf(&b, "**Run ID**: %s\n", run.ID)
	fmt.Fprintf(&b, "**Processing Date**: %s\n", at.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "**Method**: %s\n", run.Method)
	if t := run.Transcript; t != nil {
		fmt.Fprintf(&b, "**Original Format**: %s\n", t.Format)
		fmt.Fprintf(&b, "**Content Type**: %s\n", t.ContentType)
		if len(t.Speakers) > 0 {
			fmt.Fprintf(&b, "**Speakers**: %s\n", strings.Join(t.Speakers, ", "))
		}
		if t.HasDuration() {
			fmt.Fprintf(&b, "**Duration**: %s\n", format.FormatDuration(t.Duration))
		}
	}
	fmt.Fprintf(&b, "**Successful Patterns**: %d/%d\n", run.Successful, run.Total)
	fmt.Fprintf(&b, "**Elapsed**: %s\n", run.Elapsed.Round(time.Second))

	b.WriteString("\n## Files Generated\n")
	phase := pattern.Phase(0)
	for _, p := range cat.Patterns() {
		res, ok := run.Results[p.Filename]
		if !ok {
			continue
		}
		if p.Phase != phase {
			phase = p.Phase
			fmt.Fprintf(&b, "\n### Phase %d: %s\n", int(phase), phase)
		}
		mark := ""
		if res.Error {
			mark = " (failed)"
		}
		fmt.Fprintf(&b, "- **%s** - %s%s\n", p.Filename, p.Description, mark)
	}

	if t := run.Transcript; t != nil && len(t.Notes)+len(t.Recommendations) > 0 {
		b.WriteString("\n## Processing Notes\n\n")
		for _, n := range t.Notes {
			fmt.Fprintf(&b, "- %s\n", n)
		}
		for _, r := range t.Recommendations {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

// ─────────────────────────────────────────────────────────────────────────────
// Archive
// ─────────────────────────────────────────────────────────────────────────────

// Archive zips the files of folder into folder/analysis.zip and returns its
// path. An existing archive is reused.
func (w *Writer) Archive(folder string) (string, error) {
	dir, err := w.Dir(folder)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, ArchiveName)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("output: read folder: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".archive-*")
	if err != nil {
		return "", fmt.Errorf("output: create archive: %w", err)
	}
	defer os.Remove(tmp.Name())

	zw := zip.NewWriter(tmp)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || name == ArchiveName || strings.HasPrefix(name, ".") {
			continue
		}
		if err := addFile(zw, dir, name); err != nil {
			tmp.Close()
			return "", err
		}
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("output: finish archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("output: finish archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("output: finish archive: %w", err)
	}
	return path, nil
}

func addFile(zw *zip.Writer, dir, name string) error {
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("output: archive %s: %w", name, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("output: archive %s: %w", name, err)
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("output: archive %s: %w", name, err)
	}
	hdr.Method = zip.Deflate
	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("output: archive %s: %w", name, err)
	}
	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("output: archive %s: %w", name, err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// History
// ─────────────────────────────────────────────────────────────────────────────

// Entry describes one stored run folder.
type Entry struct {
	Folder     string    `json:"folder"`
	Title      string    `json:"title,omitempty"`
	URL        string    `json:"url,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
	Method     string    `json:"method,omitempty"`
	Modified   time.Time `json:"modified"`
	Files      int       `json:"files"`
	HasArchive bool      `json:"has_archive"`
	Size       int64     `json:"size"`
}

// History lists stored runs, newest first. A missing root yields no entries.
func (w *Writer) History() ([]Entry, error) {
	dirs, err := os.ReadDir(w.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("output: read root: %w", err)
	}

	var out []Entry
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		e, err := w.entry(d.Name())
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int { return b.Modified.Compare(a.Modified) })
	return out, nil
}

func (w *Writer) entry(folder string) (Entry, error) {
	dir := filepath.Join(w.root, folder)
	info, err := os.Stat(dir)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{Folder: folder, Modified: info.ModTime()}

	files, err := os.ReadDir(dir)
	if err != nil {
		return Entry{}, err
	}
	for _, f := range files {
		if fi, err := f.Info(); err == nil && fi.Mode().IsRegular() {
			e.Size += fi.Size()
		}
		switch {
		case f.Name() == ArchiveName:
			e.HasArchive = true
		case strings.HasSuffix(f.Name(), ".txt"):
			e.Files++
		}
	}

	fields, err := readIndexFields(filepath.Join(dir, IndexName))
	if err == nil {
		e.Title = fields["Title"]
		e.URL = fields["URL"]
		e.RunID = fields["Run ID"]
		e.Method = fields["Method"]
	}
	return e, nil
}

// FindRun returns the folder holding runID.
func (w *Writer) FindRun(runID string) (string, bool) {
	entries, err := w.History()
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if e.RunID == runID {
			return e.Folder, true
		}
	}
	return "", false
}

// readIndexFields reads the "**Key**: value" header lines of an index.
func readIndexFields(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fields := make(map[string]string)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "## ") {
			break
		}
		if m := indexFieldRe.FindStringSubmatch(line); m != nil {
			fields[m[1]] = strings.TrimSpace(m[2])
		}
	}
	return fields, sc.Err()
}
