package server

import (
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/patternlab/internal/chunk"
	"github.com/MrWong99/patternlab/internal/pipeline"
)

// Status is the externally visible state of a run started through the API.
type Status struct {
	ID          string                     `json:"id"`
	State       pipeline.State             `json:"state"`
	Method      pipeline.Method            `json:"method,omitempty"`
	Current     int                        `json:"current"`
	Total       int                        `json:"total"`
	Pattern     string                     `json:"pattern,omitempty"`
	Description string                     `json:"description,omitempty"`
	Meta        chunk.SourceMeta           `json:"meta"`
	StartedAt   time.Time                  `json:"started_at"`
	FinishedAt  time.Time                  `json:"finished_at,omitzero"`
	Successful  int                        `json:"successful"`
	Folder      string                     `json:"folder,omitempty"`
	Error       string                     `json:"error,omitempty"`
	Results     map[string]pipeline.Result `json:"results,omitempty"`
}

// Tracker keeps the status of runs in memory. It implements
// [pipeline.Publisher] so progress events update it as they happen.
type Tracker struct {
	mu   sync.RWMutex
	runs map[string]*Status
	now  func() time.Time
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{runs: make(map[string]*Status), now: time.Now}
}

// Start registers a new run.
func (t *Tracker) Start(id string, meta chunk.SourceMeta, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[id] = &Status{
		ID:        id,
		State:     pipeline.StateStarting,
		Total:     total,
		Meta:      meta,
		StartedAt: t.now(),
	}
}

// Publish implements [pipeline.Publisher].
func (t *Tracker) Publish(e pipeline.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.runs[e.RunID]
	if !ok {
		return
	}
	if s.State.IsTerminal() {
		return
	}
	s.Method = e.Method
	s.Current = e.Current
	s.Total = e.Total
	switch e.Type {
	case pipeline.EventPatternCompleted:
		s.State = e.State
		s.Pattern = e.Pattern
		s.Description = e.Description
	case pipeline.EventRunFailed:
		s.Error = e.Description
	case pipeline.EventRunCompleted:
		// The terminal state is set by Finish once outputs are stored.
	default:
		s.State = e.State
	}
}

// Finish records the outcome of a run. folder is where its files were
// written, empty if they were not.
func (t *Tracker) Finish(run *pipeline.Run, folder string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.runs[run.ID]
	if !ok {
		return
	}
	s.State = run.State
	s.Method = run.Method
	s.Current = run.Completed
	s.Total = run.Total
	s.Successful = run.Successful
	s.Results = run.Results
	s.Folder = folder
	s.FinishedAt = t.now()
	if err != nil {
		s.Error = err.Error()
	}
}

// Get returns a copy of the status of id.
func (t *Tracker) Get(id string) (Status, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.runs[id]
	if !ok {
		return Status{}, false
	}
	return *s, true
}

// List returns every tracked run, newest first, without results.
func (t *Tracker) List() []Status {
	t.mu.RLock()
	out := make([]Status, 0, len(t.runs))
	for _, s := range t.runs {
		c := *s
		c.Results = nil
		out = append(out, c)
	}
	t.mu.RUnlock()
	slices.SortFunc(out, func(a, b Status) int { return b.StartedAt.Compare(a.StartedAt) })
	return out
}
