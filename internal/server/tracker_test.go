package server

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/patternlab/internal/chunk"
	"github.com/MrWong99/patternlab/internal/pipeline"
)

func TestTracker_Lifecycle(t *testing.T) {
	tr := NewTracker()
	tr.Publish(pipeline.Event{RunID: "ghost", Type: pipeline.EventRunStarted})
	if _, ok := tr.Get("ghost"); ok {
		t.Fatal("events for unknown runs must be ignored")
	}

	tr.Start("r1", chunk.SourceMeta{Title: "T"}, 2)
	tr.Publish(pipeline.Event{RunID: "r1", Type: pipeline.EventRunStarted, State: pipeline.StateStarting, Total: 2})
	tr.Publish(pipeline.Event{RunID: "r1", Type: pipeline.EventPatternCompleted, State: pipeline.StateProcessing,
		Current: 1, Total: 2, Pattern: "youtube_summary", Description: "Summary"})

	st, _ := tr.Get("r1")
	if st.State != pipeline.StateProcessing || st.Current != 1 || st.Pattern != "youtube_summary" {
		t.Errorf("status = %+v", st)
	}

	tr.Publish(pipeline.Event{RunID: "r1", Type: pipeline.EventRunCompleted, State: pipeline.StateCompleted, Current: 2, Total: 2})
	if st, _ := tr.Get("r1"); st.State != pipeline.StateProcessing {
		t.Errorf("state before Finish = %s, want processing", st.State)
	}

	run := &pipeline.Run{ID: "r1", State: pipeline.StateCompleted, Completed: 2, Total: 2, Successful: 2,
		Results: map[string]pipeline.Result{"a.txt": {}, "b.txt": {}}}
	tr.Finish(run, "folder", nil)
	st, _ = tr.Get("r1")
	if st.State != pipeline.StateCompleted || st.Folder != "folder" || st.Successful != 2 || st.FinishedAt.IsZero() {
		t.Errorf("finished status = %+v", st)
	}

	tr.Publish(pipeline.Event{RunID: "r1", Type: pipeline.EventPatternCompleted, State: pipeline.StateProcessing})
	if st, _ := tr.Get("r1"); st.State != pipeline.StateCompleted {
		t.Error("terminal runs must not change")
	}
}

func TestTracker_FailedRun(t *testing.T) {
	tr := NewTracker()
	tr.Start("r2", chunk.SourceMeta{}, 13)
	tr.Publish(pipeline.Event{RunID: "r2", Type: pipeline.EventRunFailed, State: pipeline.StateFailed, Description: "tool missing"})
	tr.Finish(&pipeline.Run{ID: "r2", State: pipeline.StateFailed, Total: 13}, "", errors.New("tool missing"))

	st, _ := tr.Get("r2")
	if st.State != pipeline.StateFailed || st.Error != "tool missing" {
		t.Errorf("status = %+v", st)
	}
}

func TestTracker_ListNewestFirst(t *testing.T) {
	tr := NewTracker()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	n := 0
	tr.now = func() time.Time { n++; return base.Add(time.Duration(n) * time.Minute) }

	tr.Start("old", chunk.SourceMeta{}, 1)
	tr.Start("new", chunk.SourceMeta{}, 1)
	list := tr.List()
	if len(list) != 2 || list[0].ID != "new" || list[1].ID != "old" {
		t.Errorf("List() = %+v", list)
	}
}
