package history_test

import (
	"context"
	"testing"
	"time"

	"photoqueue/internal/history"
	"photoqueue/internal/queue"
	"photoqueue/internal/testsupport"
)

func TestRecorderJournalsTerminalTransitions(t *testing.T) {
	store := testsupport.MustOpenHistory(t, testsupport.NewConfig(t))
	recorder := history.NewRecorder(store, nil)

	done := queue.Task{
		ID:         "t1",
		File:       queue.FileRef{Name: "a.jpg", Size: 10, MIMEType: "image/jpeg"},
		Status:     queue.StatusSucceeded,
		Attempts:   2,
		Result:     &queue.Result{RemoteID: "r1", Message: "Uploaded"},
		FinishedAt: base,
	}
	failed := queue.Task{
		ID:       "t2",
		File:     queue.FileRef{Name: "b.jpg"},
		Status:   queue.StatusFailed,
		Failure:  &queue.Failure{Kind: queue.FailureTransient, Reason: queue.ReasonTimeout, Message: "timed out"},
		Attempts: 3,
	}
	uploading := queue.Task{ID: "t3", File: queue.FileRef{Name: "c.jpg"}, Status: queue.StatusUploading}

	events := []queue.Event{
		{Kind: queue.EventTaskAdded, Task: &uploading, At: base},
		{Kind: queue.EventTaskUpdated, Task: &uploading, Previous: queue.StatusQueued, At: base},
		{Kind: queue.EventTaskUpdated, Task: &done, Previous: queue.StatusUploading, At: base},
		{Kind: queue.EventTaskUpdated, Task: &failed, Previous: queue.StatusUploading, At: base.Add(time.Minute)},
	}
	for _, ev := range events {
		recorder.Handle(ev)
	}

	entries, err := store.Recent(context.Background(), history.Filter{})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 journal entries, got %d", len(entries))
	}
	if entries[0].TaskID != "t2" || entries[0].FailureReason != "timeout" || !entries[0].FinishedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("unexpected failed entry: %+v", entries[0])
	}
	if entries[1].TaskID != "t1" || entries[1].RemoteID != "r1" || entries[1].Message != "Uploaded" || entries[1].Attempts != 2 {
		t.Fatalf("unexpected success entry: %+v", entries[1])
	}
}
