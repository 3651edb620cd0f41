package ingest_test

import (
	"sync"
	"testing"
	"time"

	"photoqueue/internal/queue"
)

type recordingSink struct {
	mu    sync.Mutex
	files []queue.FileRef
	calls int
}

func (s *recordingSink) AddFiles(files []queue.FileRef) queue.AddResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.files = append(s.files, files...)
	tasks := make([]queue.Task, len(files))
	for i, file := range files {
		tasks[i] = queue.Task{ID: file.Name, File: file, Status: queue.StatusQueued}
	}
	return queue.AddResult{Tasks: tasks, Created: len(files)}
}

func (s *recordingSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.files))
	for i, file := range s.files {
		out[i] = file.Name
	}
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
