package queue_test

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"photoqueue/internal/logging"
	"photoqueue/internal/queue"
)

var fixedModTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func mediaFile(name string, size int64) queue.FileRef {
	return queue.FileRef{
		Name:     name,
		MIMEType: "image/jpeg",
		Size:     size,
		ModTime:  fixedModTime,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("payload")), nil
		},
	}
}

func testOptions() queue.Options {
	return queue.Options{
		Concurrency:         3,
		MaxAttempts:         3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     5 * time.Millisecond,
		CancelGrace:         50 * time.Millisecond,
	}
}

type uploadScript func(ctx context.Context, file queue.FileRef, attempt int, progress queue.ProgressFunc) (queue.Result, error)

// scriptedUploader counts attempts per file name and tracks concurrency.
type scriptedUploader struct {
	script uploadScript

	mu          sync.Mutex
	attempts    map[string]int
	inFlight    int
	maxInFlight int
}

func newScriptedUploader(script uploadScript) *scriptedUploader {
	return &scriptedUploader{script: script, attempts: make(map[string]int)}
}

func (u *scriptedUploader) Upload(ctx context.Context, file queue.FileRef, progress queue.ProgressFunc) (queue.Result, error) {
	u.mu.Lock()
	u.attempts[file.Name]++
	attempt := u.attempts[file.Name]
	u.inFlight++
	if u.inFlight > u.maxInFlight {
		u.maxInFlight = u.inFlight
	}
	u.mu.Unlock()

	defer func() {
		u.mu.Lock()
		u.inFlight--
		u.mu.Unlock()
	}()

	if u.script == nil {
		progress(1)
		return queue.Result{RemoteID: "remote-" + file.Name}, nil
	}
	return u.script(ctx, file, attempt, progress)
}

func (u *scriptedUploader) attemptsFor(name string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.attempts[name]
}

func (u *scriptedUploader) stats() (inFlight, maxInFlight int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.inFlight, u.maxInFlight
}

func newStartedManager(t *testing.T, opts queue.Options, uploader queue.Uploader) *queue.Manager {
	t.Helper()
	m := queue.NewManager(opts, uploader, logging.NewNop())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	t.Cleanup(m.Stop)
	return m
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func waitForStatus(t *testing.T, m *queue.Manager, id string, want queue.Status) queue.Task {
	t.Helper()
	var task queue.Task
	waitFor(t, "task "+id+" to reach "+string(want), func() bool {
		var ok bool
		task, ok = m.Task(id)
		return ok && task.Status == want
	})
	return task
}

// recorder collects events from a subscription.
type recorder struct {
	mu     sync.Mutex
	events []queue.Event
}

func record(m *queue.Manager) *recorder {
	r := &recorder{}
	m.Subscribe(func(ev queue.Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	})
	return r
}

// sorted returns events in Seq order.
func (r *recorder) sorted() []queue.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]queue.Event(nil), r.events...)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (r *recorder) statusesFor(id string) []queue.Status {
	var out []queue.Status
	for _, ev := range r.sorted() {
		if ev.Task == nil || ev.Task.ID != id {
			continue
		}
		if ev.Kind == queue.EventTaskAdded || ev.Kind == queue.EventTaskUpdated {
			out = append(out, ev.Task.Status)
		}
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
