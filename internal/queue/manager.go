package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"photoqueue/internal/logging"
)

// Manager owns the upload tasks of one session.
type Manager struct {
	opts     Options
	uploader Uploader
	logger   *slog.Logger

	mu      sync.Mutex
	tasks   []*entry
	byID    map[string]*entry
	pending map[fileKey]*entry
	active  int
	seq     uint64
	subs    []*subscription

	wake chan struct{}

	running  bool
	cancel   context.CancelFunc
	loopDone chan struct{}
	uploads  *sync.WaitGroup
}

type entry struct {
	task Task

	// run identifies the current upload run. Results reported for any other
	// run are discarded.
	run          uint64
	cancel       context.CancelFunc
	canceling    bool
	runAttempts  int
	lastProgress float64
	sampler      *logging.ProgressSampler

	// retried is set by Retry, which counts the next attempt up front.
	retried bool
}

// NewManager constructs a queue that uploads through uploader.
func NewManager(opts Options, uploader Uploader, logger *slog.Logger) *Manager {
	return &Manager{
		opts:     opts.withDefaults(),
		uploader: uploader,
		logger:   logging.NewComponentLogger(logger, "queue"),
		byID:     make(map[string]*entry),
		pending:  make(map[fileKey]*entry),
		wake:     make(chan struct{}, 1),
	}
}

// Options returns the effective policy.
func (m *Manager) Options() Options {
	return m.opts
}

// AddFiles validates, deduplicates, and enqueues files. It is the single
// entry point for every ingestion surface. A file matching a task that is not
// succeeded or canceled resolves to that task, including a failed one. Subscribers have seen a
// task_added event for each new task, and a files_rejected event when
// anything was refused, before AddFiles returns.
func (m *Manager) AddFiles(files []FileRef) AddResult {
	var (
		result AddResult
		events []Event
	)
	now := m.opts.Now()

	m.mu.Lock()
	for _, file := range files {
		if rejection := m.opts.validate(file); rejection != nil {
			result.Rejected = append(result.Rejected, *rejection)
			continue
		}
		if existing, ok := m.pending[file.key()]; ok {
			result.Tasks = append(result.Tasks, existing.task.clone())
			result.Duplicates++
			continue
		}
		e := &entry{
			task: Task{
				ID:         m.opts.NewID(),
				File:       file,
				Status:     StatusQueued,
				EnqueuedAt: now,
				UpdatedAt:  now,
			},
			sampler: logging.NewProgressSampler(25),
		}
		m.tasks = append(m.tasks, e)
		m.byID[e.task.ID] = e
		m.pending[file.key()] = e
		result.Tasks = append(result.Tasks, e.task.clone())
		result.Created++
		events = append(events, m.newEventLocked(EventTaskAdded, e, ""))
	}
	if len(result.Rejected) > 0 {
		ev := m.newEventLocked(EventFilesRejected, nil, "")
		ev.Rejected = append([]Rejection(nil), result.Rejected...)
		events = append(events, ev)
	}
	m.unlockAndPublish(events)

	if result.Created > 0 {
		m.signal()
	}
	if len(files) > 0 {
		m.logger.Info("files added to upload queue",
			logging.String(logging.FieldEventType, "files_added"),
			logging.Int("submitted", len(files)),
			logging.Int("created", result.Created),
			logging.Int("duplicates", result.Duplicates),
			logging.Int("rejected", len(result.Rejected)),
		)
	}
	for _, rejection := range result.Rejected {
		logging.WarnWithContext(m.logger, "file rejected", "file_rejected",
			logging.String(logging.FieldFile, rejection.File.Name),
			logging.String("reason", string(rejection.Reason)),
			logging.String("detail", rejection.Message),
			logging.String(logging.FieldImpact, "file was not queued for upload"),
			logging.String(logging.FieldErrorHint, "only images and videos within the size limit are uploaded"),
		)
	}
	return result
}

// Retry requeues a failed task. Progress and failure are cleared, Attempts
// and Retries are incremented, and the automatic attempt budget starts over. Any other status returns
// ErrInvalidState and leaves the task unchanged.
func (m *Manager) Retry(id string) error {
	m.mu.Lock()
	e, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if e.task.Status != StatusFailed {
		status := e.task.Status
		m.mu.Unlock()
		return fmt.Errorf("%w: task %s is %s", ErrInvalidState, id, status)
	}
	ev := m.retryLocked(e)
	m.unlockAndPublish([]Event{ev})
	m.signal()
	m.logger.Info("upload retry requested",
		logging.String(logging.FieldTaskID, id),
		logging.String(logging.FieldEventType, "retry_requested"),
	)
	return nil
}

// RetryFailed requeues every failed task and returns how many were requeued.
func (m *Manager) RetryFailed() int {
	m.mu.Lock()
	var events []Event
	for _, e := range m.tasks {
		if e.task.Status == StatusFailed {
			events = append(events, m.retryLocked(e))
		}
	}
	m.unlockAndPublish(events)
	if len(events) > 0 {
		m.signal()
		m.logger.Info("failed uploads requeued",
			logging.Int("count", len(events)),
			logging.String(logging.FieldEventType, "retry_requested"),
		)
	}
	return len(events)
}

func (m *Manager) retryLocked(e *entry) Event {
	e.task.Failure = nil
	e.task.Result = nil
	e.task.Progress = 0
	e.task.Retries++
	e.task.Attempts++
	e.retried = true
	e.lastProgress = 0
	e.sampler.Reset()
	ev, _ := m.transitionLocked(e, StatusQueued)
	return ev
}

// Cancel stops a task. A queued task is canceled at once and never starts.
// An uploading task has its attempt context canceled and becomes canceled
// when the attempt returns or after CancelGrace, whichever comes first; a
// result arriving later is discarded. Finished tasks return ErrInvalidState.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	e, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	switch e.task.Status {
	case StatusQueued:
		ev, _ := m.transitionLocked(e, StatusCanceled)
		m.unlockAndPublish([]Event{ev})
		m.logger.Info("queued upload canceled",
			logging.String(logging.FieldTaskID, id),
			logging.String(logging.FieldEventType, "upload_canceled"),
		)
		return nil
	case StatusUploading:
		if !e.canceling {
			e.canceling = true
			if e.cancel != nil {
				e.cancel()
			}
			run := e.run
			time.AfterFunc(m.opts.CancelGrace, func() { m.forceCancel(e, run) })
		}
		m.mu.Unlock()
		m.logger.Info("upload cancellation requested",
			logging.String(logging.FieldTaskID, id),
			logging.String(logging.FieldEventType, "cancel_requested"),
		)
		return nil
	default:
		status := e.task.Status
		m.mu.Unlock()
		return fmt.Errorf("%w: task %s is %s", ErrInvalidState, id, status)
	}
}

// forceCancel finishes a canceled upload whose transport ignored the context.
func (m *Manager) forceCancel(e *entry, run uint64) {
	m.mu.Lock()
	if e.run != run || e.task.Status != StatusUploading {
		m.mu.Unlock()
		return
	}
	e.run++
	ev, _ := m.transitionLocked(e, StatusCanceled)
	m.unlockAndPublish([]Event{ev})
	m.signal()
	logging.WarnWithContext(m.logger, "upload did not stop within grace period", "cancel_forced",
		logging.String(logging.FieldTaskID, e.task.ID),
		logging.Duration("grace", m.opts.CancelGrace),
		logging.String(logging.FieldImpact, "task marked canceled; any late transport result is ignored"),
		logging.String(logging.FieldErrorHint, "the transport should honour context cancellation"),
	)
}

// Snapshot returns copies of all tasks in enqueue order.
func (m *Manager) Snapshot() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Task, 0, len(m.tasks))
	for _, e := range m.tasks {
		out = append(out, e.task.clone())
	}
	return out
}

// Task returns a copy of one task.
func (m *Manager) Task(id string) (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return Task{}, false
	}
	return e.task.clone(), true
}

// Summary returns task counts per status.
func (m *Manager) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summaryLocked()
}

func (m *Manager) summaryLocked() Summary {
	var summary Summary
	for _, e := range m.tasks {
		summary.add(e.task.Status)
	}
	return summary
}

// Prune evicts finished tasks enqueued more than olderThan ago and returns
// how many were removed. Queued and uploading tasks are never evicted.
func (m *Manager) Prune(olderThan time.Duration) int {
	m.mu.Lock()
	events := m.evictLocked(m.opts.Now().Add(-olderThan))
	m.unlockAndPublish(events)
	if len(events) > 0 {
		m.logger.Info("finished tasks pruned",
			logging.Int("count", len(events)),
			logging.String(logging.FieldEventType, "tasks_pruned"),
		)
	}
	return len(events)
}

func (m *Manager) evictLocked(cutoff time.Time) []Event {
	var evicted []*entry
	kept := make([]*entry, 0, len(m.tasks))
	for _, e := range m.tasks {
		if e.task.Status.IsFinished() && e.task.EnqueuedAt.Before(cutoff) {
			delete(m.byID, e.task.ID)
			if key := e.task.File.key(); m.pending[key] == e {
				delete(m.pending, key)
			}
			evicted = append(evicted, e)
			continue
		}
		kept = append(kept, e)
	}
	if len(evicted) == 0 {
		return nil
	}
	m.tasks = kept
	events := make([]Event, 0, len(evicted))
	for _, e := range evicted {
		events = append(events, m.newEventLocked(EventTaskEvicted, e, ""))
	}
	return events
}

// transitionLocked moves e to status to, keeping the active count, the
// duplicate index, and timestamps consistent. Leaving uploading releases the
// run context. Callers hold m.mu.
func (m *Manager) transitionLocked(e *entry, to Status) (Event, bool) {
	from := e.task.Status
	if !canTransition(from, to) {
		return Event{}, false
	}
	now := m.opts.Now()
	key := e.task.File.key()

	if from == StatusUploading {
		m.active--
		if e.cancel != nil {
			e.cancel()
		}
		e.cancel = nil
		e.canceling = false
	}
	switch to {
	case StatusUploading:
		m.active++
		e.task.StartedAt = now
	case StatusQueued:
		e.task.StartedAt = time.Time{}
		e.task.FinishedAt = time.Time{}
		if _, taken := m.pending[key]; !taken {
			m.pending[key] = e
		}
	case StatusFailed:
		e.task.FinishedAt = now
	case StatusSucceeded, StatusCanceled:
		e.task.FinishedAt = now
		if m.pending[key] == e {
			delete(m.pending, key)
		}
	}
	e.task.Status = to
	e.task.UpdatedAt = now
	return m.newEventLocked(EventTaskUpdated, e, from), true
}

// signal wakes the scheduler without blocking.
func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}
