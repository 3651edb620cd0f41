package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"photoqueue/internal/logging"
)

// EventKind identifies what changed.
type EventKind string

const (
	EventTaskAdded      EventKind = "task_added"
	EventTaskUpdated    EventKind = "task_updated"
	EventAttemptStarted EventKind = "attempt_started"
	EventTaskProgress   EventKind = "task_progress"
	EventFilesRejected  EventKind = "files_rejected"
	EventTaskEvicted    EventKind = "task_evicted"
)

// Event describes one queue change. Task is a copy and is nil for
// EventFilesRejected. Previous is set on EventTaskUpdated. Summary reflects
// the queue right after the change.
type Event struct {
	Seq      uint64
	Kind     EventKind
	Task     *Task
	Previous Status
	Rejected []Rejection
	Summary  Summary
	At       time.Time
}

type subscription struct {
	fn     func(Event)
	active atomic.Bool
}

func (s *subscription) deliver(ev Event, logger *slog.Logger) {
	if !s.active.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(logger, "queue subscriber panicked", "subscriber_panic",
				logging.String("event_kind", string(ev.Kind)),
				logging.String("panic", fmt.Sprint(r)),
				logging.String(logging.FieldErrorHint, "the subscriber skipped this event; other subscribers were unaffected"),
			)
		}
	}()
	s.fn(ev)
}

// Subscribe registers fn for every queue event and returns a function that
// removes it. fn runs outside the manager lock and may be called concurrently
// from upload goroutines; use Event.Seq to discard stale deliveries. The
// returned function is idempotent and safe to call from inside fn.
func (m *Manager) Subscribe(fn func(Event)) func() {
	if fn == nil {
		return func() {}
	}
	sub := &subscription{fn: fn}
	sub.active.Store(true)

	m.mu.Lock()
	subs := make([]*subscription, 0, len(m.subs)+1)
	subs = append(subs, m.subs...)
	m.subs = append(subs, sub)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			m.mu.Lock()
			defer m.mu.Unlock()
			remaining := make([]*subscription, 0, len(m.subs))
			for _, existing := range m.subs {
				if existing != sub {
					remaining = append(remaining, existing)
				}
			}
			m.subs = remaining
		})
	}
}

// Events delivers queue events on a channel until ctx ends. The backlog is
// unbounded so a slow reader never blocks uploads; consecutive progress
// events for the same task are coalesced and events are kept in Seq order.
func (m *Manager) Events(ctx context.Context) <-chan Event {
	out := make(chan Event)
	notify := make(chan struct{}, 1)
	var (
		mu      sync.Mutex
		backlog []Event
	)

	unsubscribe := m.Subscribe(func(ev Event) {
		mu.Lock()
		backlog = insertEvent(backlog, ev)
		mu.Unlock()
		select {
		case notify <- struct{}{}:
		default:
		}
	})

	go func() {
		defer close(out)
		defer unsubscribe()
		for {
			mu.Lock()
			if len(backlog) == 0 {
				mu.Unlock()
				select {
				case <-ctx.Done():
					return
				case <-notify:
					continue
				}
			}
			ev := backlog[0]
			backlog[0] = Event{}
			backlog = backlog[1:]
			mu.Unlock()

			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// LastSeq returns the sequence number of the most recent event.
func (m *Manager) LastSeq() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq
}

func insertEvent(backlog []Event, ev Event) []Event {
	n := len(backlog)
	if n > 0 && ev.Kind == EventTaskProgress {
		last := backlog[n-1]
		if last.Kind == EventTaskProgress && last.Seq < ev.Seq && last.Task != nil && ev.Task != nil && last.Task.ID == ev.Task.ID {
			backlog[n-1] = ev
			return backlog
		}
	}
	pos := n
	for pos > 0 && backlog[pos-1].Seq > ev.Seq {
		pos--
	}
	backlog = append(backlog, Event{})
	copy(backlog[pos+1:], backlog[pos:])
	backlog[pos] = ev
	return backlog
}

// newEventLocked stamps an event with the next sequence number. Callers hold m.mu.
func (m *Manager) newEventLocked(kind EventKind, e *entry, previous Status) Event {
	m.seq++
	ev := Event{
		Seq:      m.seq,
		Kind:     kind,
		Previous: previous,
		Summary:  m.summaryLocked(),
		At:       m.opts.Now(),
	}
	if e != nil {
		task := e.task.clone()
		ev.Task = &task
	}
	return ev
}

// unlockAndPublish releases m.mu and then delivers events to the subscribers
// registered at the time of the change.
func (m *Manager) unlockAndPublish(events []Event) {
	subs := m.subs
	m.mu.Unlock()
	for _, ev := range events {
		for _, sub := range subs {
			sub.deliver(ev, m.logger)
		}
	}
}
