package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"photoqueue/internal/logging"
	"photoqueue/internal/services"
)

type uploadRun struct {
	entry *entry
	id    string
	run   uint64
	ctx   context.Context
}

// Start launches the scheduler. Queued tasks begin uploading as slots allow.
func (m *Manager) Start(ctx context.Context) error {
	if m.uploader == nil {
		return errors.New("queue manager has no uploader")
	}
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.running = true
	m.cancel = cancel
	m.loopDone = done
	m.uploads = &sync.WaitGroup{}
	m.mu.Unlock()

	go m.loop(runCtx, done)
	m.signal()
	return nil
}

// Stop halts scheduling and interrupts in-flight uploads. Interrupted tasks
// end failed with reason "stopped" and can be retried. Stop waits up to
// CancelGrace for uploads to return.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel, done, uploads := m.cancel, m.loopDone, m.uploads
	m.mu.Unlock()

	cancel()
	<-done

	finished := make(chan struct{})
	go func() {
		uploads.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(m.opts.CancelGrace):
		m.abandonInFlight()
	}
}

// Running reports whether the scheduler is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		m.dispatch(ctx)
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		}
	}
}

// dispatch starts queued tasks in enqueue order while slots are free.
func (m *Manager) dispatch(ctx context.Context) {
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	var events []Event
	if m.opts.Retention > 0 {
		events = m.evictLocked(m.opts.Now().Add(-m.opts.Retention))
	}

	var runs []uploadRun
	for _, e := range m.tasks {
		if m.active >= m.opts.Concurrency {
			break
		}
		if e.task.Status != StatusQueued {
			continue
		}
		ev, ok := m.transitionLocked(e, StatusUploading)
		if !ok {
			continue
		}
		runCtx, cancel := context.WithCancel(ctx)
		e.run++
		e.cancel = cancel
		e.canceling = false
		e.runAttempts = 0
		e.lastProgress = e.task.Progress
		events = append(events, ev)
		runs = append(runs, uploadRun{entry: e, id: e.task.ID, run: e.run, ctx: runCtx})
	}
	uploads := m.uploads
	uploads.Add(len(runs))
	m.unlockAndPublish(events)

	for _, r := range runs {
		go m.runUpload(r, uploads)
	}
}

func (m *Manager) runUpload(r uploadRun, uploads *sync.WaitGroup) {
	defer uploads.Done()
	logger := m.logger.With(logging.String(logging.FieldTaskID, r.id))
	bo := m.opts.newBackOff()

	for {
		if err := r.ctx.Err(); err != nil {
			m.interrupted(r, err)
			return
		}
		file, attempt, ok := m.beginAttempt(r)
		if !ok {
			return
		}
		logger.Debug("upload attempt started",
			logging.String(logging.FieldFile, file.Name),
			logging.Int(logging.FieldAttempt, attempt),
		)

		result, err := m.attempt(r, file, attempt)
		if err == nil {
			m.complete(r, result)
			return
		}
		if r.ctx.Err() != nil {
			m.interrupted(r, err)
			return
		}

		failure := ClassifyFailure(err)
		if failure.Retryable() && attempt < m.opts.MaxAttempts {
			delay := bo.NextBackOff()
			logging.WarnWithContext(logger, "upload attempt failed; retrying", "upload_retry",
				logging.String(logging.FieldFile, file.Name),
				logging.Int(logging.FieldAttempt, attempt),
				logging.Int("max_attempts", m.opts.MaxAttempts),
				logging.String("reason", string(failure.Reason)),
				logging.Duration("delay", delay),
				logging.Error(err),
				logging.String(logging.FieldImpact, "upload delayed"),
				logging.String(logging.FieldErrorHint, "transient failures are retried automatically"),
			)
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
				continue
			case <-r.ctx.Done():
				timer.Stop()
				m.interrupted(r, r.ctx.Err())
				return
			}
		}
		m.fail(r, failure, err)
		return
	}
}

func (m *Manager) beginAttempt(r uploadRun) (FileRef, int, bool) {
	m.mu.Lock()
	e := r.entry
	if e.run != r.run || e.task.Status != StatusUploading {
		m.mu.Unlock()
		return FileRef{}, 0, false
	}
	if e.retried {
		e.retried = false
	} else {
		e.task.Attempts++
	}
	e.runAttempts++
	e.task.UpdatedAt = m.opts.Now()
	file := e.task.File
	attempt := e.runAttempts
	ev := m.newEventLocked(EventAttemptStarted, e, "")
	m.unlockAndPublish([]Event{ev})
	return file, attempt, true
}

func (m *Manager) attempt(r uploadRun, file FileRef, attempt int) (Result, error) {
	ctx := services.WithTaskID(r.ctx, r.id)
	cancel := func() {}
	if m.opts.AttemptTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, m.opts.AttemptTimeout)
	}
	defer cancel()

	result, err := m.uploader.Upload(ctx, file, func(fraction float64) {
		m.reportProgress(r, attempt, fraction)
	})
	if err != nil && r.ctx.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = services.Wrap(services.ErrTimeout, "queue", "upload",
			fmt.Sprintf("attempt %d exceeded %s", attempt, m.opts.AttemptTimeout), err)
	}
	return result, err
}

// reportProgress records progress for the current run. Progress never moves
// backwards within a run, including across automatic retries.
func (m *Manager) reportProgress(r uploadRun, attempt int, fraction float64) {
	if math.IsNaN(fraction) {
		return
	}
	fraction = min(max(fraction, 0), 1)

	m.mu.Lock()
	e := r.entry
	if e.run != r.run || e.task.Status != StatusUploading || fraction <= e.task.Progress {
		m.mu.Unlock()
		return
	}
	e.task.Progress = fraction
	e.task.UpdatedAt = m.opts.Now()
	if fraction-e.lastProgress < progressEventStep && fraction < 1 {
		m.mu.Unlock()
		return
	}
	e.lastProgress = fraction
	shouldLog := e.sampler.ShouldLog(fraction*100, fmt.Sprintf("attempt %d", attempt))
	ev := m.newEventLocked(EventTaskProgress, e, "")
	m.unlockAndPublish([]Event{ev})

	if shouldLog {
		m.logger.Debug("upload progress",
			logging.String(logging.FieldTaskID, r.id),
			logging.Int(logging.FieldAttempt, attempt),
			logging.Float64("percent", math.Round(fraction*1000)/10),
		)
	}
}

func (m *Manager) complete(r uploadRun, result Result) {
	m.mu.Lock()
	e := r.entry
	if e.run != r.run || e.task.Status != StatusUploading {
		m.mu.Unlock()
		m.logger.Debug("discarding late upload result", logging.String(logging.FieldTaskID, r.id))
		return
	}
	if e.canceling {
		ev, _ := m.transitionLocked(e, StatusCanceled)
		m.unlockAndPublish([]Event{ev})
		m.signal()
		m.logger.Info("upload canceled", logging.String(logging.FieldTaskID, r.id), logging.String(logging.FieldEventType, "upload_canceled"))
		return
	}
	e.task.Progress = 1
	res := result
	e.task.Result = &res
	ev, _ := m.transitionLocked(e, StatusSucceeded)
	task := e.task.clone()
	m.unlockAndPublish([]Event{ev})
	m.signal()

	m.logger.Info("upload succeeded",
		logging.String(logging.FieldTaskID, r.id),
		logging.String(logging.FieldFile, task.File.Name),
		logging.Int(logging.FieldAttempt, task.Attempts),
		logging.Bool("skipped", result.Skipped),
		logging.Duration("elapsed", task.FinishedAt.Sub(task.StartedAt)),
		logging.String(logging.FieldEventType, "upload_succeeded"),
	)
}

func (m *Manager) fail(r uploadRun, failure Failure, cause error) {
	m.mu.Lock()
	e := r.entry
	if e.run != r.run || e.task.Status != StatusUploading {
		m.mu.Unlock()
		return
	}
	if e.canceling {
		ev, _ := m.transitionLocked(e, StatusCanceled)
		m.unlockAndPublish([]Event{ev})
		m.signal()
		return
	}
	f := failure
	e.task.Failure = &f
	ev, _ := m.transitionLocked(e, StatusFailed)
	attempts := e.task.Attempts
	m.unlockAndPublish([]Event{ev})
	m.signal()

	hint := "fix the file or destination, then retry"
	if failure.Retryable() {
		hint = "retry once the destination is reachable"
	}
	logging.ErrorWithContext(m.logger, "upload failed", "upload_failed",
		logging.String(logging.FieldTaskID, r.id),
		logging.String("kind", string(failure.Kind)),
		logging.String("reason", string(failure.Reason)),
		logging.Int(logging.FieldAttempt, attempts),
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, hint),
	)
}

// interrupted handles an attempt that ended because its run context was
// canceled, either by Cancel or by Stop.
func (m *Manager) interrupted(r uploadRun, cause error) {
	m.mu.Lock()
	e := r.entry
	if e.run != r.run || e.task.Status != StatusUploading {
		m.mu.Unlock()
		return
	}
	if e.canceling {
		ev, _ := m.transitionLocked(e, StatusCanceled)
		m.unlockAndPublish([]Event{ev})
		m.signal()
		m.logger.Info("upload canceled", logging.String(logging.FieldTaskID, r.id), logging.String(logging.FieldEventType, "upload_canceled"))
		return
	}
	e.task.Failure = stoppedFailure()
	ev, _ := m.transitionLocked(e, StatusFailed)
	m.unlockAndPublish([]Event{ev})
	m.logger.Info("upload interrupted by shutdown",
		logging.String(logging.FieldTaskID, r.id),
		logging.Error(cause),
		logging.String(logging.FieldEventType, "upload_interrupted"),
	)
}

// abandonInFlight fails uploads whose transports did not return after Stop.
func (m *Manager) abandonInFlight() {
	m.mu.Lock()
	var events []Event
	for _, e := range m.tasks {
		if e.task.Status != StatusUploading {
			continue
		}
		e.run++
		if e.canceling {
			ev, _ := m.transitionLocked(e, StatusCanceled)
			events = append(events, ev)
			continue
		}
		e.task.Failure = stoppedFailure()
		ev, _ := m.transitionLocked(e, StatusFailed)
		events = append(events, ev)
	}
	m.unlockAndPublish(events)
	if len(events) > 0 {
		logging.WarnWithContext(m.logger, "uploads abandoned at shutdown", "uploads_abandoned",
			logging.Int("count", len(events)),
			logging.Duration("grace", m.opts.CancelGrace),
			logging.String(logging.FieldImpact, "tasks marked failed and can be retried"),
		)
	}
}

func stoppedFailure() *Failure {
	return &Failure{Kind: FailureTransient, Reason: ReasonStopped, Message: "upload interrupted because the queue stopped"}
}
