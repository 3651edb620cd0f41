package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"photoqueue/internal/config"
	"photoqueue/internal/history"
	"photoqueue/internal/ingest"
	"photoqueue/internal/logging"
	"photoqueue/internal/notifications"
	"photoqueue/internal/queue"
)

const (
	// DrainTimeout bounds how long shutdown waits for event handlers.
	DrainTimeout         = 2 * time.Second
	historyPruneInterval = 24 * time.Hour
)

// Daemon coordinates the background upload services and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	queue    *queue.Manager
	history  *history.Store
	notifier notifications.Service
	observer *notifications.Observer
	recorder *history.Recorder
	drop     *ingest.DropFolder
	card     *ingest.CardMonitor

	lockPath string
	lock     *flock.Flock

	mu        sync.Mutex
	running   atomic.Bool
	cancel    context.CancelFunc
	pump      *EventPump
	wg        sync.WaitGroup
	startedAt time.Time
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	StartedAt    time.Time
	LockPath     string
	SocketPath   string
	HistoryPath  string
	Transport    string
	Destination  string
	Summary      queue.Summary
	DropDir      string
	DropWatching bool
	CardWatching bool
}

// AddOutcome reports what AddPaths did with each argument.
type AddOutcome struct {
	Result  queue.AddResult
	Skipped []ingest.Skipped
}

// New constructs a daemon around an upload manager. store may be nil when
// the history journal is disabled.
func New(cfg *config.Config, mgr *queue.Manager, store *history.Store, notifier notifications.Service, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || mgr == nil {
		return nil, errors.New("daemon requires config and queue manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	logger = logging.NewComponentLogger(logger, "daemon")

	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		queue:    mgr,
		history:  store,
		notifier: notifier,
		observer: notifications.NewObserver(notifier, cfg.Notifications, logger),
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	if store != nil {
		d.recorder = history.NewRecorder(store, logger)
	}
	allowed := mgr.Options().AllowedTypes
	d.drop = ingest.NewDropFolder(cfg.Ingest.DropDir, cfg.Ingest.DropSettleDuration(), allowed, mgr, logger)
	if cfg.Ingest.CardWatch {
		d.card = ingest.NewCardMonitor(ingest.CardOptions{
			Subdir:       cfg.Ingest.CardSubdir,
			MountTimeout: cfg.Ingest.CardMountTimeoutDuration(),
			AllowedTypes: allowed,
		}, mgr, logger)
	}
	return d, nil
}

// Start acquires the daemon lock, starts the upload scheduler, and begins
// watching ingest sources.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another photoqueue daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	pump := StartEventPump(ctx, d.queue, d.handlers()...)

	if err := d.queue.Start(runCtx); err != nil {
		cancel()
		pump.Drain(0)
		_ = d.lock.Unlock()
		return fmt.Errorf("start queue: %w", err)
	}

	if err := d.drop.Start(runCtx); err != nil {
		logging.WarnWithContext(d.logger, "drop folder unavailable", "drop_folder_failed",
			logging.Error(err),
			logging.String("dir", d.drop.Dir()),
			logging.String(logging.FieldErrorHint, "check ingest.drop_dir permissions"),
			logging.String(logging.FieldImpact, "files dropped into the folder will not be uploaded"),
		)
	}
	if err := d.card.Start(runCtx); err != nil {
		logging.WarnWithContext(d.logger, "card monitor unavailable", "card_monitor_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "camera cards must be imported manually"),
		)
	}
	if d.history != nil && d.cfg.History.RetentionDays > 0 {
		d.wg.Add(1)
		go d.pruneHistoryLoop(runCtx)
	}

	d.cancel = cancel
	d.pump = pump
	d.startedAt = time.Now()
	d.running.Store(true)
	d.logger.Info("photoqueue daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("transport", d.cfg.Transport.Kind),
		logging.Int("concurrency", d.queue.Options().Concurrency),
	)
	return nil
}

// Stop halts ingest and uploads, waits for the journal and notifier to see
// the final task states, and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	d.drop.Stop()
	d.card.Stop()
	d.queue.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.pump != nil {
		d.pump.Drain(DrainTimeout)
		d.pump = nil
	}
	d.wg.Wait()

	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String("lock", d.lockPath),
			logging.String(logging.FieldImpact, "next daemon start may report another instance"),
		)
	}
	d.running.Store(false)
	d.logger.Info("photoqueue daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.history != nil {
		return d.history.Close()
	}
	return nil
}

// Running reports whether the daemon is started.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// handlers returns the event consumers that outlive the upload workers so
// shutdown outcomes still reach the journal and notifier.
func (d *Daemon) handlers() []EventHandler {
	handlers := []EventHandler{d.observer.Handle}
	if d.recorder != nil {
		handlers = append(handlers, func(_ context.Context, ev queue.Event) { d.recorder.Handle(ev) })
	}
	return handlers
}

func (d *Daemon) pruneHistoryLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(historyPruneInterval)
	defer ticker.Stop()
	for {
		d.pruneHistory(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Daemon) pruneHistory(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -d.cfg.History.RetentionDays)
	removed, err := d.history.Prune(ctx, cutoff)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logging.WarnWithContext(d.logger, "history prune failed", "history_prune_failed", logging.Error(err))
		}
		return
	}
	if removed > 0 {
		d.logger.Info("history pruned",
			logging.String(logging.FieldEventType, "history_pruned"),
			logging.Int64("removed_count", removed),
			logging.Int("retention_days", d.cfg.History.RetentionDays),
		)
	}
}

// AddPaths expands files and directories and enqueues them.
func (d *Daemon) AddPaths(paths []string) (AddOutcome, error) {
	if len(paths) == 0 {
		return AddOutcome{}, errors.New("at least one path is required")
	}
	batch := ingest.Collect(paths, ingest.CollectOptions{AllowedTypes: d.queue.Options().AllowedTypes})
	outcome := AddOutcome{Skipped: batch.Skipped}
	if len(batch.Files) > 0 {
		outcome.Result = d.queue.AddFiles(batch.Files)
	}
	d.logger.Info("paths added",
		logging.String(logging.FieldEventType, "paths_added"),
		logging.Int("paths", len(paths)),
		logging.Int("created", outcome.Result.Created),
		logging.Int("duplicates", outcome.Result.Duplicates),
		logging.Int("rejected", len(outcome.Result.Rejected)),
		logging.Int("skipped", len(outcome.Skipped)),
	)
	return outcome, nil
}

// List returns tasks in queue order, optionally filtered by status.
func (d *Daemon) List(statuses []queue.Status) []queue.Task {
	tasks := d.queue.Snapshot()
	if len(statuses) == 0 {
		return tasks
	}
	want := make(map[queue.Status]struct{}, len(statuses))
	for _, status := range statuses {
		want[status] = struct{}{}
	}
	filtered := tasks[:0]
	for _, task := range tasks {
		if _, ok := want[task.Status]; ok {
			filtered = append(filtered, task)
		}
	}
	return filtered
}

// Task returns one task by id.
func (d *Daemon) Task(id string) (queue.Task, bool) {
	return d.queue.Task(id)
}

// Retry requeues the given failed tasks, or every failed task when ids is
// empty. It stops at the first id that cannot be retried.
func (d *Daemon) Retry(ids []string) (int, error) {
	if len(ids) == 0 {
		return d.queue.RetryFailed(), nil
	}
	retried := 0
	for _, id := range ids {
		if err := d.queue.Retry(strings.TrimSpace(id)); err != nil {
			return retried, fmt.Errorf("retry %s: %w", id, err)
		}
		retried++
	}
	return retried, nil
}

// Cancel cancels the given tasks. It stops at the first id that cannot be
// canceled.
func (d *Daemon) Cancel(ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, errors.New("at least one task id is required")
	}
	canceled := 0
	for _, id := range ids {
		if err := d.queue.Cancel(strings.TrimSpace(id)); err != nil {
			return canceled, fmt.Errorf("cancel %s: %w", id, err)
		}
		canceled++
	}
	return canceled, nil
}

// Prune drops finished tasks older than olderThan from the in-memory queue.
func (d *Daemon) Prune(olderThan time.Duration) int {
	return d.queue.Prune(olderThan)
}

// History returns recent journal entries.
func (d *Daemon) History(ctx context.Context, filter history.Filter) ([]history.Entry, error) {
	if d.history == nil {
		return nil, errors.New("upload history is disabled")
	}
	return d.history.Recent(ctx, filter)
}

// HistoryStats aggregates journal entries since the given time.
func (d *Daemon) HistoryStats(ctx context.Context, since time.Time) (history.Stats, error) {
	if d.history == nil {
		return history.Stats{}, errors.New("upload history is disabled")
	}
	return d.history.Stats(ctx, since)
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	startedAt := d.startedAt
	d.mu.Unlock()

	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockPath:     d.lockPath,
		SocketPath:   d.cfg.Paths.SocketPath,
		Transport:    d.cfg.Transport.Kind,
		Summary:      d.queue.Summary(),
		DropDir:      d.drop.Dir(),
		DropWatching: d.drop.Running(),
		CardWatching: d.card.Running(),
	}
	if status.Running {
		status.StartedAt = startedAt
	}
	if d.history != nil {
		status.HistoryPath = d.history.Path()
	}
	switch d.cfg.Transport.Kind {
	case config.TransportLibrary:
		status.Destination = d.cfg.Transport.LibraryDir
	default:
		status.Destination = d.cfg.Transport.Endpoint
	}
	return status
}
