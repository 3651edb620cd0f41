package ingest

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"photoqueue/internal/logging"
	"photoqueue/internal/queue"
)

// DropFolder watches a single directory and enqueues files that stop
// changing for the settle interval. Files already present when the watcher
// starts are enqueued once.
type DropFolder struct {
	dir     string
	settle  time.Duration
	allowed []string
	sink    Sink
	logger  *slog.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	timers   map[string]*time.Timer
	observed map[string]fileStamp
	enqueued map[string]fileStamp
	done     chan struct{}
	running  bool
}

type fileStamp struct {
	size    int64
	modTime time.Time
}

// NewDropFolder returns nil when dir is empty.
func NewDropFolder(dir string, settle time.Duration, allowedTypes []string, sink Sink, logger *slog.Logger) *DropFolder {
	dir = strings.TrimSpace(dir)
	if dir == "" || sink == nil {
		return nil
	}
	if settle <= 0 {
		settle = 2 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &DropFolder{
		dir:      dir,
		settle:   settle,
		allowed:  append([]string(nil), allowedTypes...),
		sink:     sink,
		logger:   logging.NewComponentLogger(logger, "drop-folder"),
		timers:   make(map[string]*time.Timer),
		observed: make(map[string]fileStamp),
		enqueued: make(map[string]fileStamp),
	}
}

// Dir returns the watched directory.
func (d *DropFolder) Dir() string {
	if d == nil {
		return ""
	}
	return d.dir
}

// Start creates the directory if needed and begins watching it.
func (d *DropFolder) Start(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(d.dir); err != nil {
		_ = watcher.Close()
		return err
	}
	d.watcher = watcher
	d.done = make(chan struct{})
	d.running = true

	entries, err := os.ReadDir(d.dir)
	if err == nil {
		for _, entry := range entries {
			if entry.Type().IsRegular() {
				d.scheduleLocked(filepath.Join(d.dir, entry.Name()))
			}
		}
	}

	go d.loop(ctx, watcher, d.done)

	d.logger.Info("drop folder watcher started",
		logging.String(logging.FieldEventType, "drop_folder_started"),
		logging.String("dir", d.dir),
		logging.Duration("settle", d.settle),
	)
	return nil
}

// Stop ends the watch and discards files still settling.
func (d *DropFolder) Stop() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	close(d.done)
	_ = d.watcher.Close()
	for path, timer := range d.timers {
		timer.Stop()
		delete(d.timers, path)
	}
	d.watcher = nil
	d.running = false
	d.logger.Info("drop folder watcher stopped",
		logging.String(logging.FieldEventType, "drop_folder_stopped"),
	)
}

// Running reports whether the watcher is active.
func (d *DropFolder) Running() bool {
	if d == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *DropFolder) loop(ctx context.Context, watcher *fsnotify.Watcher, done <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			d.Stop()
			return
		case <-done:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				d.forget(ev.Name)
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Chmod) {
				d.mu.Lock()
				if d.running {
					d.scheduleLocked(ev.Name)
				}
				d.mu.Unlock()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.WarnWithContext(d.logger, "drop folder watch error", "drop_folder_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check inotify limits (fs.inotify.max_user_watches)"),
				logging.String(logging.FieldImpact, "some dropped files may not be enqueued"),
			)
		}
	}
}

func (d *DropFolder) forget(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if timer, ok := d.timers[path]; ok {
		timer.Stop()
		delete(d.timers, path)
	}
	delete(d.observed, path)
	delete(d.enqueued, path)
}

func (d *DropFolder) scheduleLocked(path string) {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return
	}
	if timer, ok := d.timers[path]; ok {
		timer.Reset(d.settle)
		return
	}
	d.timers[path] = time.AfterFunc(d.settle, func() { d.settled(path) })
}

// settled runs when path has been quiet for the settle interval. A file whose
// size or modification time moved since the last look waits another round.
func (d *DropFolder) settled(path string) {
	info, err := os.Stat(path)

	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	if err != nil || !info.Mode().IsRegular() {
		delete(d.timers, path)
		delete(d.observed, path)
		d.mu.Unlock()
		return
	}
	stamp := fileStamp{size: info.Size(), modTime: info.ModTime()}
	if previous, ok := d.observed[path]; !ok || previous != stamp {
		d.observed[path] = stamp
		if timer, ok := d.timers[path]; ok {
			timer.Reset(d.settle)
		}
		d.mu.Unlock()
		return
	}
	delete(d.timers, path)
	delete(d.observed, path)
	if done, ok := d.enqueued[path]; ok && done == stamp {
		d.mu.Unlock()
		return
	}
	d.enqueued[path] = stamp
	d.mu.Unlock()

	d.enqueue(path)
}

func (d *DropFolder) enqueue(path string) {
	ref, err := Describe(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			d.logger.Debug("dropped file unreadable", logging.String(logging.FieldFile, path), logging.Error(err))
		}
		return
	}
	if !allowed(ref.MIMEType, d.allowed) {
		d.logger.Debug("ignoring non-media file in drop folder",
			logging.String(logging.FieldFile, ref.Name),
			logging.String("mime_type", ref.MIMEType),
		)
		return
	}
	result := d.sink.AddFiles([]queue.FileRef{ref})
	for _, rejected := range result.Rejected {
		logging.WarnWithContext(d.logger, "dropped file rejected", "drop_folder_rejected",
			logging.String(logging.FieldFile, rejected.File.Name),
			logging.String("reason", string(rejected.Reason)),
			logging.String("detail", rejected.Message),
			logging.String(logging.FieldImpact, "file will not be uploaded"),
			logging.String(logging.FieldErrorHint, "check upload.allowed_types and upload.max_file_size"),
		)
	}
	if result.Created > 0 {
		d.logger.Info("dropped file enqueued",
			logging.String(logging.FieldEventType, "drop_folder_enqueued"),
			logging.String(logging.FieldFile, ref.Name),
			logging.String(logging.FieldTaskID, result.Tasks[0].ID),
		)
	}
}
