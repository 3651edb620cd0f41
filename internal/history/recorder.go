package history

import (
	"context"
	"log/slog"
	"time"

	"photoqueue/internal/logging"
	"photoqueue/internal/queue"
)

// Recorder journals every task that reaches a terminal status.
type Recorder struct {
	store  *Store
	logger *slog.Logger
}

// NewRecorder returns a recorder writing to store.
func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Recorder{store: store, logger: logging.NewComponentLogger(logger, "history")}
}

// Handle journals ev when it moves a task to a terminal status.
func (r *Recorder) Handle(ev queue.Event) {
	if ev.Kind != queue.EventTaskUpdated || ev.Task == nil || !ev.Task.Status.IsFinished() {
		return
	}
	entry := EntryFromTask(*ev.Task)
	if entry.FinishedAt.IsZero() {
		entry.FinishedAt = ev.At
	}
	// Writes outlive the subscriber context so a shutdown does not drop the
	// final outcomes.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := r.store.Record(ctx, entry); err != nil {
		logging.WarnWithContext(r.logger, "failed to record upload history", "history_record_failed",
			logging.Error(err),
			logging.String(logging.FieldTaskID, entry.TaskID),
			logging.String(logging.FieldFile, entry.FileName),
			logging.String(logging.FieldErrorHint, "check the history database path and disk space"),
			logging.String(logging.FieldImpact, "upload outcome missing from history"),
		)
	}
}
