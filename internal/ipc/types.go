package ipc

import (
	"time"

	"photoqueue/internal/history"
	"photoqueue/internal/queue"
)

// serviceName is the RPC receiver name shared by server and client.
const serviceName = "Photoqueue"

// Task is the wire form of a queue task.
type Task struct {
	ID            string    `json:"id"`
	FileName      string    `json:"file_name"`
	FilePath      string    `json:"file_path,omitempty"`
	MIMEType      string    `json:"mime_type"`
	SizeBytes     int64     `json:"size_bytes"`
	Status        string    `json:"status"`
	Progress      float64   `json:"progress"`
	Attempts      int       `json:"attempts"`
	Retries       int       `json:"retries"`
	FailureKind   string    `json:"failure_kind,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	Retryable     bool      `json:"retryable,omitempty"`
	RemoteID      string    `json:"remote_id,omitempty"`
	Location      string    `json:"location,omitempty"`
	Skipped       bool      `json:"skipped,omitempty"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	FinishedAt    time.Time `json:"finished_at,omitempty"`
}

// Summary mirrors queue.Summary.
type Summary struct {
	Total     int `json:"total"`
	Queued    int `json:"queued"`
	Uploading int `json:"uploading"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Canceled  int `json:"canceled"`
}

// Pending returns queued plus uploading tasks.
func (s Summary) Pending() int {
	return s.Queued + s.Uploading
}

// Rejection reports a file the queue refused.
type Rejection struct {
	FileName string `json:"file_name"`
	Reason   string `json:"reason"`
	Message  string `json:"message"`
}

// SkippedPath reports an argument that did not yield a file.
type SkippedPath struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// HistoryEntry is the wire form of a journal entry.
type HistoryEntry struct {
	TaskID        string    `json:"task_id"`
	FileName      string    `json:"file_name"`
	SizeBytes     int64     `json:"size_bytes"`
	Status        string    `json:"status"`
	FailureReason string    `json:"failure_reason,omitempty"`
	Message       string    `json:"message,omitempty"`
	RemoteID      string    `json:"remote_id,omitempty"`
	Location      string    `json:"location,omitempty"`
	Skipped       bool      `json:"skipped,omitempty"`
	Attempts      int       `json:"attempts"`
	FinishedAt    time.Time `json:"finished_at"`
}

// HistoryStats mirrors history.Stats.
type HistoryStats struct {
	Total     int   `json:"total"`
	Succeeded int   `json:"succeeded"`
	Failed    int   `json:"failed"`
	Canceled  int   `json:"canceled"`
	Skipped   int   `json:"skipped"`
	Bytes     int64 `json:"bytes"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents daemon and queue status.
type StatusResponse struct {
	Running      bool      `json:"running"`
	PID          int       `json:"pid"`
	StartedAt    time.Time `json:"started_at"`
	LockPath     string    `json:"lock_path"`
	SocketPath   string    `json:"socket_path"`
	HistoryPath  string    `json:"history_path"`
	Transport    string    `json:"transport"`
	Destination  string    `json:"destination"`
	Summary      Summary   `json:"summary"`
	DropDir      string    `json:"drop_dir"`
	DropWatching bool      `json:"drop_watching"`
	CardWatching bool      `json:"card_watching"`
}

// AddRequest enqueues files and directories on the daemon host.
type AddRequest struct {
	Paths []string `json:"paths"`
}

// AddResponse reports what was enqueued.
type AddResponse struct {
	Tasks      []Task        `json:"tasks"`
	Created    int           `json:"created"`
	Duplicates int           `json:"duplicates"`
	Rejected   []Rejection   `json:"rejected"`
	Skipped    []SkippedPath `json:"skipped"`
}

// ListRequest filters tasks by status.
type ListRequest struct {
	Statuses []string `json:"statuses"`
}

// ListResponse contains tasks in queue order.
type ListResponse struct {
	Tasks []Task `json:"tasks"`
}

// RetryRequest retries failed tasks. Empty IDs retries every failed task.
type RetryRequest struct {
	IDs []string `json:"ids"`
}

// RetryResponse reports how many tasks were requeued.
type RetryResponse struct {
	Retried int `json:"retried"`
}

// CancelRequest cancels tasks by id.
type CancelRequest struct {
	IDs []string `json:"ids"`
}

// CancelResponse reports how many tasks were canceled.
type CancelResponse struct {
	Canceled int `json:"canceled"`
}

// PruneRequest drops finished tasks older than OlderThanSeconds.
type PruneRequest struct {
	OlderThanSeconds int64 `json:"older_than_seconds"`
}

// PruneResponse reports how many tasks were removed.
type PruneResponse struct {
	Removed int `json:"removed"`
}

// HistoryRequest queries the upload journal.
type HistoryRequest struct {
	Limit  int       `json:"limit"`
	Status string    `json:"status"`
	Since  time.Time `json:"since"`
}

// HistoryResponse carries journal entries, newest first, with totals.
type HistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
	Stats   HistoryStats   `json:"stats"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification result.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}

// FromTask converts a queue task into its wire form.
func FromTask(task queue.Task) Task {
	out := Task{
		ID:         task.ID,
		FileName:   task.File.Name,
		FilePath:   task.File.Path,
		MIMEType:   task.File.MIMEType,
		SizeBytes:  task.File.Size,
		Status:     string(task.Status),
		Progress:   task.Progress,
		Attempts:   task.Attempts,
		Retries:    task.Retries,
		EnqueuedAt: task.EnqueuedAt,
		StartedAt:  task.StartedAt,
		FinishedAt: task.FinishedAt,
	}
	if task.Failure != nil {
		out.FailureKind = string(task.Failure.Kind)
		out.FailureReason = string(task.Failure.Reason)
		out.ErrorMessage = task.Failure.Message
		out.Retryable = task.Failure.Retryable()
	}
	if task.Result != nil {
		out.RemoteID = task.Result.RemoteID
		out.Location = task.Result.Location
		out.Skipped = task.Result.Skipped
	}
	return out
}

func fromSummary(s queue.Summary) Summary {
	return Summary{
		Total:     s.Total,
		Queued:    s.Queued,
		Uploading: s.Uploading,
		Succeeded: s.Succeeded,
		Failed:    s.Failed,
		Canceled:  s.Canceled,
	}
}

func fromEntry(e history.Entry) HistoryEntry {
	return HistoryEntry{
		TaskID:        e.TaskID,
		FileName:      e.FileName,
		SizeBytes:     e.SizeBytes,
		Status:        string(e.Status),
		FailureReason: e.FailureReason,
		Message:       e.Message,
		RemoteID:      e.RemoteID,
		Location:      e.Location,
		Skipped:       e.Skipped,
		Attempts:      e.Attempts,
		FinishedAt:    e.FinishedAt,
	}
}
