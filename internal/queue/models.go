package queue

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"
)

// Status represents the lifecycle of an upload task.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusUploading Status = "uploading"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

var allStatuses = []Status{
	StatusQueued,
	StatusUploading,
	StatusSucceeded,
	StatusFailed,
	StatusCanceled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// Failed tasks leave their state only through Retry.
var allowedTransitions = map[Status][]Status{
	StatusQueued:    {StatusUploading, StatusCanceled},
	StatusUploading: {StatusSucceeded, StatusFailed, StatusCanceled},
	StatusFailed:    {StatusQueued},
}

func canTransition(from, to Status) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts a string to a Status, reporting whether it is known.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsActive reports whether the task still counts as pending work.
func (s Status) IsActive() bool {
	return s == StatusQueued || s == StatusUploading
}

// IsFinished reports whether the task is done for now. Failed tasks are
// finished but can be requeued with Retry.
func (s Status) IsFinished() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// FileRef describes a local file handed to the queue. Open supplies the
// payload; when it is nil the file is read from Path.
type FileRef struct {
	Name     string
	MIMEType string
	Size     int64
	ModTime  time.Time
	Path     string
	Open     func() (io.ReadCloser, error)
}

// OpenReader returns the file payload.
func (f FileRef) OpenReader() (io.ReadCloser, error) {
	if f.Open != nil {
		return f.Open()
	}
	if f.Path == "" {
		return nil, errors.New("file has no content source")
	}
	return os.Open(f.Path)
}

type fileKey struct {
	name    string
	size    int64
	modTime int64
}

// Files are the same when name, size, and last-modified time all match.
func (f FileRef) key() fileKey {
	var mod int64
	if !f.ModTime.IsZero() {
		mod = f.ModTime.UnixNano()
	}
	return fileKey{name: f.Name, size: f.Size, modTime: mod}
}

// FailureKind separates failures worth retrying from those that are not.
type FailureKind string

const (
	FailureTransient FailureKind = "transient"
	FailurePermanent FailureKind = "permanent"
)

// FailureReason is a short machine-readable category for display and history.
type FailureReason string

const (
	ReasonTimeout     FailureReason = "timeout"
	ReasonNetwork     FailureReason = "network"
	ReasonRejected    FailureReason = "rejected"
	ReasonUnsupported FailureReason = "unsupported"
	ReasonConflict    FailureReason = "conflict"
	ReasonStopped     FailureReason = "stopped"
	ReasonUnknown     FailureReason = "unknown"
)

// Failure describes why a task ended in StatusFailed.
type Failure struct {
	Kind    FailureKind
	Reason  FailureReason
	Message string
}

// Retryable reports whether the failure came from a transient condition.
func (f Failure) Retryable() bool {
	return f.Kind == FailureTransient
}

// Result carries transport metadata for a successful upload.
type Result struct {
	RemoteID  string
	VersionID string
	Location  string
	Checksum  string
	Skipped   bool
	Message   string
}

// Task is a copy of one upload task's state.
type Task struct {
	ID         string
	File       FileRef
	Status     Status
	Progress   float64
	Failure    *Failure
	Result     *Result
	Attempts   int
	Retries    int
	EnqueuedAt time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	UpdatedAt  time.Time
}

func (t Task) clone() Task {
	out := t
	if t.Failure != nil {
		failure := *t.Failure
		out.Failure = &failure
	}
	if t.Result != nil {
		result := *t.Result
		out.Result = &result
	}
	return out
}

// ErrorMessage returns the failure message, or an empty string.
func (t Task) ErrorMessage() string {
	if t.Failure == nil {
		return ""
	}
	return t.Failure.Message
}

// RejectReason categorizes why AddFiles refused a file.
type RejectReason string

const (
	RejectUnsupportedType RejectReason = "unsupported_type"
	RejectTooLarge        RejectReason = "too_large"
	RejectInvalid         RejectReason = "invalid"
)

// Rejection reports a file that never became a task.
type Rejection struct {
	File    FileRef
	Reason  RejectReason
	Message string
}

// AddResult is the outcome of AddFiles. Tasks holds accepted files in input
// order; duplicates resolve to the task that already covers them.
type AddResult struct {
	Tasks      []Task
	Created    int
	Duplicates int
	Rejected   []Rejection
}

// Summary counts tasks per status for badges and status lines.
type Summary struct {
	Total     int
	Queued    int
	Uploading int
	Succeeded int
	Failed    int
	Canceled  int
}

// Pending returns the number of tasks still waiting for or in upload.
func (s Summary) Pending() int {
	return s.Queued + s.Uploading
}

// Idle reports whether nothing is queued or uploading.
func (s Summary) Idle() bool {
	return s.Pending() == 0
}

func (s *Summary) add(status Status) {
	s.Total++
	switch status {
	case StatusQueued:
		s.Queued++
	case StatusUploading:
		s.Uploading++
	case StatusSucceeded:
		s.Succeeded++
	case StatusFailed:
		s.Failed++
	case StatusCanceled:
		s.Canceled++
	}
}

// ProgressFunc receives upload progress as a fraction between 0 and 1.
type ProgressFunc func(fraction float64)

// Uploader performs a single upload attempt. Implementations must honour ctx
// cancellation, report progress through onProgress, and tag failures with the
// services error markers so the queue can tell transient from permanent.
type Uploader interface {
	Upload(ctx context.Context, file FileRef, onProgress ProgressFunc) (Result, error)
}

// UploaderFunc adapts a function to the Uploader interface.
type UploaderFunc func(ctx context.Context, file FileRef, onProgress ProgressFunc) (Result, error)

// Upload calls f.
func (f UploaderFunc) Upload(ctx context.Context, file FileRef, onProgress ProgressFunc) (Result, error) {
	return f(ctx, file, onProgress)
}
