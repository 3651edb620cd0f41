package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"photoqueue/internal/queue"
)

// Entry is one finished upload.
type Entry struct {
	ID            int64
	TaskID        string
	FileName      string
	FilePath      string
	MIMEType      string
	SizeBytes     int64
	Status        queue.Status
	FailureReason string
	Message       string
	RemoteID      string
	Location      string
	Checksum      string
	Skipped       bool
	Attempts      int
	Retries       int
	EnqueuedAt    time.Time
	FinishedAt    time.Time
}

// Stats aggregates journal entries.
type Stats struct {
	Total     int
	Succeeded int
	Failed    int
	Canceled  int
	Skipped   int
	Bytes     int64
}

// Filter narrows Recent.
type Filter struct {
	Limit  int
	Status queue.Status
	Since  time.Time
}

const defaultRecentLimit = 50

const entryColumns = "id, task_id, file_name, file_path, mime_type, size_bytes, status, failure_reason, message, remote_id, location, checksum, skipped, attempts, retries, enqueued_at, finished_at"

// EntryFromTask converts a finished task into a journal entry.
func EntryFromTask(task queue.Task) Entry {
	entry := Entry{
		TaskID:     task.ID,
		FileName:   task.File.Name,
		FilePath:   task.File.Path,
		MIMEType:   task.File.MIMEType,
		SizeBytes:  task.File.Size,
		Status:     task.Status,
		Attempts:   task.Attempts,
		Retries:    task.Retries,
		EnqueuedAt: task.EnqueuedAt,
		FinishedAt: task.FinishedAt,
	}
	if task.Failure != nil {
		entry.FailureReason = string(task.Failure.Reason)
		entry.Message = task.Failure.Message
	}
	if task.Result != nil {
		entry.RemoteID = task.Result.RemoteID
		entry.Location = task.Result.Location
		entry.Checksum = task.Result.Checksum
		entry.Skipped = task.Result.Skipped
		if entry.Message == "" {
			entry.Message = task.Result.Message
		}
	}
	return entry
}

// Record appends entry to the journal and returns its row id.
func (s *Store) Record(ctx context.Context, entry Entry) (int64, error) {
	if strings.TrimSpace(entry.TaskID) == "" {
		return 0, errors.New("record history: task id is required")
	}
	if !entry.Status.IsFinished() {
		return 0, fmt.Errorf("record history: status %q is not terminal", entry.Status)
	}
	finished := entry.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO uploads (
            task_id, file_name, file_path, mime_type, size_bytes, status,
            failure_reason, message, remote_id, location, checksum, skipped,
            attempts, retries, enqueued_at, finished_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.TaskID,
		entry.FileName,
		nullableString(entry.FilePath),
		nullableString(entry.MIMEType),
		entry.SizeBytes,
		string(entry.Status),
		nullableString(entry.FailureReason),
		nullableString(entry.Message),
		nullableString(entry.RemoteID),
		nullableString(entry.Location),
		nullableString(entry.Checksum),
		boolToInt(entry.Skipped),
		entry.Attempts,
		entry.Retries,
		nullableTime(entry.EnqueuedAt),
		formatTime(finished),
	)
	if err != nil {
		return 0, fmt.Errorf("insert history entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// Recent returns entries newest first.
func (s *Store) Recent(ctx context.Context, filter Filter) ([]Entry, error) {
	ctx = ensureContext(ctx)
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	var (
		clauses []string
		args    []any
	)
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "finished_at >= ?")
		args = append(args, formatTime(filter.Since))
	}
	query := "SELECT " + entryColumns + " FROM uploads"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY finished_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Stats aggregates entries finished at or after since. A zero since covers
// the whole journal.
func (s *Store) Stats(ctx context.Context, since time.Time) (Stats, error) {
	ctx = ensureContext(ctx)
	query := `SELECT status, COUNT(1), COALESCE(SUM(skipped), 0), COALESCE(SUM(size_bytes), 0) FROM uploads`
	var args []any
	if !since.IsZero() {
		query += " WHERE finished_at >= ?"
		args = append(args, formatTime(since))
	}
	query += " GROUP BY status"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Stats{}, fmt.Errorf("history stats: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var (
			status  string
			count   int
			skipped int
			bytes   int64
		)
		if err := rows.Scan(&status, &count, &skipped, &bytes); err != nil {
			return Stats{}, err
		}
		stats.Total += count
		switch queue.Status(status) {
		case queue.StatusSucceeded:
			stats.Succeeded += count
			stats.Skipped += skipped
			stats.Bytes += bytes
		case queue.StatusFailed:
			stats.Failed += count
		case queue.StatusCanceled:
			stats.Canceled += count
		}
	}
	return stats, rows.Err()
}

// Prune deletes entries finished before cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM uploads WHERE finished_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return removed, nil
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (Entry, error) {
	var (
		entry         Entry
		status        string
		filePath      sql.NullString
		mimeType      sql.NullString
		failureReason sql.NullString
		message       sql.NullString
		remoteID      sql.NullString
		location      sql.NullString
		checksum      sql.NullString
		skipped       sql.NullInt64
		enqueuedRaw   sql.NullString
		finishedRaw   sql.NullString
	)
	if err := scanner.Scan(
		&entry.ID,
		&entry.TaskID,
		&entry.FileName,
		&filePath,
		&mimeType,
		&entry.SizeBytes,
		&status,
		&failureReason,
		&message,
		&remoteID,
		&location,
		&checksum,
		&skipped,
		&entry.Attempts,
		&entry.Retries,
		&enqueuedRaw,
		&finishedRaw,
	); err != nil {
		return Entry{}, err
	}
	entry.Status = queue.Status(status)
	entry.FilePath = filePath.String
	entry.MIMEType = mimeType.String
	entry.FailureReason = failureReason.String
	entry.Message = message.String
	entry.RemoteID = remoteID.String
	entry.Location = location.String
	entry.Checksum = checksum.String
	entry.Skipped = skipped.Valid && skipped.Int64 != 0
	if enqueued, err := parseTimeString(enqueuedRaw.String); err == nil {
		entry.EnqueuedAt = enqueued
	}
	if finished, err := parseTimeString(finishedRaw.String); err == nil {
		entry.FinishedAt = finished
	}
	return entry, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return formatTime(value)
}

// Fixed-width UTC timestamps so lexical order in SQLite matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
