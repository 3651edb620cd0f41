package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"photoqueue/internal/ipc"
	"photoqueue/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the upload queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueCancelCommand(ctx))
	queueCmd.AddCommand(newQueuePruneCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, status)
				}
				printStatus(cmd.OutOrStdout(), status, shouldColorize(cmd.OutOrStdout()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func printStatus(out io.Writer, status *ipc.StatusResponse, colorize bool) {
	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderKeyValue("Running", yesNo(status.Running)))
	fmt.Fprintln(out, renderKeyValue("PID", strconv.Itoa(status.PID)))
	if !status.StartedAt.IsZero() {
		fmt.Fprintln(out, renderKeyValue("Started", formatAge(status.StartedAt)))
	}
	fmt.Fprintln(out, renderKeyValue("Transport", status.Transport))
	fmt.Fprintln(out, renderKeyValue("Destination", status.Destination))
	if status.DropDir != "" {
		fmt.Fprintln(out, renderKeyValue("Drop folder", fmt.Sprintf("%s (watching: %s)", status.DropDir, yesNo(status.DropWatching))))
	}
	fmt.Fprintln(out, renderKeyValue("Card watch", yesNo(status.CardWatching)))
	if status.HistoryPath != "" {
		fmt.Fprintln(out, renderKeyValue("History", status.HistoryPath))
	}
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Queue", colorize) {
		fmt.Fprintln(out, line)
	}
	if status.Summary.Total == 0 {
		fmt.Fprintln(out, "Queue is empty")
		return
	}
	fmt.Fprint(out, renderTable([]string{"Status", "Count"}, buildSummaryRows(status.Summary, colorize), []columnAlignment{alignLeft, alignRight}))
}

func buildSummaryRows(summary ipc.Summary, colorize bool) [][]string {
	counts := []struct {
		status queue.Status
		count  int
	}{
		{queue.StatusQueued, summary.Queued},
		{queue.StatusUploading, summary.Uploading},
		{queue.StatusSucceeded, summary.Succeeded},
		{queue.StatusFailed, summary.Failed},
		{queue.StatusCanceled, summary.Canceled},
	}
	rows := make([][]string, 0, len(counts))
	for _, entry := range counts {
		if entry.count == 0 {
			continue
		}
		rows = append(rows, []string{colorizeStatus(string(entry.status), colorize), strconv.Itoa(entry.count)})
	}
	return rows
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued, active and finished uploads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.List(statuses)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, resp.Tasks)
				}
				out := cmd.OutOrStdout()
				if len(resp.Tasks) == 0 {
					fmt.Fprintln(out, "No tasks")
					return nil
				}
				fmt.Fprint(out, renderTaskTable(resp.Tasks, shouldColorize(out)))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (queued, uploading, succeeded, failed, canceled)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func renderTaskTable(tasks []ipc.Task, colorize bool) string {
	rows := make([][]string, 0, len(tasks))
	for _, task := range tasks {
		detail := task.ErrorMessage
		switch {
		case task.Status == string(queue.StatusFailed) && task.FailureReason != "":
			detail = fmt.Sprintf("%s: %s", task.FailureReason, task.ErrorMessage)
			if task.Retryable {
				detail += " (retryable)"
			}
		case task.Skipped:
			detail = "already uploaded"
		case task.Location != "":
			detail = task.Location
		case task.RemoteID != "":
			detail = task.RemoteID
		}
		rows = append(rows, []string{
			shortID(task.ID),
			truncate(task.FileName, 40),
			colorizeStatus(task.Status, colorize),
			formatProgress(task.Progress),
			formatBytes(task.SizeBytes),
			strconv.Itoa(task.Attempts),
			formatAge(task.EnqueuedAt),
			truncate(detail, 60),
		})
	}
	return renderTable(
		[]string{"ID", "File", "Status", "Progress", "Size", "Attempts", "Added", "Detail"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft},
	)
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [id...]",
		Short: "Retry failed uploads (all failed uploads when no ids are given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				ids, err := resolveTaskIDs(client, args)
				if err != nil {
					return err
				}
				resp, err := client.Retry(ids)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if resp.Retried == 0 {
					fmt.Fprintln(out, "No failed uploads to retry")
					return nil
				}
				fmt.Fprintf(out, "Retrying %d upload(s)\n", resp.Retried)
				return nil
			})
		},
	}
}

func newQueueCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>...",
		Short: "Cancel queued or in-progress uploads",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				ids, err := resolveTaskIDs(client, args)
				if err != nil {
					return err
				}
				resp, err := client.Cancel(ids)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Canceled %d upload(s)\n", resp.Canceled)
				return nil
			})
		},
	}
}

func newQueuePruneCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove finished uploads from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan < 0 {
				return errors.New("--older-than must not be negative")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Prune(olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d finished upload(s)\n", resp.Removed)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Only remove uploads added longer ago than this")
	return cmd
}

// resolveTaskIDs expands unique id prefixes, as printed by `queue list`, to
// full task ids.
func resolveTaskIDs(client *ipc.Client, args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, nil
	}
	resp, err := client.List(nil)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(args))
	for _, arg := range args {
		prefix := strings.ToLower(strings.TrimSpace(arg))
		if prefix == "" {
			continue
		}
		var matches []string
		for _, task := range resp.Tasks {
			if task.ID == prefix {
				matches = []string{task.ID}
				break
			}
			if strings.HasPrefix(task.ID, prefix) {
				matches = append(matches, task.ID)
			}
		}
		switch len(matches) {
		case 0:
			// Let the daemon report the unknown id.
			ids = append(ids, prefix)
		case 1:
			ids = append(ids, matches[0])
		default:
			return nil, fmt.Errorf("task id %q is ambiguous (%d matches)", arg, len(matches))
		}
	}
	return ids, nil
}
