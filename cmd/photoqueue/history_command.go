package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"photoqueue/internal/ipc"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var status string
	var since time.Duration
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently finished uploads",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ipc.HistoryRequest{Limit: limit, Status: status}
			if since > 0 {
				req.Since = time.Now().Add(-since)
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.History(req)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if len(resp.Entries) == 0 {
					fmt.Fprintln(out, "No uploads recorded")
					return nil
				}
				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(resp.Entries))
				for _, entry := range resp.Entries {
					detail := entry.Location
					switch {
					case entry.FailureReason != "":
						detail = fmt.Sprintf("%s: %s", entry.FailureReason, entry.Message)
					case entry.Skipped:
						detail = "already uploaded"
					case detail == "":
						detail = entry.RemoteID
					}
					rows = append(rows, []string{
						truncate(entry.FileName, 40),
						colorizeStatus(entry.Status, colorize),
						formatBytes(entry.SizeBytes),
						strconv.Itoa(entry.Attempts),
						formatAge(entry.FinishedAt),
						truncate(detail, 60),
					})
				}
				footer := []string{
					fmt.Sprintf("%d total", resp.Stats.Total),
					fmt.Sprintf("%d ok / %d failed", resp.Stats.Succeeded, resp.Stats.Failed),
					formatBytes(resp.Stats.Bytes),
				}
				fmt.Fprint(out, renderTableWithFooter(
					[]string{"File", "Status", "Size", "Attempts", "Finished", "Detail"},
					rows,
					footer,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of entries")
	cmd.Flags().StringVarP(&status, "status", "s", "", "Only show entries with this status")
	cmd.Flags().DurationVar(&since, "since", 0, "Only show uploads finished within this window (e.g. 24h)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
