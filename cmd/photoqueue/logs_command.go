package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"photoqueue/internal/logs"
)

const (
	daemonLogName = "photoqueued.log"
	uploadLogName = "photoqueue-upload.log"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var task string
	var upload bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show daemon log output",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			name := daemonLogName
			if upload {
				name = uploadLogName
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return logs.Tail(runCtx, filepath.Join(cfg.Paths.LogDir, name), cmd.OutOrStdout(), logs.Options{
				Lines:  lines,
				Follow: follow,
				Match:  task,
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 20, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new log lines")
	cmd.Flags().StringVar(&task, "task", "", "Only show lines mentioning this task id")
	cmd.Flags().BoolVar(&upload, "upload", false, "Show the foreground upload log instead of the daemon log")
	return cmd
}
