package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"photoqueue/internal/ipc"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "add <path>...",
		Short: "Queue files or directories on the running daemon",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := make([]string, 0, len(args))
			for _, arg := range args {
				abs, err := filepath.Abs(arg)
				if err != nil {
					return fmt.Errorf("resolve %q: %w", arg, err)
				}
				paths = append(paths, abs)
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Add(paths)
				if err != nil {
					return err
				}
				if resp == nil {
					return errors.New("missing add response")
				}
				if jsonOutput {
					return writeJSON(cmd, resp)
				}
				printAddResponse(cmd.OutOrStdout(), resp)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func printAddResponse(out io.Writer, resp *ipc.AddResponse) {
	fmt.Fprintf(out, "Queued %d file(s)", resp.Created)
	if resp.Duplicates > 0 {
		fmt.Fprintf(out, ", %d already queued", resp.Duplicates)
	}
	fmt.Fprintln(out)
	for _, rejection := range resp.Rejected {
		fmt.Fprintf(out, "Rejected %s: %s\n", rejection.FileName, rejection.Message)
	}
	for _, skipped := range resp.Skipped {
		fmt.Fprintf(out, "Skipped %s: %s\n", skipped.Path, skipped.Reason)
	}
}
