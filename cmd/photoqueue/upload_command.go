package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"photoqueue/internal/config"
	"photoqueue/internal/daemon"
	"photoqueue/internal/history"
	"photoqueue/internal/ingest"
	"photoqueue/internal/logging"
	"photoqueue/internal/notifications"
	"photoqueue/internal/queue"
	"photoqueue/internal/transport"
)

type uploadOptions struct {
	concurrency  int
	showProgress bool
}

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var concurrency int
	var noProgress bool

	cmd := &cobra.Command{
		Use:   "upload <path>...",
		Short: "Upload files or directories in the foreground",
		Long: "Upload files or directories without a daemon. Directories are walked " +
			"recursively and non-media files are skipped. Press Ctrl+C to stop; " +
			"uploads in flight are marked failed and can be retried later.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errOut := cmd.ErrOrStderr()
			return runForegroundUpload(runCtx, cfg, args, uploadOptions{
				concurrency:  concurrency,
				showProgress: !noProgress && shouldColorize(errOut),
			}, cmd.OutOrStdout(), errOut)
		},
	}
	cmd.Flags().IntVarP(&concurrency, "concurrency", "j", 0, "Override upload.concurrency for this run")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Print one line per finished file instead of a progress bar")
	return cmd
}

func runForegroundUpload(ctx context.Context, cfg *config.Config, paths []string, opts uploadOptions, out, errOut io.Writer) error {
	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{filepath.Join(cfg.Paths.LogDir, uploadLogName)},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	batch := ingest.Collect(paths, ingest.CollectOptions{AllowedTypes: cfg.Upload.AllowedTypes})
	for _, skipped := range batch.Skipped {
		fmt.Fprintf(errOut, "Skipped %s: %s\n", skipped.Path, skipped.Reason)
	}
	if len(batch.Files) == 0 {
		return errors.New("no media files found")
	}

	uploader, err := transport.New(cfg, logger)
	if err != nil {
		return err
	}
	queueOpts := queue.OptionsFromConfig(cfg)
	if opts.concurrency > 0 {
		queueOpts.Concurrency = opts.concurrency
	}
	mgr := queue.NewManager(queueOpts, uploader, logger)

	handlers := []daemon.EventHandler{
		notifications.NewObserver(notifications.NewService(cfg), cfg.Notifications, logger).Handle,
	}
	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		recorder := history.NewRecorder(store, logger)
		handlers = append(handlers, func(_ context.Context, ev queue.Event) { recorder.Handle(ev) })
	}

	display := newUploadDisplay(out, errOut, opts.showProgress)
	handlers = append(handlers, display.handle)
	pump := daemon.StartEventPump(ctx, mgr, handlers...)

	if err := mgr.Start(ctx); err != nil {
		pump.Drain(0)
		return err
	}
	result := mgr.AddFiles(batch.Files)
	display.begin(result)
	for _, rejection := range result.Rejected {
		fmt.Fprintf(errOut, "Rejected %s: %s\n", rejection.File.Name, rejection.Message)
	}

	waitForIdle(ctx, mgr)
	mgr.Stop()
	pump.Drain(daemon.DrainTimeout)

	summary := mgr.Summary()
	display.finish(summary.Failed == 0 && ctx.Err() == nil)
	printUploadSummary(out, mgr.Snapshot(), summary, logger)

	if err := ctx.Err(); err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d upload(s) failed; see the log in %s", summary.Failed, cfg.Paths.LogDir)
	}
	if summary.Total == 0 && len(result.Rejected) > 0 {
		return errors.New("every file was rejected")
	}
	return nil
}

// waitForIdle blocks until no task is queued or uploading, or ctx ends.
func waitForIdle(ctx context.Context, mgr *queue.Manager) {
	idle := make(chan struct{}, 1)
	unsubscribe := mgr.Subscribe(func(ev queue.Event) {
		if ev.Summary.Idle() {
			select {
			case idle <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	for !mgr.Summary().Idle() {
		select {
		case <-ctx.Done():
			return
		case <-idle:
		}
	}
}

func printUploadSummary(out io.Writer, tasks []queue.Task, summary queue.Summary, logger *slog.Logger) {
	var skipped int
	var failed [][]string
	for _, task := range tasks {
		switch task.Status {
		case queue.StatusSucceeded:
			if task.Result != nil && task.Result.Skipped {
				skipped++
			}
		case queue.StatusFailed:
			reason := ""
			if task.Failure != nil {
				reason = string(task.Failure.Reason)
			}
			failed = append(failed, []string{task.File.Name, reason, truncate(task.ErrorMessage(), 60)})
		}
	}
	fmt.Fprintf(out, "Uploaded %d, skipped %d, failed %d, canceled %d\n",
		summary.Succeeded-skipped, skipped, summary.Failed, summary.Canceled)
	if len(failed) > 0 {
		fmt.Fprint(out, renderTable([]string{"File", "Reason", "Error"}, failed, nil))
	}
	logger.Info("foreground upload finished",
		logging.String(logging.FieldEventType, "upload_run_finished"),
		logging.Int("succeeded", summary.Succeeded),
		logging.Int("skipped", skipped),
		logging.Int("failed", summary.Failed),
		logging.Int("canceled", summary.Canceled),
	)
}

// uploadDisplay renders queue events either as a byte progress bar or as one
// line per finished file.
type uploadDisplay struct {
	out    io.Writer
	errOut io.Writer
	useBar bool

	mu       sync.Mutex
	bar      *progressbar.ProgressBar
	sizes    map[string]int64
	progress map[string]float64
	done     int
}

func newUploadDisplay(out, errOut io.Writer, useBar bool) *uploadDisplay {
	return &uploadDisplay{
		out:      out,
		errOut:   errOut,
		useBar:   useBar,
		sizes:    make(map[string]int64),
		progress: make(map[string]float64),
	}
}

func (d *uploadDisplay) begin(result queue.AddResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var total int64
	counted := make(map[string]struct{}, len(result.Tasks))
	for _, task := range result.Tasks {
		if _, dup := counted[task.ID]; dup {
			continue
		}
		counted[task.ID] = struct{}{}
		d.sizes[task.ID] = task.File.Size
		total += task.File.Size
	}
	if !d.useBar || total == 0 {
		return
	}
	d.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(d.errOut),
		progressbar.OptionSetDescription(d.describeLocked()),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionClearOnFinish(),
	)
}

func (d *uploadDisplay) handle(_ context.Context, ev queue.Event) {
	if ev.Task == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, tracked := d.sizes[ev.Task.ID]; !tracked {
		// Events can precede begin for the first tasks of the batch.
		d.sizes[ev.Task.ID] = ev.Task.File.Size
	}

	switch ev.Kind {
	case queue.EventTaskProgress, queue.EventAttemptStarted:
		d.progress[ev.Task.ID] = ev.Task.Progress
	case queue.EventTaskUpdated:
		switch ev.Task.Status {
		case queue.StatusSucceeded:
			d.progress[ev.Task.ID] = 1
			d.done++
			d.reportLocked("done", ev.Task)
		case queue.StatusFailed:
			d.done++
			d.reportLocked("failed", ev.Task)
		case queue.StatusCanceled:
			d.done++
			d.reportLocked("canceled", ev.Task)
		case queue.StatusQueued:
			d.progress[ev.Task.ID] = 0
			if ev.Previous == queue.StatusFailed {
				d.done--
			}
		}
	}
	d.renderLocked()
}

func (d *uploadDisplay) reportLocked(verb string, task *queue.Task) {
	if d.bar != nil {
		return
	}
	line := fmt.Sprintf("%-8s %s", verb, task.File.Name)
	if task.Failure != nil {
		line += fmt.Sprintf(" (%s: %s)", task.Failure.Reason, task.Failure.Message)
	}
	if task.Result != nil && task.Result.Skipped {
		line += " (already uploaded)"
	}
	fmt.Fprintln(d.out, line)
}

func (d *uploadDisplay) renderLocked() {
	if d.bar == nil {
		return
	}
	var written int64
	for id, fraction := range d.progress {
		written += int64(float64(d.sizes[id]) * fraction)
	}
	d.bar.Describe(d.describeLocked())
	_ = d.bar.Set64(written)
}

func (d *uploadDisplay) describeLocked() string {
	return fmt.Sprintf("uploading %d/%d", d.done, len(d.sizes))
}

func (d *uploadDisplay) finish(complete bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bar == nil {
		return
	}
	if complete {
		_ = d.bar.Finish()
	} else {
		_ = d.bar.Exit()
	}
	d.bar = nil
}
