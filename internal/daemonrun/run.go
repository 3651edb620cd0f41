package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"photoqueue/internal/config"
	"photoqueue/internal/daemon"
	"photoqueue/internal/history"
	"photoqueue/internal/ipc"
	"photoqueue/internal/logging"
	"photoqueue/internal/notifications"
	"photoqueue/internal/queue"
	"photoqueue/internal/transport"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the photoqueue daemon runtime loop.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	logPath := filepath.Join(cfg.Paths.LogDir, "photoqueued.log")
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(logging.String(logging.FieldCorrelationID, uuid.NewString()))

	pidPath := filepath.Join(cfg.Paths.StateDir, "photoqueued.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	logConfigSnapshot(logger, cfg)

	uploader, err := transport.New(cfg, logger)
	if err != nil {
		logger.Error("configure transport", logging.Error(err))
		return err
	}
	mgr := queue.NewManager(queue.OptionsFromConfig(cfg), uploader, logger)

	var store *history.Store
	if cfg.History.Enabled {
		store, err = history.Open(cfg.History.Path)
		if err != nil {
			logger.Error("open history store", logging.Error(err), logging.String("path", cfg.History.Path))
			return err
		}
	}

	notifier := notifications.NewService(cfg)
	d, err := daemon.New(cfg, mgr, store, notifier, logger)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	<-signalCtx.Done()
	logger.Info("photoqueue daemon shutting down",
		logging.String(logging.FieldEventType, "daemon_shutdown"),
		logging.Int("pending", mgr.Summary().Pending()),
	)
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("transport", cfg.Transport.Kind),
		logging.Bool("api_token_present", strings.TrimSpace(cfg.Transport.APIToken) != ""),
		logging.Int("concurrency", cfg.Upload.Concurrency),
		logging.Int("max_attempts", cfg.Upload.MaxAttempts),
		logging.String("max_file_size", cfg.Upload.MaxFileSize),
		logging.String("drop_dir", cfg.Ingest.DropDir),
		logging.Bool("card_watch", cfg.Ingest.CardWatch),
		logging.Bool("ntfy_enabled", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
		logging.Bool("history_enabled", cfg.History.Enabled),
	)
}
