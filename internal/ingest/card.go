package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pilebones/go-udev/netlink"

	"photoqueue/internal/logging"
	"photoqueue/internal/queue"
	"photoqueue/internal/services"
)

const mountPollInterval = 500 * time.Millisecond

// CardOptions configures CardMonitor.
type CardOptions struct {
	// Subdir is the media tree inside a card, "DCIM" by default. Empty
	// imports the whole card.
	Subdir       string
	MountTimeout time.Duration
	AllowedTypes []string
	// MountInfoPath overrides the mount table, /proc/self/mountinfo by
	// default.
	MountInfoPath string
}

// CardMonitor listens for removable partitions over udev netlink and imports
// the media on each one once it is mounted.
type CardMonitor struct {
	opts   CardOptions
	sink   Sink
	logger *slog.Logger

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
	active  map[string]struct{}
}

// NewCardMonitor builds a monitor that feeds sink.
func NewCardMonitor(opts CardOptions, sink Sink, logger *slog.Logger) *CardMonitor {
	if sink == nil {
		return nil
	}
	if opts.MountTimeout <= 0 {
		opts.MountTimeout = 30 * time.Second
	}
	if strings.TrimSpace(opts.MountInfoPath) == "" {
		opts.MountInfoPath = defaultMountInfoPath
	}
	opts.Subdir = strings.Trim(strings.TrimSpace(opts.Subdir), "/")
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CardMonitor{
		opts:   opts,
		sink:   sink,
		logger: logging.NewComponentLogger(logger, "card-monitor"),
		active: make(map[string]struct{}),
	}
}

// Start connects to the udev netlink socket. A failed connection is logged
// and treated as non-fatal; cards can still be imported by path.
func (m *CardMonitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		logging.WarnWithContext(m.logger, "failed to connect to netlink socket; card detection disabled", "netlink_connect_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "ensure the daemon has permission to access netlink sockets"),
			logging.String(logging.FieldImpact, "camera cards must be imported manually"),
		)
		return nil
	}
	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	quit := m.quit
	go m.monitorLoop(ctx, conn, quit)

	m.logger.Info("card monitor started",
		logging.String(logging.FieldEventType, "card_monitor_started"),
		logging.String("subdir", m.opts.Subdir),
	)
	return nil
}

// Stop shuts down the netlink listener.
func (m *CardMonitor) Stop() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	close(m.quit)
	m.quit = nil
	_ = m.conn.Close()
	m.conn = nil
	m.running = false
	m.logger.Info("card monitor stopped",
		logging.String(logging.FieldEventType, "card_monitor_stopped"),
	)
}

// Running reports whether the netlink listener is active.
func (m *CardMonitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *CardMonitor) monitorLoop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	events := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(events, errs, partitionMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-events:
			device := deviceName(uevent)
			if device == "" {
				continue
			}
			go func() {
				if _, err := m.Import(ctx, device); err != nil && !errors.Is(err, context.Canceled) {
					logging.WarnWithContext(m.logger, "card import failed", "card_import_failed",
						logging.Error(err),
						logging.String("device", device),
						logging.String(logging.FieldImpact, "card media not queued"),
						logging.String(logging.FieldErrorHint, "mount the card and run photoqueue add on its DCIM folder"),
					)
				}
			}()
		case err := <-errs:
			logging.WarnWithContext(m.logger, "netlink monitor error", "netlink_monitor_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "card detection may be affected"),
			)
		}
	}
}

// partitionMatcher matches newly added block partitions.
func partitionMatcher() netlink.Matcher {
	action := "add"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "block",
			"DEVTYPE":   "partition",
		},
	})
	return rules
}

func deviceName(uevent netlink.UEvent) string {
	if devname := uevent.Env["DEVNAME"]; devname != "" {
		if !strings.HasPrefix(devname, "/") {
			devname = "/dev/" + devname
		}
		return devname
	}
	devpath := uevent.Env["DEVPATH"]
	if devpath == "" {
		return ""
	}
	return "/dev/" + filepath.Base(devpath)
}

// Import waits for device to be mounted, then enqueues the media below the
// configured subdirectory. Concurrent imports of the same device collapse
// into one.
func (m *CardMonitor) Import(ctx context.Context, device string) (queue.AddResult, error) {
	m.mu.Lock()
	if _, busy := m.active[device]; busy {
		m.mu.Unlock()
		return queue.AddResult{}, nil
	}
	m.active[device] = struct{}{}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.active, device)
		m.mu.Unlock()
	}()

	mount, err := m.waitForMount(ctx, device)
	if err != nil {
		return queue.AddResult{}, err
	}
	root := mount
	if m.opts.Subdir != "" {
		root = filepath.Join(mount, m.opts.Subdir)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		m.logger.Debug("mounted partition has no media tree",
			logging.String("device", device),
			logging.String("mount", mount),
			logging.String("subdir", m.opts.Subdir),
		)
		return queue.AddResult{}, nil
	}

	batch := Collect([]string{root}, CollectOptions{AllowedTypes: m.opts.AllowedTypes})
	if len(batch.Files) == 0 {
		return queue.AddResult{}, nil
	}
	result := m.sink.AddFiles(batch.Files)
	m.logger.Info("camera card imported",
		logging.String(logging.FieldEventType, "card_imported"),
		logging.String("device", device),
		logging.String("mount", mount),
		logging.Int("files", len(batch.Files)),
		logging.Int("created", result.Created),
		logging.Int("duplicates", result.Duplicates),
		logging.Int("rejected", len(result.Rejected)),
	)
	return result, nil
}

func (m *CardMonitor) waitForMount(ctx context.Context, device string) (string, error) {
	deadline := time.Now().Add(m.opts.MountTimeout)
	for {
		mount, err := mountPoint(m.opts.MountInfoPath, device)
		if err != nil {
			return "", services.Wrap(services.ErrExternalTool, "card-monitor", "read mounts", m.opts.MountInfoPath, err)
		}
		if mount != "" {
			return mount, nil
		}
		if !time.Now().Before(deadline) {
			return "", services.Wrap(
				services.ErrTimeout,
				"card-monitor",
				"wait for mount",
				fmt.Sprintf("%s not mounted within %s", device, m.opts.MountTimeout),
				nil,
			)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(mountPollInterval):
		}
	}
}
