package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"photoqueue/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a normalized config seeded with unique temp directories
// per test. It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.SocketPath = shortSocketPath(t)
	cfgVal.Transport.Endpoint = "http://127.0.0.1:1/api/photos/upload"
	cfgVal.Transport.LibraryDir = filepath.Join(base, "library")
	cfgVal.Transport.MinFreeSpace = "0"
	cfgVal.Upload.CancelGrace = 1
	cfgVal.Notifications.NtfyTopic = ""
	t.Setenv("NTFY_TOPIC", "")
	t.Setenv("PHOTOQUEUE_API_TOKEN", "")

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.Normalize(); err != nil {
		t.Fatalf("normalize test config: %v", err)
	}
	if err := builder.cfg.Validate(); err != nil {
		t.Fatalf("validate test config: %v", err)
	}
	return builder.cfg
}

// WithLibraryTransport switches uploads to the local library writer.
func WithLibraryTransport() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Transport.Kind = config.TransportLibrary
	}
}

// WithEndpoint points the HTTP transport at the given URL.
func WithEndpoint(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Transport.Kind = config.TransportHTTP
		b.cfg.Transport.Endpoint = url
	}
}

// WithDropDir enables the drop folder watcher under the test base directory.
func WithDropDir() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Ingest.DropDir = filepath.Join(b.baseDir, "drop")
		b.cfg.Ingest.DropSettle = 1
	}
}

// WithNtfyTopic sets the notification endpoint.
func WithNtfyTopic(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = url
	}
}

// WithQueueNotifyMinItems sets the batch size that triggers queue notifications.
func WithQueueNotifyMinItems(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.QueueMinItems = n
	}
}

// WithoutHistory disables the upload journal.
func WithoutHistory() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.History.Enabled = false
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}

// Unix socket paths are limited to ~100 bytes, which long test names in
// t.TempDir easily exceed.
func shortSocketPath(t testing.TB) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "pq")
	if err != nil {
		t.Fatalf("create socket dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "photoqueued.sock")
}
