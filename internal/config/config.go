package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains state, log, and socket locations.
type Paths struct {
	StateDir   string `toml:"state_dir"`
	LogDir     string `toml:"log_dir"`
	SocketPath string `toml:"socket_path"`
}

// Upload contains the queue policy: validation limits, concurrency, retry and
// cancellation timing.
type Upload struct {
	Concurrency         int      `toml:"concurrency"`
	MaxAttempts         int      `toml:"max_attempts"`
	MaxFileSize         string   `toml:"max_file_size"`
	AllowedTypes        []string `toml:"allowed_types"`
	AttemptTimeout      int      `toml:"attempt_timeout"`
	CancelGrace         int      `toml:"cancel_grace"`
	RetryInitialBackoff int      `toml:"retry_initial_backoff"`
	RetryMaxBackoff     int      `toml:"retry_max_backoff"`
	TaskRetention       int      `toml:"task_retention"`

	maxFileSizeBytes int64
}

// Transport selects and configures where uploads go.
type Transport struct {
	Kind         string `toml:"kind"`
	Endpoint     string `toml:"endpoint"`
	FieldName    string `toml:"field_name"`
	APIToken     string `toml:"api_token"`
	UserAgent    string `toml:"user_agent"`
	LibraryDir   string `toml:"library_dir"`
	MinFreeSpace string `toml:"min_free_space"`

	minFreeSpaceBytes uint64
}

// Ingest configures the automatic ingestion adapters.
type Ingest struct {
	DropDir          string `toml:"drop_dir"`
	DropSettle       int    `toml:"drop_settle"`
	CardWatch        bool   `toml:"card_watch"`
	CardSubdir       string `toml:"card_subdir"`
	CardMountTimeout int    `toml:"card_mount_timeout"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Queue          bool   `toml:"queue"`
	Failures       bool   `toml:"failures"`
	Rejections     bool   `toml:"rejections"`
	QueueMinItems  int    `toml:"queue_min_items"`
}

// History configures the SQLite upload journal.
type History struct {
	Enabled       bool   `toml:"enabled"`
	Path          string `toml:"path"`
	RetentionDays int    `toml:"retention_days"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for photoqueue.
//
// Configuration sections by subsystem:
//   - Paths: state, logs and the daemon control socket
//   - Upload: validation limits, concurrency, retry and cancel timing
//   - Transport: HTTP endpoint or local library destination
//   - Ingest: drop folder and camera card watchers
//   - Notifications: ntfy push notification settings
//   - History: upload journal
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Upload        Upload        `toml:"upload"`
	Transport     Transport     `toml:"transport"`
	Ingest        Ingest        `toml:"ingest"`
	Notifications Notifications `toml:"notifications"`
	History       History       `toml:"history"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("photoqueue.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// The library directory is created on a best-effort basis so the daemon can
// run when external storage is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Transport.Kind == TransportLibrary && strings.TrimSpace(c.Transport.LibraryDir) != "" {
		_ = os.MkdirAll(c.Transport.LibraryDir, 0o755)
	}
	if c.Ingest.DropDir != "" {
		if err := os.MkdirAll(c.Ingest.DropDir, 0o755); err != nil {
			return fmt.Errorf("create drop directory %q: %w", c.Ingest.DropDir, err)
		}
	}
	return nil
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "photoqueued.lock")
}

// MaxFileSizeBytes returns the parsed upload.max_file_size.
func (u Upload) MaxFileSizeBytes() int64 {
	return u.maxFileSizeBytes
}

// AttemptTimeoutDuration returns the per-attempt deadline, zero when disabled.
func (u Upload) AttemptTimeoutDuration() time.Duration {
	return seconds(u.AttemptTimeout)
}

// CancelGraceDuration returns how long a canceled upload may keep its slot.
func (u Upload) CancelGraceDuration() time.Duration {
	return seconds(u.CancelGrace)
}

// RetryBackoff returns the initial and maximum automatic retry delays.
func (u Upload) RetryBackoff() (time.Duration, time.Duration) {
	return seconds(u.RetryInitialBackoff), seconds(u.RetryMaxBackoff)
}

// TaskRetentionDuration returns how long terminal tasks stay visible, zero to keep them.
func (u Upload) TaskRetentionDuration() time.Duration {
	return seconds(u.TaskRetention)
}

// MinFreeSpaceBytes returns the parsed transport.min_free_space.
func (t Transport) MinFreeSpaceBytes() uint64 {
	return t.minFreeSpaceBytes
}

// DropSettleDuration returns how long a dropped file must stay unchanged before ingest.
func (i Ingest) DropSettleDuration() time.Duration {
	return seconds(i.DropSettle)
}

// CardMountTimeoutDuration returns how long to wait for an inserted card to mount.
func (i Ingest) CardMountTimeoutDuration() time.Duration {
	return seconds(i.CardMountTimeout)
}

func seconds(value int) time.Duration {
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func parseSize(field, value string) (uint64, error) {
	parsed, err := humanize.ParseBytes(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s: invalid size %q: %w", field, value, err)
	}
	return parsed, nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}

// Normalize applies path expansion, environment fallbacks and size parsing to
// a config built in code rather than loaded from disk.
func (c *Config) Normalize() error {
	return c.normalize()
}
