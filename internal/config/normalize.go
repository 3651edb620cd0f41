package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeUpload(); err != nil {
		return err
	}
	if err := c.normalizeTransport(); err != nil {
		return err
	}
	if err := c.normalizeIngest(); err != nil {
		return err
	}
	c.normalizeNotifications()
	if err := c.normalizeHistory(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.StateDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.SocketPath) == "" {
		c.Paths.SocketPath = filepath.Join(c.Paths.StateDir, defaultSocketName)
	}
	if c.Paths.SocketPath, err = expandPath(c.Paths.SocketPath); err != nil {
		return fmt.Errorf("paths.socket_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeUpload() error {
	if c.Upload.Concurrency <= 0 {
		c.Upload.Concurrency = defaultConcurrency
	}
	if c.Upload.MaxAttempts <= 0 {
		c.Upload.MaxAttempts = defaultMaxAttempts
	}
	if strings.TrimSpace(c.Upload.MaxFileSize) == "" {
		c.Upload.MaxFileSize = defaultMaxFileSize
	}
	size, err := parseSize("upload.max_file_size", c.Upload.MaxFileSize)
	if err != nil {
		return err
	}
	c.Upload.maxFileSizeBytes = int64(size)

	types := make([]string, 0, len(c.Upload.AllowedTypes))
	seen := make(map[string]struct{}, len(c.Upload.AllowedTypes))
	for _, value := range c.Upload.AllowedTypes {
		normalized := strings.ToLower(strings.TrimSpace(value))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		types = append(types, normalized)
	}
	if len(types) == 0 {
		types = append(types, DefaultAllowedTypes...)
	}
	c.Upload.AllowedTypes = types

	if c.Upload.AttemptTimeout < 0 {
		c.Upload.AttemptTimeout = 0
	}
	if c.Upload.CancelGrace <= 0 {
		c.Upload.CancelGrace = defaultCancelGrace
	}
	if c.Upload.RetryInitialBackoff <= 0 {
		c.Upload.RetryInitialBackoff = defaultRetryInitialBackoff
	}
	if c.Upload.RetryMaxBackoff <= 0 {
		c.Upload.RetryMaxBackoff = defaultRetryMaxBackoff
	}
	if c.Upload.TaskRetention < 0 {
		c.Upload.TaskRetention = 0
	}
	return nil
}

func (c *Config) normalizeTransport() error {
	c.Transport.Kind = strings.ToLower(strings.TrimSpace(c.Transport.Kind))
	if c.Transport.Kind == "" {
		c.Transport.Kind = defaultTransportKind
	}
	c.Transport.Endpoint = strings.TrimSpace(c.Transport.Endpoint)
	c.Transport.FieldName = strings.TrimSpace(c.Transport.FieldName)
	if c.Transport.FieldName == "" {
		c.Transport.FieldName = defaultFieldName
	}
	c.Transport.UserAgent = strings.TrimSpace(c.Transport.UserAgent)
	if c.Transport.UserAgent == "" {
		c.Transport.UserAgent = defaultUserAgent
	}
	c.Transport.APIToken = strings.TrimSpace(c.Transport.APIToken)
	if c.Transport.APIToken == "" {
		if value, ok := os.LookupEnv("PHOTOQUEUE_API_TOKEN"); ok {
			c.Transport.APIToken = strings.TrimSpace(value)
		}
	}
	var err error
	if strings.TrimSpace(c.Transport.LibraryDir) == "" {
		c.Transport.LibraryDir = defaultLibraryDir
	}
	if c.Transport.LibraryDir, err = expandPath(c.Transport.LibraryDir); err != nil {
		return fmt.Errorf("transport.library_dir: %w", err)
	}
	if strings.TrimSpace(c.Transport.MinFreeSpace) == "" {
		c.Transport.MinFreeSpace = "0"
	}
	if c.Transport.minFreeSpaceBytes, err = parseSize("transport.min_free_space", c.Transport.MinFreeSpace); err != nil {
		return err
	}
	return nil
}

func (c *Config) normalizeIngest() error {
	var err error
	if c.Ingest.DropDir, err = expandPath(strings.TrimSpace(c.Ingest.DropDir)); err != nil {
		return fmt.Errorf("ingest.drop_dir: %w", err)
	}
	if c.Ingest.DropSettle <= 0 {
		c.Ingest.DropSettle = defaultDropSettle
	}
	c.Ingest.CardSubdir = strings.Trim(strings.TrimSpace(c.Ingest.CardSubdir), "/")
	if c.Ingest.CardMountTimeout <= 0 {
		c.Ingest.CardMountTimeout = defaultCardMountTimeout
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.QueueMinItems < 0 {
		c.Notifications.QueueMinItems = 0
	}
}

func (c *Config) normalizeHistory() error {
	var err error
	if strings.TrimSpace(c.History.Path) == "" {
		c.History.Path = filepath.Join(c.Paths.StateDir, "history.db")
	}
	if c.History.Path, err = expandPath(c.History.Path); err != nil {
		return fmt.Errorf("history.path: %w", err)
	}
	if c.History.RetentionDays < 0 {
		c.History.RetentionDays = 0
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
