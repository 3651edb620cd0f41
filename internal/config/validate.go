package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateUpload(); err != nil {
		return err
	}
	if err := c.validateTransport(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateUpload() error {
	if err := ensurePositiveMap(map[string]int{
		"upload.concurrency":  c.Upload.Concurrency,
		"upload.max_attempts": c.Upload.MaxAttempts,
		"upload.cancel_grace": c.Upload.CancelGrace,
	}); err != nil {
		return err
	}
	if c.Upload.maxFileSizeBytes <= 0 {
		return errors.New("upload.max_file_size must be positive")
	}
	if c.Upload.RetryMaxBackoff < c.Upload.RetryInitialBackoff {
		return errors.New("upload.retry_max_backoff must be at least upload.retry_initial_backoff")
	}
	for _, prefix := range c.Upload.AllowedTypes {
		if !strings.Contains(prefix, "/") {
			return fmt.Errorf("upload.allowed_types: %q is not a MIME type or prefix (e.g. \"image/\")", prefix)
		}
	}
	return nil
}

func (c *Config) validateTransport() error {
	switch c.Transport.Kind {
	case TransportHTTP:
		if c.Transport.Endpoint == "" {
			return errors.New("transport.endpoint must be set when transport.kind is \"http\"")
		}
		parsed, err := url.Parse(c.Transport.Endpoint)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return fmt.Errorf("transport.endpoint: %q is not an http(s) URL", c.Transport.Endpoint)
		}
	case TransportLibrary:
		if strings.TrimSpace(c.Transport.LibraryDir) == "" {
			return errors.New("transport.library_dir must be set when transport.kind is \"library\"")
		}
	default:
		return fmt.Errorf("transport.kind: unsupported value %q (want %q or %q)", c.Transport.Kind, TransportHTTP, TransportLibrary)
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.NtfyTopic != "" && c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive when ntfy_topic is set")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
