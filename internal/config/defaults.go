package config

const (
	defaultConfigPath          = "~/.config/photoqueue/config.toml"
	defaultStateDir            = "~/.local/share/photoqueue"
	defaultLogDir              = "~/.local/share/photoqueue/logs"
	defaultSocketName          = "photoqueued.sock"
	defaultConcurrency         = 3
	defaultMaxAttempts         = 3
	defaultMaxFileSize         = "50MiB"
	defaultCancelGrace         = 5
	defaultRetryInitialBackoff = 1
	defaultRetryMaxBackoff     = 30
	defaultTransportKind       = TransportHTTP
	defaultEndpoint            = "http://127.0.0.1:8000/api/photos/upload"
	defaultFieldName           = "files"
	defaultUserAgent           = "photoqueue/dev"
	defaultLibraryDir          = "~/Pictures/photoqueue"
	defaultMinFreeSpace        = "1GiB"
	defaultDropSettle          = 2
	defaultCardSubdir          = "DCIM"
	defaultCardMountTimeout    = 30
	defaultNotifyQueueMinItems = 2
	defaultHistoryRetention    = 90
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Transport kinds.
const (
	TransportHTTP    = "http"
	TransportLibrary = "library"
)

// DefaultAllowedTypes lists the MIME prefixes accepted when none are configured.
var DefaultAllowedTypes = []string{"image/", "video/"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Upload: Upload{
			Concurrency:         defaultConcurrency,
			MaxAttempts:         defaultMaxAttempts,
			MaxFileSize:         defaultMaxFileSize,
			AllowedTypes:        append([]string(nil), DefaultAllowedTypes...),
			CancelGrace:         defaultCancelGrace,
			RetryInitialBackoff: defaultRetryInitialBackoff,
			RetryMaxBackoff:     defaultRetryMaxBackoff,
		},
		Transport: Transport{
			Kind:         defaultTransportKind,
			Endpoint:     defaultEndpoint,
			FieldName:    defaultFieldName,
			UserAgent:    defaultUserAgent,
			LibraryDir:   defaultLibraryDir,
			MinFreeSpace: defaultMinFreeSpace,
		},
		Ingest: Ingest{
			DropSettle:       defaultDropSettle,
			CardSubdir:       defaultCardSubdir,
			CardMountTimeout: defaultCardMountTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			Queue:          true,
			Failures:       true,
			Rejections:     true,
			QueueMinItems:  defaultNotifyQueueMinItems,
		},
		History: History{
			Enabled:       true,
			RetentionDays: defaultHistoryRetention,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
