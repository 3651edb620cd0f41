package queue

import (
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"photoqueue/internal/config"
)

const (
	defaultConcurrency    = 3
	defaultMaxAttempts    = 3
	defaultMaxFileSize    = 50 << 20
	defaultCancelGrace    = 5 * time.Second
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second
	progressEventStep     = 0.01
)

// Options controls queue policy. Zero values fall back to defaults.
type Options struct {
	Concurrency         int
	MaxAttempts         int
	MaxFileSize         int64
	AllowedTypes        []string
	AttemptTimeout      time.Duration
	CancelGrace         time.Duration
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	// Retention evicts finished tasks enqueued longer ago than this. Zero keeps them.
	Retention time.Duration

	Now   func() time.Time
	NewID func() string
}

// DefaultOptions returns the standard policy: three concurrent uploads, three
// attempts, 50 MiB limit, images and videos only.
func DefaultOptions() Options {
	return Options{}.withDefaults()
}

// OptionsFromConfig maps the [upload] config section onto queue options.
func OptionsFromConfig(cfg *config.Config) Options {
	if cfg == nil {
		return DefaultOptions()
	}
	initial, maxBackoff := cfg.Upload.RetryBackoff()
	return Options{
		Concurrency:         cfg.Upload.Concurrency,
		MaxAttempts:         cfg.Upload.MaxAttempts,
		MaxFileSize:         cfg.Upload.MaxFileSizeBytes(),
		AllowedTypes:        append([]string(nil), cfg.Upload.AllowedTypes...),
		AttemptTimeout:      cfg.Upload.AttemptTimeoutDuration(),
		CancelGrace:         cfg.Upload.CancelGraceDuration(),
		RetryInitialBackoff: initial,
		RetryMaxBackoff:     maxBackoff,
		Retention:           cfg.Upload.TaskRetentionDuration(),
	}.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = defaultConcurrency
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = defaultMaxFileSize
	}
	types := make([]string, 0, len(o.AllowedTypes))
	for _, value := range o.AllowedTypes {
		if normalized := strings.ToLower(strings.TrimSpace(value)); normalized != "" {
			types = append(types, normalized)
		}
	}
	if len(types) == 0 {
		types = append(types, config.DefaultAllowedTypes...)
	}
	o.AllowedTypes = types
	if o.AttemptTimeout < 0 {
		o.AttemptTimeout = 0
	}
	if o.CancelGrace <= 0 {
		o.CancelGrace = defaultCancelGrace
	}
	if o.RetryInitialBackoff <= 0 {
		o.RetryInitialBackoff = defaultInitialBackoff
	}
	if o.RetryMaxBackoff < o.RetryInitialBackoff {
		o.RetryMaxBackoff = max(defaultMaxBackoff, o.RetryInitialBackoff)
	}
	if o.Retention < 0 {
		o.Retention = 0
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return o
}

func (o Options) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.RetryInitialBackoff
	b.MaxInterval = o.RetryMaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
