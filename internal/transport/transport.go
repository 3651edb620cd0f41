package transport

import (
	"fmt"
	"log/slog"
	"strings"

	"photoqueue/internal/config"
	"photoqueue/internal/queue"
	"photoqueue/internal/services"
)

// New builds the uploader selected by transport.kind.
func New(cfg *config.Config, logger *slog.Logger) (queue.Uploader, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "transport", "new", "config is required", nil)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Transport.Kind)) {
	case "", config.TransportHTTP:
		return NewHTTPUploader(HTTPOptions{
			Endpoint:  cfg.Transport.Endpoint,
			FieldName: cfg.Transport.FieldName,
			APIToken:  cfg.Transport.APIToken,
			UserAgent: cfg.Transport.UserAgent,
		}, logger)
	case config.TransportLibrary:
		return NewLibraryUploader(LibraryOptions{
			Dir:          cfg.Transport.LibraryDir,
			MinFreeSpace: cfg.Transport.MinFreeSpaceBytes(),
		}, logger)
	default:
		return nil, services.Wrap(
			services.ErrConfiguration,
			"transport",
			"new",
			fmt.Sprintf("unknown transport kind %q", cfg.Transport.Kind),
			nil,
		)
	}
}

// progressWriter counts bytes passing through and reports them as a
// fraction of total.
type progressWriter struct {
	total      int64
	written    int64
	onProgress queue.ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n := len(b)
	p.written += int64(n)
	if p.onProgress != nil && p.total > 0 {
		fraction := float64(p.written) / float64(p.total)
		if fraction > 1 {
			fraction = 1
		}
		p.onProgress(fraction)
	}
	return n, nil
}
