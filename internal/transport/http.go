package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"photoqueue/internal/logging"
	"photoqueue/internal/queue"
	"photoqueue/internal/services"
)

const (
	defaultFieldName = "files"
	defaultUserAgent = "photoqueue/dev"
	errorBodyLimit   = 2048
)

// Per-file statuses returned by the photo server.
const (
	resultSuccess  = "success"
	resultSkipped  = "skipped"
	resultConflict = "conflict"
	resultError    = "error"
)

// HTTPOptions configures HTTPUploader.
type HTTPOptions struct {
	Endpoint  string
	FieldName string
	APIToken  string
	UserAgent string
	// Client overrides the HTTP client. Uploads rely on the per-attempt
	// context for deadlines, so the default client has no timeout.
	Client *http.Client
}

// HTTPUploader posts files to the photo server's batch upload endpoint one
// file per request.
type HTTPUploader struct {
	endpoint  string
	fieldName string
	token     string
	userAgent string
	client    *http.Client
	logger    *slog.Logger
}

// NewHTTPUploader validates opts and returns an uploader.
func NewHTTPUploader(opts HTTPOptions, logger *slog.Logger) (*HTTPUploader, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	parsed, err := url.Parse(endpoint)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, services.Wrap(
			services.ErrConfiguration,
			"http-transport",
			"new",
			fmt.Sprintf("endpoint %q must be an http(s) URL", endpoint),
			err,
		)
	}
	field := strings.TrimSpace(opts.FieldName)
	if field == "" {
		field = defaultFieldName
	}
	agent := strings.TrimSpace(opts.UserAgent)
	if agent == "" {
		agent = defaultUserAgent
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &HTTPUploader{
		endpoint:  endpoint,
		fieldName: field,
		token:     strings.TrimSpace(opts.APIToken),
		userAgent: agent,
		client:    client,
		logger:    logging.NewComponentLogger(logger, "http-transport"),
	}, nil
}

type batchResponse struct {
	Results        []fileResult `json:"results"`
	HasConflicts   bool         `json:"has_conflicts"`
	TotalConflicts int          `json:"total_conflicts"`
}

type fileResult struct {
	Filename  string            `json:"filename"`
	Status    string            `json:"status"`
	Message   string            `json:"message,omitempty"`
	AssetID   string            `json:"asset_id,omitempty"`
	VersionID string            `json:"version_id,omitempty"`
	Conflicts []json.RawMessage `json:"conflicts,omitempty"`
}

// Upload streams file as a multipart request and interprets the server's
// verdict for it.
func (u *HTTPUploader) Upload(ctx context.Context, file queue.FileRef, onProgress queue.ProgressFunc) (queue.Result, error) {
	reader, err := file.OpenReader()
	if err != nil {
		return queue.Result{}, services.Wrap(services.ErrPermanent, "http-transport", "open file", file.Name, err)
	}

	body, contentType := u.streamBody(file, reader, onProgress)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, body)
	if err != nil {
		_ = body.Close()
		return queue.Result{}, services.Wrap(services.ErrConfiguration, "http-transport", "build request", "", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", u.userAgent)
	if u.token != "" {
		req.Header.Set("Authorization", "Bearer "+u.token)
	}

	logger := logging.WithContext(ctx, u.logger)
	logger.Debug("upload request started",
		logging.String(logging.FieldFile, file.Name),
		logging.Int64("size_bytes", file.Size),
		logging.String("endpoint", u.endpoint),
	)

	resp, err := u.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return queue.Result{}, fmt.Errorf("upload %s: %w", file.Name, ctxErr)
		}
		return queue.Result{}, services.Wrap(services.ErrTransient, "http-transport", "post", file.Name, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return queue.Result{}, err
	}

	var decoded batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return queue.Result{}, services.Wrap(services.ErrPermanent, "http-transport", "decode response", "", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	entry, ok := pickResult(decoded.Results, file.Name)
	if !ok {
		return queue.Result{}, services.Wrap(services.ErrPermanent, "http-transport", "decode response", "server returned no result for file", nil)
	}
	result, err := interpret(entry)
	if err == nil {
		logger.Debug("upload request finished",
			logging.String(logging.FieldFile, file.Name),
			logging.String(logging.FieldStatus, entry.Status),
			logging.String("asset_id", entry.AssetID),
		)
	}
	return result, err
}

// streamBody pipes the multipart encoding of file into the request without
// buffering it in memory.
func (u *HTTPUploader) streamBody(file queue.FileRef, reader io.ReadCloser, onProgress queue.ProgressFunc) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		defer reader.Close()
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			quoteEscaper.Replace(u.fieldName), quoteEscaper.Replace(file.Name)))
		mimeType := strings.TrimSpace(file.MIMEType)
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		header.Set("Content-Type", mimeType)

		part, err := writer.CreatePart(header)
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		counter := &progressWriter{total: file.Size, onProgress: onProgress}
		if _, err := io.Copy(io.MultiWriter(part, counter), reader); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if err := writer.Close(); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.Close()
	}()

	return pr, writer.FormDataContentType()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	message := fmt.Sprintf("server returned %d", resp.StatusCode)
	if detail := serverDetail(body); detail != "" {
		message = fmt.Sprintf("%s: %s", message, detail)
	}

	marker := services.ErrPermanent
	switch {
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		marker = services.ErrTransient
	case resp.StatusCode == http.StatusUnsupportedMediaType:
		marker = services.ErrUnsupported
	case resp.StatusCode == http.StatusConflict:
		marker = services.ErrConflict
	}
	return services.Wrap(marker, "http-transport", "post", message, nil)
}

// serverDetail extracts the "detail" field error responses carry, falling
// back to the raw body.
func serverDetail(body []byte) string {
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && strings.TrimSpace(payload.Detail) != "" {
		return strings.TrimSpace(payload.Detail)
	}
	return strings.TrimSpace(string(body))
}

func pickResult(results []fileResult, name string) (fileResult, bool) {
	for _, result := range results {
		if result.Filename == name {
			return result, true
		}
	}
	if len(results) > 0 {
		return results[0], true
	}
	return fileResult{}, false
}

func interpret(entry fileResult) (queue.Result, error) {
	message := strings.TrimSpace(entry.Message)
	switch strings.ToLower(strings.TrimSpace(entry.Status)) {
	case resultSuccess:
		return queue.Result{
			RemoteID:  entry.AssetID,
			VersionID: entry.VersionID,
			Message:   message,
		}, nil
	case resultSkipped:
		if message == "" {
			message = "identical file already exists"
		}
		return queue.Result{Skipped: true, Message: message}, nil
	case resultConflict:
		if message == "" {
			message = fmt.Sprintf("%d potential duplicate(s) found", len(entry.Conflicts))
		}
		return queue.Result{}, services.Wrap(services.ErrConflict, "http-transport", "upload", message, nil)
	case resultError:
		if message == "" {
			message = "server rejected file"
		}
		marker := services.ErrPermanent
		if strings.Contains(strings.ToLower(message), "unsupported") {
			marker = services.ErrUnsupported
		}
		return queue.Result{}, services.Wrap(marker, "http-transport", "upload", message, nil)
	default:
		return queue.Result{}, services.Wrap(
			services.ErrPermanent,
			"http-transport",
			"upload",
			fmt.Sprintf("unexpected result status %q", entry.Status),
			nil,
		)
	}
}
