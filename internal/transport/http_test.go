package transport_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"photoqueue/internal/queue"
	"photoqueue/internal/services"
	"photoqueue/internal/transport"
)

func memoryFile(name, mimeType, content string) queue.FileRef {
	return queue.FileRef{
		Name:     name,
		MIMEType: mimeType,
		Size:     int64(len(content)),
		ModTime:  time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

type progressLog struct {
	mu     sync.Mutex
	values []float64
}

func (p *progressLog) record(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = append(p.values, v)
}

func (p *progressLog) last() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.values) == 0 {
		return 0
	}
	return p.values[len(p.values)-1]
}

func newHTTPUploader(t *testing.T, endpoint string) *transport.HTTPUploader {
	t.Helper()
	uploader, err := transport.NewHTTPUploader(transport.HTTPOptions{
		Endpoint:  endpoint,
		APIToken:  "secret",
		UserAgent: "photoqueue/test",
	}, nil)
	if err != nil {
		t.Fatalf("NewHTTPUploader: %v", err)
	}
	return uploader
}

func TestHTTPUploaderSendsMultipartFile(t *testing.T) {
	var (
		gotAuth     string
		gotAgent    string
		gotName     string
		gotType     string
		gotContent  string
		gotFieldCnt int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAgent = r.Header.Get("User-Agent")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		files := r.MultipartForm.File["files"]
		gotFieldCnt = len(files)
		if len(files) == 1 {
			gotName = files[0].Filename
			gotType = files[0].Header.Get("Content-Type")
			f, _ := files[0].Open()
			data, _ := io.ReadAll(f)
			_ = f.Close()
			gotContent = string(data)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"results":[{"filename":"beach.jpg","status":"success","message":"Uploaded","asset_id":"42","version_id":"7"}],"has_conflicts":false,"total_conflicts":0}`)
	}))
	defer srv.Close()

	uploader := newHTTPUploader(t, srv.URL+"/api/photos/upload")
	progress := &progressLog{}
	result, err := uploader.Upload(context.Background(), memoryFile("beach.jpg", "image/jpeg", "jpeg-bytes"), progress.record)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if result.RemoteID != "42" || result.VersionID != "7" || result.Skipped {
		t.Fatalf("unexpected result: %+v", result)
	}
	if gotFieldCnt != 1 || gotName != "beach.jpg" || gotType != "image/jpeg" || gotContent != "jpeg-bytes" {
		t.Fatalf("unexpected multipart part: count=%d name=%q type=%q content=%q", gotFieldCnt, gotName, gotType, gotContent)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotAgent != "photoqueue/test" {
		t.Fatalf("user agent = %q", gotAgent)
	}
	if progress.last() != 1 {
		t.Fatalf("expected final progress 1, got %v", progress.last())
	}
}

func TestHTTPUploaderInterpretsFileResults(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantMarker  error
		wantSkipped bool
		wantReason  queue.FailureReason
	}{
		{
			name:        "skipped duplicate",
			body:        `{"results":[{"filename":"a.jpg","status":"skipped","message":"Identical file already exists - automatically skipped"}]}`,
			wantSkipped: true,
		},
		{
			name:       "conflict",
			body:       `{"results":[{"filename":"a.jpg","status":"conflict","message":"2 potential duplicate(s) found","conflicts":[{},{}]}],"has_conflicts":true,"total_conflicts":2}`,
			wantMarker: services.ErrConflict,
			wantReason: queue.ReasonConflict,
		},
		{
			name:       "unsupported type",
			body:       `{"results":[{"filename":"a.jpg","status":"error","message":"Unsupported file type"}]}`,
			wantMarker: services.ErrUnsupported,
			wantReason: queue.ReasonUnsupported,
		},
		{
			name:       "processing error",
			body:       `{"results":[{"filename":"a.jpg","status":"error","message":"Failed to process file: corrupt"}]}`,
			wantMarker: services.ErrPermanent,
			wantReason: queue.ReasonRejected,
		},
		{
			name:       "empty results",
			body:       `{"results":[]}`,
			wantMarker: services.ErrPermanent,
			wantReason: queue.ReasonRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.Copy(io.Discard, r.Body)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			uploader := newHTTPUploader(t, srv.URL)
			result, err := uploader.Upload(context.Background(), memoryFile("a.jpg", "image/jpeg", "x"), nil)
			if tt.wantMarker == nil {
				if err != nil {
					t.Fatalf("Upload: %v", err)
				}
				if result.Skipped != tt.wantSkipped {
					t.Fatalf("skipped = %v, want %v", result.Skipped, tt.wantSkipped)
				}
				return
			}
			if !errors.Is(err, tt.wantMarker) {
				t.Fatalf("expected %v, got %v", tt.wantMarker, err)
			}
			failure := queue.ClassifyFailure(err)
			if failure.Kind != queue.FailurePermanent || failure.Reason != tt.wantReason {
				t.Fatalf("unexpected classification: %+v", failure)
			}
		})
	}
}

func TestHTTPUploaderMapsStatusCodes(t *testing.T) {
	tests := []struct {
		status     int
		wantMarker error
	}{
		{status: http.StatusInternalServerError, wantMarker: services.ErrTransient},
		{status: http.StatusBadGateway, wantMarker: services.ErrTransient},
		{status: http.StatusTooManyRequests, wantMarker: services.ErrTransient},
		{status: http.StatusRequestTimeout, wantMarker: services.ErrTransient},
		{status: http.StatusBadRequest, wantMarker: services.ErrPermanent},
		{status: http.StatusUnauthorized, wantMarker: services.ErrPermanent},
		{status: http.StatusUnsupportedMediaType, wantMarker: services.ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.Copy(io.Discard, r.Body)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"detail":"Upload failed: disk full"}`)
			}))
			defer srv.Close()

			uploader := newHTTPUploader(t, srv.URL)
			_, err := uploader.Upload(context.Background(), memoryFile("a.jpg", "image/jpeg", "x"), nil)
			if !errors.Is(err, tt.wantMarker) {
				t.Fatalf("expected %v, got %v", tt.wantMarker, err)
			}
			if !strings.Contains(err.Error(), "Upload failed: disk full") {
				t.Fatalf("expected server detail in error, got %q", err.Error())
			}
		})
	}
}

func TestHTTPUploaderNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	uploader := newHTTPUploader(t, endpoint)
	_, err := uploader.Upload(context.Background(), memoryFile("a.jpg", "image/jpeg", "x"), nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if !queue.ClassifyFailure(err).Retryable() {
		t.Fatalf("expected retryable classification for %v", err)
	}
}

func TestHTTPUploaderHonoursCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	uploader := newHTTPUploader(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := uploader.Upload(ctx, memoryFile("a.jpg", "image/jpeg", "x"), nil)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("upload did not stop after cancellation")
	}
}

func TestHTTPUploaderOpenFailureIsPermanent(t *testing.T) {
	uploader := newHTTPUploader(t, "http://127.0.0.1:1")
	file := queue.FileRef{
		Name: "gone.jpg",
		Open: func() (io.ReadCloser, error) { return nil, errors.New("no such file") },
	}
	_, err := uploader.Upload(context.Background(), file, nil)
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestNewHTTPUploaderRejectsBadEndpoint(t *testing.T) {
	for _, endpoint := range []string{"", "ftp://example.com/upload", "not a url"} {
		if _, err := transport.NewHTTPUploader(transport.HTTPOptions{Endpoint: endpoint}, nil); !errors.Is(err, services.ErrConfiguration) {
			t.Fatalf("endpoint %q: expected configuration error, got %v", endpoint, err)
		}
	}
}
