package transport_test

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"photoqueue/internal/queue"
	"photoqueue/internal/services"
	"photoqueue/internal/transport"
)

func newLibrary(t *testing.T, opts transport.LibraryOptions) (*transport.LibraryUploader, string) {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	uploader, err := transport.NewLibraryUploader(opts, nil)
	if err != nil {
		t.Fatalf("NewLibraryUploader: %v", err)
	}
	return uploader, opts.Dir
}

func md5Hex(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

func TestLibraryUploaderStoresByDate(t *testing.T) {
	uploader, dir := newLibrary(t, transport.LibraryOptions{})
	progress := &progressLog{}

	result, err := uploader.Upload(context.Background(), memoryFile("beach.jpg", "image/jpeg", "jpeg-bytes"), progress.record)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if result.Location != "2024/05/beach.jpg" {
		t.Fatalf("location = %q", result.Location)
	}
	if result.Checksum != md5Hex("jpeg-bytes") {
		t.Fatalf("checksum = %q", result.Checksum)
	}
	if result.Skipped {
		t.Fatal("first copy should not be skipped")
	}
	data, err := os.ReadFile(filepath.Join(dir, "2024", "05", "beach.jpg"))
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Fatalf("stored content = %q", data)
	}
	if progress.last() != 1 {
		t.Fatalf("expected final progress 1, got %v", progress.last())
	}

	entries, err := os.ReadDir(filepath.Join(dir, "2024", "05"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the stored file, found %d entries", len(entries))
	}
}

func TestLibraryUploaderSkipsIdenticalAndSuffixesConflicts(t *testing.T) {
	uploader, dir := newLibrary(t, transport.LibraryOptions{})
	ctx := context.Background()

	if _, err := uploader.Upload(ctx, memoryFile("a.jpg", "image/jpeg", "first"), nil); err != nil {
		t.Fatalf("first upload: %v", err)
	}

	again, err := uploader.Upload(ctx, memoryFile("a.jpg", "image/jpeg", "first"), nil)
	if err != nil {
		t.Fatalf("identical upload: %v", err)
	}
	if !again.Skipped || again.Location != "2024/05/a.jpg" {
		t.Fatalf("expected skipped duplicate at original location, got %+v", again)
	}

	different, err := uploader.Upload(ctx, memoryFile("a.jpg", "image/jpeg", "second"), nil)
	if err != nil {
		t.Fatalf("different upload: %v", err)
	}
	if different.Skipped || different.Location != "2024/05/a_1.jpg" {
		t.Fatalf("expected suffixed copy, got %+v", different)
	}

	repeat, err := uploader.Upload(ctx, memoryFile("a.jpg", "image/jpeg", "second"), nil)
	if err != nil {
		t.Fatalf("repeat upload: %v", err)
	}
	if !repeat.Skipped || repeat.Location != "2024/05/a_1.jpg" {
		t.Fatalf("expected duplicate of suffixed copy, got %+v", repeat)
	}

	if _, err := os.Stat(filepath.Join(dir, "2024", "05", "a_2.jpg")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("unexpected extra copy: %v", err)
	}
}

func TestLibraryUploaderChecksFreeSpace(t *testing.T) {
	uploader, _ := newLibrary(t, transport.LibraryOptions{
		MinFreeSpace: 1 << 20,
		Statfs:       func(string) (uint64, error) { return 512, nil },
	})
	_, err := uploader.Upload(context.Background(), memoryFile("a.jpg", "image/jpeg", "x"), nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if !strings.Contains(err.Error(), "insufficient free space") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestLibraryUploaderUsesNowWithoutModTime(t *testing.T) {
	uploader, _ := newLibrary(t, transport.LibraryOptions{
		Now: func() time.Time { return time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC) },
	})
	file := memoryFile("clip.mp4", "video/mp4", "frames")
	file.ModTime = time.Time{}
	result, err := uploader.Upload(context.Background(), file, nil)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if result.Location != "2023/12/clip.mp4" {
		t.Fatalf("location = %q", result.Location)
	}
}

func TestLibraryUploaderStopsWhenCanceled(t *testing.T) {
	uploader, _ := newLibrary(t, transport.LibraryOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := uploader.Upload(ctx, memoryFile("a.jpg", "image/jpeg", "x"), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLibraryUploaderDetectsTruncatedSource(t *testing.T) {
	uploader, _ := newLibrary(t, transport.LibraryOptions{})
	file := memoryFile("a.jpg", "image/jpeg", "short")
	file.Size = 100
	_, err := uploader.Upload(context.Background(), file, nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if got := queue.ClassifyFailure(err).Reason; got != queue.ReasonNetwork {
		t.Fatalf("reason = %q", got)
	}
}

func TestNewLibraryUploaderRequiresDir(t *testing.T) {
	if _, err := transport.NewLibraryUploader(transport.LibraryOptions{Dir: "  "}, nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
