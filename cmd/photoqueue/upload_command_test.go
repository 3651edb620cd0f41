package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"photoqueue/internal/testsupport"
)

func TestUploadForegroundToLibrary(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithLibraryTransport())
	configPath := writeTestConfig(t, cfg)

	photos := filepath.Join(testsupport.BaseDir(cfg), "photos")
	testsupport.WriteMedia(t, filepath.Join(photos, "one.jpg"), "jpeg", "one")
	testsupport.WriteMedia(t, filepath.Join(photos, "nested", "two.mp4"), "mp4", "two")
	testsupport.WriteFile(t, filepath.Join(photos, "notes.txt"), 8)

	out, _, err := runCLI(t, []string{"upload", "--no-progress", photos}, "", configPath)
	if err != nil {
		t.Fatalf("upload: %v\n%s", err, out)
	}
	requireContains(t, out, "one.jpg")
	requireContains(t, out, "two.mp4")
	requireContains(t, out, "Uploaded 2, skipped 0, failed 0, canceled 0")

	var stored int
	err = filepath.Walk(cfg.Transport.LibraryDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			stored++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk library: %v", err)
	}
	if stored != 2 {
		t.Fatalf("expected 2 files in library, found %d", stored)
	}

	out, _, err = runCLI(t, []string{"upload", "--no-progress", photos}, "", configPath)
	if err != nil {
		t.Fatalf("second upload: %v", err)
	}
	requireContains(t, out, "Uploaded 0, skipped 2, failed 0, canceled 0")
}

func TestUploadForegroundReportsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		http.Error(w, `{"detail":"bad request"}`, http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	cfg := testsupport.NewConfig(t, testsupport.WithEndpoint(srv.URL+"/api/photos/upload"), testsupport.WithoutHistory())
	configPath := writeTestConfig(t, cfg)

	photo := filepath.Join(testsupport.BaseDir(cfg), "bad.jpg")
	testsupport.WriteMedia(t, photo, "jpeg", "bad")

	out, _, err := runCLI(t, []string{"upload", "--no-progress", photo}, "", configPath)
	if err == nil {
		t.Fatalf("expected upload failure, got output:\n%s", out)
	}
	if !strings.Contains(err.Error(), "1 upload(s) failed") {
		t.Fatalf("unexpected error: %v", err)
	}
	requireContains(t, out, "failed   bad.jpg")
	requireContains(t, out, "rejected")
}

func TestUploadRequiresMedia(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := writeTestConfig(t, cfg)

	_, stderr, err := runCLI(t, []string{"upload", filepath.Join(testsupport.BaseDir(cfg), "nothing-here")}, "", configPath)
	if err == nil || !strings.Contains(err.Error(), "no media files found") {
		t.Fatalf("expected no media error, got %v", err)
	}
	requireContains(t, stderr, "Skipped")
}

func TestLogsShowsUploadLog(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithLibraryTransport(), testsupport.WithoutHistory())
	configPath := writeTestConfig(t, cfg)

	photo := filepath.Join(testsupport.BaseDir(cfg), "logged.jpg")
	testsupport.WriteMedia(t, photo, "jpeg", "log")
	if _, _, err := runCLI(t, []string{"upload", "--no-progress", photo}, "", configPath); err != nil {
		t.Fatalf("upload: %v", err)
	}

	out, _, err := runCLI(t, []string{"logs", "--upload", "-n", "50"}, "", configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "foreground upload finished")
}
