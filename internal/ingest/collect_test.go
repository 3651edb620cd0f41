package ingest_test

import (
	"os"
	"path/filepath"
	"testing"

	"photoqueue/internal/ingest"
	"photoqueue/internal/testsupport"
)

func TestCollectWalksDirectoriesAndFiltersNonMedia(t *testing.T) {
	root := t.TempDir()
	testsupport.WriteMedia(t, filepath.Join(root, "b.jpg"), "jpeg", "one")
	testsupport.WriteMedia(t, filepath.Join(root, "nested", "a.png"), "png", "two")
	testsupport.WriteMedia(t, filepath.Join(root, "nested", "clip.mp4"), "mp4", "three")
	testsupport.WriteMedia(t, filepath.Join(root, ".thumbs", "c.jpg"), "jpeg", "hidden")
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hello world\n"), 0o644); err != nil {
		t.Fatalf("write notes: %v", err)
	}

	batch := ingest.Collect([]string{root}, ingest.CollectOptions{AllowedTypes: []string{"image/", "video/"}})

	got := make(map[string]string)
	for _, file := range batch.Files {
		got[file.Name] = file.MIMEType
		if !filepath.IsAbs(file.Path) {
			t.Fatalf("expected absolute path, got %q", file.Path)
		}
		if file.Size <= 0 || file.ModTime.IsZero() {
			t.Fatalf("expected size and modtime for %s", file.Name)
		}
	}
	want := map[string]string{"b.jpg": "image/jpeg", "a.png": "image/png", "clip.mp4": "video/mp4"}
	if len(got) != len(want) {
		t.Fatalf("collected %v, want %v", got, want)
	}
	for name, mimeType := range want {
		if got[name] != mimeType {
			t.Fatalf("%s: mime %q, want %q", name, got[name], mimeType)
		}
	}
	if len(batch.Skipped) != 1 || filepath.Base(batch.Skipped[0].Path) != "notes.txt" {
		t.Fatalf("expected notes.txt to be skipped, got %+v", batch.Skipped)
	}
}

func TestCollectKeepsExplicitFilesAndReportsMissing(t *testing.T) {
	root := t.TempDir()
	notes := filepath.Join(root, "notes.txt")
	if err := os.WriteFile(notes, []byte("plain text\n"), 0o644); err != nil {
		t.Fatalf("write notes: %v", err)
	}
	photo := filepath.Join(root, "a.jpg")
	testsupport.WriteMedia(t, photo, "jpeg", "x")

	batch := ingest.Collect([]string{notes, photo, photo, filepath.Join(root, "missing.jpg")}, ingest.CollectOptions{
		AllowedTypes: []string{"image/"},
	})
	if len(batch.Files) != 2 {
		t.Fatalf("expected explicit files to pass through once each, got %d", len(batch.Files))
	}
	if batch.Files[0].Name != "notes.txt" || batch.Files[0].MIMEType != "text/plain" {
		t.Fatalf("unexpected first file: %+v", batch.Files[0])
	}
	if len(batch.Skipped) != 1 || batch.Skipped[0].Reason != "no such file or directory" {
		t.Fatalf("unexpected skipped: %+v", batch.Skipped)
	}
}

func TestCollectExplicitFileOverridesWalkFilter(t *testing.T) {
	root := t.TempDir()
	notes := filepath.Join(root, "notes.txt")
	if err := os.WriteFile(notes, []byte("plain text\n"), 0o644); err != nil {
		t.Fatalf("write notes: %v", err)
	}
	testsupport.WriteMedia(t, filepath.Join(root, "a.jpg"), "jpeg", "x")

	batch := ingest.Collect([]string{root, notes}, ingest.CollectOptions{
		AllowedTypes: []string{"image/"},
	})
	names := make([]string, 0, len(batch.Files))
	for _, file := range batch.Files {
		names = append(names, file.Name)
	}
	if len(names) != 2 || names[0] != "a.jpg" || names[1] != "notes.txt" {
		t.Fatalf("expected walked photo and explicit notes, got %v", names)
	}
	if len(batch.Skipped) != 0 {
		t.Fatalf("explicitly named file should not stay skipped, got %+v", batch.Skipped)
	}
}

func TestDetectTypeFallsBackToExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbled.png")
	if err := os.WriteFile(path, []byte{0x00, 0x01, 0x02, 0x03}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := ingest.DetectType(path); got != "image/png" {
		t.Fatalf("DetectType = %q", got)
	}
}
