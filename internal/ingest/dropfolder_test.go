package ingest_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"photoqueue/internal/ingest"
	"photoqueue/internal/testsupport"
)

func TestNewDropFolderRequiresDir(t *testing.T) {
	if folder := ingest.NewDropFolder("", time.Second, nil, &recordingSink{}, nil); folder != nil {
		t.Fatal("expected nil drop folder without a directory")
	}
	var folder *ingest.DropFolder
	if err := folder.Start(context.Background()); err != nil {
		t.Fatalf("nil Start: %v", err)
	}
	folder.Stop()
	if folder.Running() {
		t.Fatal("nil drop folder reported running")
	}
}

func TestDropFolderEnqueuesSettledFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "drop")
	testsupport.WriteMedia(t, filepath.Join(dir, "existing.jpg"), "jpeg", "before start")

	sink := &recordingSink{}
	folder := ingest.NewDropFolder(dir, 30*time.Millisecond, []string{"image/", "video/"}, sink, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := folder.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer folder.Stop()

	waitFor(t, 2*time.Second, func() bool { return len(sink.names()) == 1 })

	testsupport.WriteMedia(t, filepath.Join(dir, "new.png"), "png", "after start")
	testsupport.WriteMedia(t, filepath.Join(dir, ".partial.jpg"), "jpeg", "hidden")
	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("not media\n"), 0o644); err != nil {
		t.Fatalf("write readme: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return len(sink.names()) == 2 })
	time.Sleep(150 * time.Millisecond)

	names := sink.names()
	if len(names) != 2 || names[0] != "existing.jpg" || names[1] != "new.png" {
		t.Fatalf("unexpected enqueued files: %v", names)
	}
}

func TestDropFolderStopsWithContext(t *testing.T) {
	folder := ingest.NewDropFolder(t.TempDir(), 10*time.Millisecond, nil, &recordingSink{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := folder.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !folder.Running() {
		t.Fatal("expected running drop folder")
	}
	cancel()
	waitFor(t, time.Second, func() bool { return !folder.Running() })
}
