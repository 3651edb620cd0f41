package daemon

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"photoqueue/internal/logging"
	"photoqueue/internal/queue"
)

func pumpFile(name string) queue.FileRef {
	return queue.FileRef{
		Name:     name,
		MIMEType: "image/jpeg",
		Size:     4,
		ModTime:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("data")), nil
		},
	}
}

func TestEventPumpDrainDeliversPublishedEvents(t *testing.T) {
	mgr := queue.NewManager(queue.Options{}, nil, logging.NewNop())

	var (
		mu   sync.Mutex
		seqs []uint64
	)
	pump := StartEventPump(context.Background(), mgr, func(_ context.Context, ev queue.Event) {
		mu.Lock()
		seqs = append(seqs, ev.Seq)
		mu.Unlock()
	})

	mgr.AddFiles([]queue.FileRef{pumpFile("a.jpg"), pumpFile("b.jpg"), pumpFile("c.jpg")})
	pump.Drain(2 * time.Second)

	if got, want := pump.Processed(), mgr.LastSeq(); got != want {
		t.Fatalf("processed = %d, want %d", got, want)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seqs) != 3 {
		t.Fatalf("expected 3 events handled, got %v", seqs)
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Fatalf("events out of order: %v", seqs)
		}
	}
}

func TestEventPumpProcessedNeverMovesBackwards(t *testing.T) {
	p := &EventPump{advanced: make(chan struct{}, 1)}
	p.markProcessed(7)
	p.markProcessed(5)
	if got := p.Processed(); got != 7 {
		t.Fatalf("processed = %d after a stale delivery, want 7", got)
	}
	p.markProcessed(9)
	if got := p.Processed(); got != 9 {
		t.Fatalf("processed = %d, want 9", got)
	}
}

func TestEventPumpDrainGivesUpAfterTimeout(t *testing.T) {
	mgr := queue.NewManager(queue.Options{}, nil, logging.NewNop())
	release := make(chan struct{})
	pump := StartEventPump(context.Background(), mgr, func(context.Context, queue.Event) {
		<-release
	})
	mgr.AddFiles([]queue.FileRef{pumpFile("a.jpg")})

	start := time.Now()
	done := make(chan struct{})
	go func() {
		pump.Drain(20 * time.Millisecond)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Drain did not return")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Drain took %s", elapsed)
	}
}
