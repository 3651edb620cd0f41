package queue_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"photoqueue/internal/queue"
	"photoqueue/internal/services"
)

type kindError string

func (e kindError) Error() string     { return "classified: " + string(e) }
func (e kindError) ErrorKind() string { return string(e) }

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantKind   queue.FailureKind
		wantReason queue.FailureReason
	}{
		{"transient marker", services.Wrap(services.ErrTransient, "http", "post", "reset", nil), queue.FailureTransient, queue.ReasonNetwork},
		{"timeout marker", services.Wrap(services.ErrTimeout, "http", "post", "slow", nil), queue.FailureTransient, queue.ReasonTimeout},
		{"deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), queue.FailureTransient, queue.ReasonTimeout},
		{"conflict", services.Wrap(services.ErrConflict, "http", "post", "exists", nil), queue.FailurePermanent, queue.ReasonConflict},
		{"unsupported", services.Wrap(services.ErrUnsupported, "http", "post", "heic", nil), queue.FailurePermanent, queue.ReasonUnsupported},
		{"permanent", services.Wrap(services.ErrPermanent, "http", "post", "400", nil), queue.FailurePermanent, queue.ReasonRejected},
		{"validation", services.Wrap(services.ErrValidation, "http", "post", "bad", nil), queue.FailurePermanent, queue.ReasonRejected},
		{"classifier network", kindError("network"), queue.FailureTransient, queue.ReasonNetwork},
		{"classifier timeout", fmt.Errorf("wrapped: %w", kindError("timeout")), queue.FailureTransient, queue.ReasonTimeout},
		{"classifier other", kindError("quota"), queue.FailurePermanent, queue.ReasonRejected},
		{"net timeout", fmt.Errorf("dial: %w", timeoutNetError{}), queue.FailureTransient, queue.ReasonTimeout},
		{"unclassified", errors.New("mystery"), queue.FailurePermanent, queue.ReasonUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := queue.ClassifyFailure(tt.err)
			if got.Kind != tt.wantKind || got.Reason != tt.wantReason {
				t.Fatalf("ClassifyFailure = %s/%s, want %s/%s", got.Kind, got.Reason, tt.wantKind, tt.wantReason)
			}
			if got.Message == "" {
				t.Fatal("expected message")
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	if status, ok := queue.ParseStatus(" Uploading "); !ok || status != queue.StatusUploading {
		t.Fatalf("unexpected parse: %s %v", status, ok)
	}
	if _, ok := queue.ParseStatus("bogus"); ok {
		t.Fatal("expected unknown status")
	}
	if len(queue.AllStatuses()) != 5 {
		t.Fatal("expected five statuses")
	}
}
