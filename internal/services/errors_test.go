package services_test

import (
	"errors"
	"strings"
	"testing"

	"photoqueue/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "library", "copy", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"library", "copy", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transient", services.Wrap(services.ErrTransient, "http", "post", "reset", nil), true},
		{"timeout", services.Wrap(services.ErrTimeout, "http", "post", "slow", nil), true},
		{"permanent", services.Wrap(services.ErrPermanent, "http", "post", "bad request", nil), false},
		{"validation", services.Wrap(services.ErrValidation, "http", "post", "bad", nil), false},
		{"plain", errors.New("plain"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := services.IsRetryable(tt.err); got != tt.want {
				t.Fatalf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestDetailsStripsMarker(t *testing.T) {
	err := services.Wrap(services.ErrConflict, "http", "upload", "asset exists", nil)
	if got := services.Details(err); got != "http: upload: asset exists" {
		t.Fatalf("unexpected details %q", got)
	}
	if got := services.Details(errors.New("raw")); got != "raw" {
		t.Fatalf("unexpected details %q", got)
	}
	if got := services.Details(nil); got != "" {
		t.Fatalf("expected empty details, got %q", got)
	}
}
