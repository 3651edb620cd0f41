package history

import (
	"context"
	"errors"
	"testing"
)

type busyError struct{}

func (busyError) Error() string { return "database is locked (5) (SQLITE_BUSY)" }
func (busyError) Code() int     { return sqliteBusyCode }

func TestRetryOnBusy(t *testing.T) {
	other := errors.New("no such table: uploads")

	tests := []struct {
		name      string
		results   []error
		wantCalls int
		wantErr   error
	}{
		{name: "succeeds after busy", results: []error{busyError{}, busyError{}, nil}, wantCalls: 3},
		{name: "other errors are not retried", results: []error{other, nil}, wantCalls: 1, wantErr: other},
		{name: "gives up when always busy", results: nil, wantCalls: busyRetryAttempts, wantErr: busyError{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			err := retryOnBusy(context.Background(), func() error {
				calls++
				if calls <= len(tc.results) {
					return tc.results[calls-1]
				}
				return busyError{}
			})
			if calls != tc.wantCalls {
				t.Fatalf("calls = %d, want %d", calls, tc.wantCalls)
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestRetryOnBusyStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retryOnBusy(ctx, func() error {
		calls++
		cancel()
		return busyError{}
	})
	if calls != 1 || !errors.Is(err, context.Canceled) {
		t.Fatalf("calls = %d, err = %v; want 1 call and context.Canceled", calls, err)
	}
}
