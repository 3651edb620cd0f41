package queue

import (
	"context"
	"errors"
	"net"

	"photoqueue/internal/services"
)

var (
	// ErrTaskNotFound is returned for ids the queue does not know.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidState is returned when an action does not apply to the task's
	// current status. The task is left unchanged.
	ErrInvalidState = errors.New("invalid task state")
	// ErrAlreadyRunning is returned by Start on a running manager.
	ErrAlreadyRunning = errors.New("queue manager already running")
)

// ErrorClassifier allows transport errors to declare their classification.
// Kinds "transient", "network", and "timeout" are retried; "conflict" and
// "unsupported" map to their own reasons; every other kind is permanent.
type ErrorClassifier interface {
	ErrorKind() string
}

// ClassifyFailure maps an upload error to a Failure. Errors that carry no
// classification are treated as permanent so they never loop.
func ClassifyFailure(err error) Failure {
	failure := Failure{Kind: FailurePermanent, Reason: ReasonUnknown, Message: services.Details(err)}
	if err == nil {
		return failure
	}

	switch {
	case errors.Is(err, services.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		failure.Kind, failure.Reason = FailureTransient, ReasonTimeout
		return failure
	case errors.Is(err, services.ErrTransient):
		failure.Kind, failure.Reason = FailureTransient, ReasonNetwork
		return failure
	case errors.Is(err, services.ErrConflict):
		failure.Reason = ReasonConflict
		return failure
	case errors.Is(err, services.ErrUnsupported):
		failure.Reason = ReasonUnsupported
		return failure
	case errors.Is(err, services.ErrPermanent), errors.Is(err, services.ErrValidation):
		failure.Reason = ReasonRejected
		return failure
	}

	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		switch classifier.ErrorKind() {
		case "transient", "network":
			failure.Kind, failure.Reason = FailureTransient, ReasonNetwork
		case "timeout":
			failure.Kind, failure.Reason = FailureTransient, ReasonTimeout
		case "conflict":
			failure.Reason = ReasonConflict
		case "unsupported":
			failure.Reason = ReasonUnsupported
		default:
			failure.Reason = ReasonRejected
		}
		return failure
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		failure.Kind, failure.Reason = FailureTransient, ReasonTimeout
	}
	return failure
}
