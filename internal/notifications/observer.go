package notifications

import (
	"context"
	"log/slog"
	"time"

	"photoqueue/internal/config"
	"photoqueue/internal/logging"
	"photoqueue/internal/queue"
)

// Observer follows the queue and publishes batch and failure notifications.
// A batch starts when work arrives at an idle queue and ends when the queue
// drains again.
type Observer struct {
	svc      Service
	minItems int
	logger   *slog.Logger

	active    bool
	announced bool
	started   time.Time
	size      int
	succeeded int
	failed    int
	canceled  int
}

// NewObserver builds an observer publishing through svc.
func NewObserver(svc Service, cfg config.Notifications, logger *slog.Logger) *Observer {
	if svc == nil {
		svc = noopService{}
	}
	minItems := cfg.QueueMinItems
	if minItems < 1 {
		minItems = 1
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Observer{
		svc:      svc,
		minItems: minItems,
		logger:   logging.NewComponentLogger(logger, "notifier"),
	}
}

// Handle processes one event. Events must arrive in sequence order from a
// single goroutine.
func (o *Observer) Handle(ctx context.Context, ev queue.Event) {
	switch ev.Kind {
	case queue.EventTaskAdded:
		o.begin(ev)
		o.size++
		if o.size == o.minItems && !o.announced && ev.Summary.Uploading > 0 {
			o.announce(ctx, ev)
		}
	case queue.EventAttemptStarted:
		o.begin(ev)
		if !o.announced && o.size >= o.minItems {
			o.announce(ctx, ev)
		}
	case queue.EventTaskUpdated:
		o.taskUpdated(ctx, ev)
	case queue.EventFilesRejected:
		o.rejected(ctx, ev)
	}
}

func (o *Observer) begin(ev queue.Event) {
	if o.active {
		return
	}
	o.active = true
	o.announced = false
	o.started = ev.At
	o.size = 0
	o.succeeded, o.failed, o.canceled = 0, 0, 0
}

func (o *Observer) announce(ctx context.Context, ev queue.Event) {
	o.announced = true
	o.publish(ctx, EventQueueStarted, Payload{"count": ev.Summary.Pending()})
}

func (o *Observer) taskUpdated(ctx context.Context, ev queue.Event) {
	if ev.Task == nil {
		return
	}
	switch ev.Task.Status {
	case queue.StatusQueued:
		if ev.Previous == queue.StatusFailed {
			o.begin(ev)
			o.size++
		}
	case queue.StatusSucceeded:
		o.succeeded++
	case queue.StatusCanceled:
		o.canceled++
	case queue.StatusFailed:
		o.failed++
		payload := Payload{"file": ev.Task.File.Name}
		if failure := ev.Task.Failure; failure != nil {
			payload["reason"] = string(failure.Reason)
			payload["message"] = failure.Message
			payload["retryable"] = failure.Retryable()
		}
		o.publish(ctx, EventUploadFailed, payload)
	}

	if o.active && ev.Summary.Idle() {
		o.finish(ctx, ev)
	}
}

func (o *Observer) finish(ctx context.Context, ev queue.Event) {
	if o.size >= o.minItems && (o.announced || o.succeeded+o.failed > 0) {
		o.publish(ctx, EventQueueCompleted, Payload{
			"succeeded": o.succeeded,
			"failed":    o.failed,
			"canceled":  o.canceled,
			"duration":  ev.At.Sub(o.started),
		})
	}
	o.active = false
	o.announced = false
}

func (o *Observer) rejected(ctx context.Context, ev queue.Event) {
	if len(ev.Rejected) == 0 {
		return
	}
	names := make([]string, 0, len(ev.Rejected))
	for _, rejection := range ev.Rejected {
		names = append(names, rejection.File.Name)
	}
	o.publish(ctx, EventFilesRejected, Payload{"count": len(names), "files": names})
}

func (o *Observer) publish(ctx context.Context, event Event, payload Payload) {
	if err := o.svc.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(o.logger, "notification failed", "notification_failed",
			logging.Error(err),
			logging.String("notification", string(event)),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network access"),
			logging.String(logging.FieldImpact, "push notification not delivered"),
		)
	}
}
