package daemon

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"photoqueue/internal/queue"
)

// EventHandler consumes one queue event. Handlers run in sequence order on a
// single goroutine.
type EventHandler func(ctx context.Context, ev queue.Event)

// EventPump feeds queue events to a fixed set of handlers. Its context is
// detached from the caller so the final task states of a shutdown still reach
// every handler before Drain returns.
type EventPump struct {
	mgr       *queue.Manager
	handlers  []EventHandler
	cancel    context.CancelFunc
	processed atomic.Uint64
	advanced  chan struct{}
	wg        sync.WaitGroup
}

// StartEventPump subscribes to mgr and starts delivering events.
func StartEventPump(ctx context.Context, mgr *queue.Manager, handlers ...EventHandler) *EventPump {
	pumpCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &EventPump{mgr: mgr, handlers: handlers, cancel: cancel, advanced: make(chan struct{}, 1)}
	events := mgr.Events(pumpCtx)
	p.wg.Add(1)
	go p.run(pumpCtx, events)
	return p
}

func (p *EventPump) run(ctx context.Context, events <-chan queue.Event) {
	defer p.wg.Done()
	for ev := range events {
		for _, handle := range p.handlers {
			handle(ctx, ev)
		}
		p.markProcessed(ev.Seq)
	}
}

// markProcessed raises the processed mark to seq. Deliveries from concurrent
// publishers may arrive out of order, so the mark only moves forward.
func (p *EventPump) markProcessed(seq uint64) {
	for {
		current := p.processed.Load()
		if seq <= current {
			return
		}
		if p.processed.CompareAndSwap(current, seq) {
			break
		}
	}
	select {
	case p.advanced <- struct{}{}:
	default:
	}
}

// Processed returns the sequence number of the last fully handled event.
func (p *EventPump) Processed() uint64 {
	return p.processed.Load()
}

// Drain waits up to timeout for every event published so far to be handled,
// then stops the pump.
func (p *EventPump) Drain(timeout time.Duration) {
	target := p.mgr.LastSeq()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
wait:
	for p.processed.Load() < target {
		select {
		case <-p.advanced:
		case <-timer.C:
			break wait
		}
	}
	p.cancel()
	p.wg.Wait()
}
