package notify

import (
	"context"
	"log"
	"time"

	"route-deviation-service/internal/domain"
	"route-deviation-service/internal/engine"
)

// AsyncEmitter decouples event delivery from the escalation paths: Emit
// enqueues onto a buffered channel and returns immediately, and a worker
// drains the queue against the wrapped emitter with a per-event timeout.
//
// When the buffer is full the event is dropped and counted rather than
// blocking the caller; the escalation re-fires on the next threshold or
// sweep if the warning truly never reached staff.
type AsyncEmitter struct {
	inner    Emitter
	ch       chan domain.Event
	timeout  time.Duration
	counters *engine.Counters
	done     chan struct{}
}

// NewAsyncEmitter wraps inner with a buffered queue. Call Run to start the
// worker and Close to drain and stop it.
func NewAsyncEmitter(inner Emitter, buffer int, timeout time.Duration, counters *engine.Counters) *AsyncEmitter {
	if counters == nil {
		counters = &engine.Counters{}
	}
	return &AsyncEmitter{
		inner:    inner,
		ch:       make(chan domain.Event, buffer),
		timeout:  timeout,
		counters: counters,
		done:     make(chan struct{}),
	}
}

// Emit enqueues the event without blocking. Never returns an error; a full
// buffer drops the event and increments the drop counter.
func (e *AsyncEmitter) Emit(_ context.Context, ev domain.Event) error {
	select {
	case e.ch <- ev:
	default:
		e.counters.NotificationDrops.Add(1)
	}
	return nil
}

// Run drains the queue until ctx is cancelled, then flushes whatever is
// still buffered.
func (e *AsyncEmitter) Run(ctx context.Context) {
	defer close(e.done)

	for {
		select {
		case ev := <-e.ch:
			e.deliver(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-e.ch:
					e.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

// Close waits for the worker started by Run to exit.
func (e *AsyncEmitter) Close() {
	<-e.done
}

func (e *AsyncEmitter) deliver(ev domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	if err := e.inner.Emit(ctx, ev); err != nil {
		e.counters.NotificationFails.Add(1)
		log.Printf("notification delivery failed trip=%s kind=%s err=%v", ev.TripID(), ev.Kind(), err)
		return
	}
	e.counters.NotificationsSent.Add(1)
}
