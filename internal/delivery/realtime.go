package delivery

import (
	"context"
	"time"

	"github.com/vinayprograms/crucible/internal/bus"
	"github.com/vinayprograms/crucible/internal/routing"
)

// realtimeDriver delivers each event immediately, one at a time, in a
// single background goroutine fed by a bounded channel of
// realtimeBufferHint slots; when the channel is full, Submit applies the
// subscription's backpressure policy — realtime subscribers are expected
// to keep up.
type realtimeDriver struct {
	sub         *routing.Subscription
	sink        Sink
	deadLetters *DeadLetterSink
	onFailure   FailurePublisher

	events chan bus.DaemonEvent
	done   chan struct{}
}

func newRealtimeDriver(sub *routing.Subscription, sink Sink, deadLetters *DeadLetterSink, onFailure FailurePublisher) *realtimeDriver {
	d := &realtimeDriver{
		sub:         sub,
		sink:        sink,
		deadLetters: deadLetters,
		onFailure:   onFailure,
		events:      make(chan bus.DaemonEvent, realtimeBufferHint),
		done:        make(chan struct{}),
	}
	go d.run()
	return d
}

const realtimeBufferHint = 64

func (d *realtimeDriver) run() {
	for event := range d.events {
		ctx, cancel := context.WithTimeout(context.Background(), realtimeDeliveryTimeout)
		_ = deliverWithRetry(ctx, d.sub, event, d.sink, d.deadLetters, d.onFailure)
		cancel()
	}
	close(d.done)
}

const realtimeDeliveryTimeout = 30 * time.Second

// Submit enqueues event for immediate delivery. Per the subscription's
// backpressure policy, a full buffer either drops an event or (default)
// blocks the caller until the worker frees a slot — Realtime subscriptions are expected to
// consume promptly, so ApplyBackpressure here means "the bridge's dispatch
// loop slows to match this subscriber", which is the intended shape of
// backpressure propagating upstream to the producer.
func (d *realtimeDriver) Submit(event bus.DaemonEvent) {
	switch d.sub.Delivery.Backpressure {
	case routing.BackpressureDropNewest:
		select {
		case d.events <- event:
		default:
		}
	case routing.BackpressureDropOldest:
		select {
		case d.events <- event:
		default:
			select {
			case <-d.events:
			default:
			}
			select {
			case d.events <- event:
			default:
			}
		}
	default:
		d.events <- event
	}
}

func (d *realtimeDriver) Close() {
	close(d.events)
	<-d.done
}
