// Package delivery implements the five delivery drivers of §4.C.4:
// Realtime, Batched, Persistent, Conditional, and Priority. Each driver
// wraps a Sink (the actual transport to a plugin, e.g. Plugin IPC) with a
// subscription's backpressure policy, retry/backoff, and — on retry
// exhaustion — dead-letter placement.
package delivery

import (
	"context"
	"time"

	"github.com/vinayprograms/crucible/internal/bus"
	"github.com/vinayprograms/crucible/internal/crucibleerr"
	"github.com/vinayprograms/crucible/internal/ids"
	"github.com/vinayprograms/crucible/internal/logging"
	"github.com/vinayprograms/crucible/internal/routing"
)

// Sink is the actual transport used to hand an event to a subscriber, e.g.
// a Plugin IPC connection. Returning an error means delivery failed and
// should be retried per the subscription's DeliveryOptions.
type Sink func(ctx context.Context, sub *routing.Subscription, event bus.DaemonEvent) error

// FailurePublisher publishes a DaemonEvent produced as a side effect of the
// delivery pipeline itself (currently: DeliveryFailed on retry exhaustion,
// §4.C.4 retry contract). nil means no publication happens, which is fine
// for tests that construct drivers directly.
type FailurePublisher func(event bus.DaemonEvent)

// Driver is the common interface every delivery-driver kind implements.
// Submit does not wait for delivery to complete; it applies the
// subscription's backpressure policy when its internal buffer (if any) is
// full, which for the Realtime driver's default policy means blocking until
// a slot frees up.
type Driver interface {
	Submit(event bus.DaemonEvent)
	Close()
}

// Acker is implemented by delivery drivers that hold delivered-but-
// unacknowledged events pending a durable cursor advance (§4.C.4
// ack_enabled, §5 "acknowledged delivery cursors are advanced only after
// the ack arrives"). Currently only the Persistent driver implements it;
// calling Ack against a driver that doesn't is meaningless and harmless.
type Acker interface {
	Ack(eventID ids.EventId)
}

// NewDriver constructs the Driver matching sub.Kind, wiring sink as the
// underlying transport, deadLetters as the sink for retry-exhausted events
// (§4.C.4 "Retry exhaustion terminates in the dead-letter sink"), and
// onFailure (may be nil) as the hook invoked with a DeliveryFailed event
// each time retries are exhausted.
func NewDriver(sub *routing.Subscription, sink Sink, deadLetters *DeadLetterSink, onFailure FailurePublisher) Driver {
	switch sub.Kind {
	case routing.KindBatched:
		return newBatchedDriver(sub, sink, deadLetters, onFailure)
	case routing.KindPersistent:
		return newPersistentDriver(sub, sink, deadLetters, onFailure)
	case routing.KindConditional:
		return newConditionalDriver(sub, sink, deadLetters, onFailure)
	case routing.KindPriority:
		return newPriorityDriver(sub, sink, deadLetters, onFailure)
	default:
		return newRealtimeDriver(sub, sink, deadLetters, onFailure)
	}
}

// deliverWithRetry attempts sink once, then retries per opts' backoff up to
// MaxRetries times. On final failure it places the event in deadLetters,
// publishes a DeliveryFailed event via onFailure (if non-nil) carrying the
// original event's correlation id, and returns the last error. A nil error
// return means the event was ultimately delivered.
func deliverWithRetry(ctx context.Context, sub *routing.Subscription, event bus.DaemonEvent, sink Sink, deadLetters *DeadLetterSink, onFailure FailurePublisher) error {
	opts := sub.Delivery
	attempts := opts.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := sink(ctx, sub, event); err != nil {
			lastErr = err
			logging.Default.Warn("delivery attempt failed", map[string]interface{}{
				"subscription_id": string(sub.ID),
				"event_id":        string(event.ID),
				"attempt":         attempt,
				"error":           err.Error(),
			})
			if attempt < attempts {
				select {
				case <-time.After(opts.RetryBackoff.Delay(attempt)):
				case <-ctx.Done():
					lastErr = ctx.Err()
					attempt = attempts
				}
			}
			continue
		}
		return nil
	}

	wrapped := crucibleerr.Wrap(crucibleerr.Timeout, "delivery exhausted retries", lastErr)
	if deadLetters != nil {
		deadLetters.Add(DeadLetter{
			SubscriptionID: sub.ID,
			Event:          event,
			Reason:         wrapped.Error(),
			Attempts:       attempts,
			OccurredAt:     time.Now(),
		})
	}
	logging.Default.DeliveryFailed(string(sub.ID), string(event.ID), attempts, wrapped)
	if onFailure != nil {
		failure := bus.New(bus.KindSystem, bus.Source{ID: "delivery", Name: "delivery"}, bus.PriorityHigh, map[string]interface{}{
			"type":            "delivery_failed",
			"subscription_id": string(sub.ID),
			"event_id":        string(event.ID),
			"attempts":        attempts,
			"reason":          wrapped.Error(),
		})
		failure.CorrelationID = event.CorrelationID
		onFailure(failure)
	}
	return wrapped
}

// applyBackpressure enqueues event into buf (capacity max) per policy,
// returning the buffer to use afterward. max <= 0 means no bound. A full
// buffer under BackpressureDropNewest silently discards event; under
// DropOldest it evicts buf[0] to make room; under every other policy
// (Buffer, ApplyBackpressure, or unset) event is appended past max, so the
// buffer grows without bound. It never blocks the caller and never refuses
// an event. Only the Batched driver uses this helper; Realtime applies its
// policy to its own bounded channel, and Priority and Persistent do not
// apply a backpressure policy.
func applyBackpressure(buf []bus.DaemonEvent, event bus.DaemonEvent, policy routing.BackpressurePolicy, max int) []bus.DaemonEvent {
	if max <= 0 || len(buf) < max {
		return append(buf, event)
	}
	switch policy {
	case routing.BackpressureDropOldest:
		buf = append(buf[1:], event)
		return buf
	case routing.BackpressureDropNewest:
		return buf
	default:
		return append(buf, event)
	}
}
