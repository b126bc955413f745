package delivery

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vinayprograms/crucible/internal/bus"
	"github.com/vinayprograms/crucible/internal/routing"
)

func recordingSink() (Sink, func() []bus.DaemonEvent) {
	var mu sync.Mutex
	var got []bus.DaemonEvent
	sink := func(ctx context.Context, sub *routing.Subscription, event bus.DaemonEvent) error {
		mu.Lock()
		got = append(got, event)
		mu.Unlock()
		return nil
	}
	return sink, func() []bus.DaemonEvent {
		mu.Lock()
		defer mu.Unlock()
		out := make([]bus.DaemonEvent, len(got))
		copy(out, got)
		return out
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestRealtimeDriverDeliversEachEvent(t *testing.T) {
	sink, got := recordingSink()
	sub := &routing.Subscription{Kind: routing.KindRealtime, Delivery: routing.DeliveryOptions{MaxRetries: 0}}
	d := NewDriver(sub, sink, nil, nil)
	defer d.Close()

	d.Submit(bus.New(bus.KindSystem, bus.Source{}, bus.PriorityNormal, nil))
	d.Submit(bus.New(bus.KindSystem, bus.Source{}, bus.PriorityNormal, nil))

	waitFor(t, time.Second, func() bool { return len(got()) == 2 })
}

func TestBatchedDriverFlushesOnMaxBatch(t *testing.T) {
	sink, got := recordingSink()
	sub := &routing.Subscription{
		Kind: routing.KindBatched,
		Delivery: routing.DeliveryOptions{
			BatchInterval: time.Hour, // effectively disable timer flush for this test
			MaxBatch:      3,
		},
	}
	d := NewDriver(sub, sink, nil, nil)
	defer d.Close()

	for i := 0; i < 3; i++ {
		d.Submit(bus.New(bus.KindSystem, bus.Source{}, bus.PriorityNormal, nil))
	}

	waitFor(t, time.Second, func() bool { return len(got()) == 1 })

	batch := got()[0].Payload[batchPayloadKey].([]bus.DaemonEvent)
	if len(batch) != 3 {
		t.Fatalf("expected batch of 3 events, got %d", len(batch))
	}
}

func TestBatchedDriverFlushesOnInterval(t *testing.T) {
	sink, got := recordingSink()
	sub := &routing.Subscription{
		Kind: routing.KindBatched,
		Delivery: routing.DeliveryOptions{
			BatchInterval: 20 * time.Millisecond,
			MaxBatch:      1000,
		},
	}
	d := NewDriver(sub, sink, nil, nil)
	defer d.Close()

	d.Submit(bus.New(bus.KindSystem, bus.Source{}, bus.PriorityNormal, nil))

	waitFor(t, time.Second, func() bool { return len(got()) == 1 })
}

func TestPriorityDriverDeliversHighestFirst(t *testing.T) {
	var mu sync.Mutex
	var order []bus.Priority
	blocker := make(chan struct{})
	sink := func(ctx context.Context, sub *routing.Subscription, event bus.DaemonEvent) error {
		<-blocker
		mu.Lock()
		order = append(order, event.Priority)
		mu.Unlock()
		return nil
	}

	sub := &routing.Subscription{Kind: routing.KindPriority}
	d := NewDriver(sub, sink, nil, nil)
	defer d.Close()

	// Submit before releasing the blocker so all three are queued together.
	d.Submit(bus.New(bus.KindSystem, bus.Source{}, bus.PriorityLow, nil))
	d.Submit(bus.New(bus.KindSystem, bus.Source{}, bus.PriorityCritical, nil))
	d.Submit(bus.New(bus.KindSystem, bus.Source{}, bus.PriorityNormal, nil))
	time.Sleep(20 * time.Millisecond) // let Submit calls land in the heap

	close(blocker)

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	if order[0] != bus.PriorityCritical {
		t.Fatalf("expected first delivery to be critical priority, got order %v", order)
	}
}

func TestPriorityDriverDropsBelowMinimum(t *testing.T) {
	sink, got := recordingSink()
	sub := &routing.Subscription{
		Kind:     routing.KindPriority,
		Delivery: routing.DeliveryOptions{PriorityMin: bus.PriorityHigh},
	}
	d := NewDriver(sub, sink, nil, nil)
	defer d.Close()

	d.Submit(bus.New(bus.KindSystem, bus.Source{}, bus.PriorityLow, nil))
	d.Submit(bus.New(bus.KindSystem, bus.Source{}, bus.PriorityCritical, nil))

	waitFor(t, time.Second, func() bool { return len(got()) == 1 })
	if got()[0].Priority != bus.PriorityCritical {
		t.Fatal("expected only the critical-priority event to be delivered")
	}
}

func TestConditionalDriverFallsBackOnNoMatch(t *testing.T) {
	sink, got := recordingSink()
	filter, _ := routing.Compile(`kind = "database"`)
	sub := &routing.Subscription{
		Kind:   routing.KindConditional,
		Filter: filter,
		Delivery: routing.DeliveryOptions{
			ConditionalExpr:     `kind = "database"`,
			ConditionalFallback: routing.KindRealtime,
		},
	}
	d := NewDriver(sub, sink, nil, nil)
	defer d.Close()

	d.Submit(bus.New(bus.KindSystem, bus.Source{}, bus.PriorityNormal, nil))

	waitFor(t, time.Second, func() bool { return len(got()) == 1 })
}

func TestDeliveryRetriesThenDeadLetters(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	sink := func(ctx context.Context, sub *routing.Subscription, event bus.DaemonEvent) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return context.DeadlineExceeded
	}

	dl := NewDeadLetterSink(10)
	sub := &routing.Subscription{
		Kind: routing.KindRealtime,
		Delivery: routing.DeliveryOptions{
			MaxRetries:   2,
			RetryBackoff: routing.Fixed(time.Millisecond),
		},
	}
	d := NewDriver(sub, sink, dl, nil)
	defer d.Close()

	d.Submit(bus.New(bus.KindSystem, bus.Source{}, bus.PriorityNormal, nil))

	waitFor(t, time.Second, func() bool { return dl.Count() == 1 })

	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Fatalf("expected 1 initial attempt + 2 retries = 3, got %d", attempts)
	}
}

func TestDeliveryRetriesPublishesDeliveryFailedEvent(t *testing.T) {
	sink := func(ctx context.Context, sub *routing.Subscription, event bus.DaemonEvent) error {
		return context.DeadlineExceeded
	}

	var mu sync.Mutex
	var published []bus.DaemonEvent
	onFailure := func(e bus.DaemonEvent) {
		mu.Lock()
		published = append(published, e)
		mu.Unlock()
	}

	sub := &routing.Subscription{
		Kind: routing.KindRealtime,
		Delivery: routing.DeliveryOptions{
			MaxRetries:   0,
			RetryBackoff: routing.Fixed(time.Millisecond),
		},
	}
	event := bus.New(bus.KindSystem, bus.Source{}, bus.PriorityNormal, nil)
	event.CorrelationID = "corr-123"

	d := NewDriver(sub, sink, nil, onFailure)
	d.Submit(event)
	defer d.Close()

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(published) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if published[0].Kind != bus.KindSystem {
		t.Fatalf("expected a KindSystem DeliveryFailed event, got %s", published[0].Kind)
	}
	if published[0].CorrelationID != event.CorrelationID {
		t.Fatalf("expected correlation id to be preserved, got %q", published[0].CorrelationID)
	}
}

func TestPersistentDriverSpoolsToQueueDir(t *testing.T) {
	dir := t.TempDir()
	sink, got := recordingSink()
	sub := &routing.Subscription{
		ID:   "sub-spool-test",
		Kind: routing.KindPersistent,
		Delivery: routing.DeliveryOptions{
			QueueDir: dir,
		},
	}
	d := NewDriver(sub, sink, nil, nil)

	d.Submit(bus.New(bus.KindSystem, bus.Source{}, bus.PriorityNormal, nil))
	waitFor(t, time.Second, func() bool { return len(got()) == 1 })
	d.Close()

	path := filepath.Join(dir, string(sub.ID)+".jsonl")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected queue file %s to exist: %v", path, err)
	}
}

func TestPersistentDriverHoldsUntilAcked(t *testing.T) {
	dir := t.TempDir()
	sink, got := recordingSink()
	sub := &routing.Subscription{
		ID:   "sub-ack-test",
		Kind: routing.KindPersistent,
		Delivery: routing.DeliveryOptions{
			QueueDir:   dir,
			AckEnabled: true,
		},
	}
	d := newPersistentDriver(sub, sink, nil, nil)

	event := bus.New(bus.KindSystem, bus.Source{}, bus.PriorityNormal, nil)
	d.Submit(event)
	waitFor(t, time.Second, func() bool { return len(got()) == 1 })

	d.mu.Lock()
	_, awaiting := d.awaitingAck[event.ID]
	d.mu.Unlock()
	if !awaiting {
		t.Fatal("expected delivered event to be held awaiting ack")
	}

	d.Ack(event.ID)

	d.mu.Lock()
	_, stillAwaiting := d.awaitingAck[event.ID]
	d.mu.Unlock()
	if stillAwaiting {
		t.Fatal("expected ack to release the awaiting-ack entry")
	}
	d.Close()

	// A fresh driver loading the same queue file must not re-queue the
	// acked event for redelivery.
	sink2, got2 := recordingSink()
	d2 := newPersistentDriver(sub, sink2, nil, nil)
	defer d2.Close()
	time.Sleep(50 * time.Millisecond)
	if len(got2()) != 0 {
		t.Fatalf("expected acked event not to be redelivered after reload, got %d deliveries", len(got2()))
	}
}

func TestDeadLetterSinkBoundsSize(t *testing.T) {
	dl := NewDeadLetterSink(2)
	for i := 0; i < 5; i++ {
		dl.Add(DeadLetter{Event: bus.New(bus.KindSystem, bus.Source{}, bus.PriorityNormal, nil)})
	}
	if dl.Count() != 2 {
		t.Fatalf("expected sink bounded to 2 entries, got %d", dl.Count())
	}
}
