package delivery

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/vinayprograms/crucible/internal/bus"
	"github.com/vinayprograms/crucible/internal/routing"
)

// priorityDriver delivers queued events in descending bus.Priority order
// (ties broken FIFO by sequence number), rather than strict submission
// order (§4.C.4 Priority, §5 ordering contracts).
type priorityDriver struct {
	sub         *routing.Subscription
	sink        Sink
	deadLetters *DeadLetterSink
	onFailure   FailurePublisher
	minPriority bus.Priority

	mu   sync.Mutex
	heap priorityHeap
	seq  int64

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

type priorityItem struct {
	event bus.DaemonEvent
	seq   int64
}

type priorityHeap []priorityItem

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].event.Priority != h[j].event.Priority {
		return h[i].event.Priority > h[j].event.Priority
	}
	return h[i].seq < h[j].seq
}
func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *priorityHeap) Push(x interface{}) { *h = append(*h, x.(priorityItem)) }
func (h *priorityHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func newPriorityDriver(sub *routing.Subscription, sink Sink, deadLetters *DeadLetterSink, onFailure FailurePublisher) *priorityDriver {
	d := &priorityDriver{
		sub:         sub,
		sink:        sink,
		deadLetters: deadLetters,
		onFailure:   onFailure,
		minPriority: sub.Delivery.PriorityMin,
		wake:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	heap.Init(&d.heap)
	go d.run()
	return d
}

func (d *priorityDriver) Submit(event bus.DaemonEvent) {
	if event.Priority < d.minPriority {
		return
	}
	d.mu.Lock()
	d.seq++
	heap.Push(&d.heap, priorityItem{event: event, seq: d.seq})
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *priorityDriver) run() {
	for {
		event, ok := d.pop()
		if ok {
			ctx, cancel := context.WithTimeout(context.Background(), priorityDeliveryTimeout)
			_ = deliverWithRetry(ctx, d.sub, event, d.sink, d.deadLetters, d.onFailure)
			cancel()
			continue
		}
		select {
		case <-d.wake:
		case <-d.stop:
			close(d.done)
			return
		}
	}
}

func (d *priorityDriver) pop() (bus.DaemonEvent, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.heap.Len() == 0 {
		return bus.DaemonEvent{}, false
	}
	item := heap.Pop(&d.heap).(priorityItem)
	return item.event, true
}

const priorityDeliveryTimeout = 30 * time.Second

func (d *priorityDriver) Close() {
	close(d.stop)
	<-d.done
}
