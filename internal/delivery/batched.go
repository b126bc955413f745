package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/vinayprograms/crucible/internal/bus"
	"github.com/vinayprograms/crucible/internal/routing"
)

// batchedDriver accumulates events and flushes them together, either when
// MaxBatch is reached or BatchInterval elapses, whichever comes first
// (§4.C.4 Batched).
type batchedDriver struct {
	sub         *routing.Subscription
	sink        Sink
	deadLetters *DeadLetterSink
	onFailure   FailurePublisher

	mu      sync.Mutex
	buf     []bus.DaemonEvent
	maxSize int

	interval time.Duration
	maxBatch int

	flushNow chan struct{}
	closed   chan struct{}
	done     chan struct{}
}

func newBatchedDriver(sub *routing.Subscription, sink Sink, deadLetters *DeadLetterSink, onFailure FailurePublisher) *batchedDriver {
	interval := sub.Delivery.BatchInterval
	if interval <= 0 {
		interval = defaultBatchInterval
	}
	maxBatch := sub.Delivery.MaxBatch
	if maxBatch <= 0 {
		maxBatch = defaultMaxBatch
	}

	d := &batchedDriver{
		sub:         sub,
		sink:        sink,
		deadLetters: deadLetters,
		onFailure:   onFailure,
		maxSize:     sub.Delivery.BufferMax,
		interval:    interval,
		maxBatch:    maxBatch,
		flushNow:    make(chan struct{}, 1),
		closed:      make(chan struct{}),
		done:        make(chan struct{}),
	}
	go d.run()
	return d
}

const (
	defaultBatchInterval = 2 * time.Second
	defaultMaxBatch       = 100
)

// batchPayloadKey is the Payload key under which flush's synthetic envelope
// DaemonEvent carries a batch's members, so the same Sink signature serves
// both single-event and batched drivers.
const batchPayloadKey = "batch"

func (d *batchedDriver) Submit(event bus.DaemonEvent) {
	d.mu.Lock()
	d.buf = applyBackpressure(d.buf, event, d.sub.Delivery.Backpressure, d.maxSize)
	shouldFlush := len(d.buf) >= d.maxBatch
	d.mu.Unlock()

	if shouldFlush {
		select {
		case d.flushNow <- struct{}{}:
		default:
		}
	}
}

func (d *batchedDriver) run() {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	defer close(d.done)

	for {
		select {
		case <-ticker.C:
			d.flush()
		case <-d.flushNow:
			d.flush()
		case <-d.closed:
			d.flush()
			return
		}
	}
}

func (d *batchedDriver) flush() {
	d.mu.Lock()
	if len(d.buf) == 0 {
		d.mu.Unlock()
		return
	}
	batch := d.buf
	d.buf = nil
	d.mu.Unlock()

	envelope := bus.New(bus.KindCustom, bus.Source{ID: "delivery.batched"}, bus.PriorityNormal, map[string]interface{}{
		batchPayloadKey: batch,
	})

	ctx, cancel := context.WithTimeout(context.Background(), batchDeliveryTimeout)
	defer cancel()
	_ = deliverWithRetry(ctx, d.sub, envelope, d.sink, d.deadLetters, d.onFailure)
}

const batchDeliveryTimeout = 30 * time.Second

func (d *batchedDriver) Close() {
	close(d.closed)
	<-d.done
}
