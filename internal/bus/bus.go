// Package bus implements the daemon-wide Event Bus (§4.C.1): producers
// publish a DaemonEvent; publication never blocks; exactly one consumer (the
// bridge, package internal/bridge) drains the queue in a single goroutine.
//
// Grounded on the teacher's goroutine/channel publish-consume idiom in
// internal/executor/executor.go, generalized from an LLM-tool-execution
// pipeline to an unbounded single-writer/many-reader event queue.
package bus

import (
	"sync"
	"time"

	"github.com/vinayprograms/crucible/internal/ids"
)

// Kind discriminates the closed DaemonEvent variant set (§3).
type Kind string

const (
	KindFilesystem Kind = "filesystem"
	KindDatabase   Kind = "database"
	KindExternal   Kind = "external"
	KindMcp        Kind = "mcp"
	KindService    Kind = "service"
	KindSystem     Kind = "system"
	KindCustom     Kind = "custom"
)

// Priority orders DaemonEvents for Priority-ordered subscriptions and the
// Priority delivery driver.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Source identifies the producer of a DaemonEvent.
type Source struct {
	ID       string
	Name     string
	Version  string
	Metadata map[string]string
}

// DaemonEvent is the immutable bus quantum (§3). Once created it is never
// mutated; it is shared by reference across the delivery pipeline.
type DaemonEvent struct {
	ID            ids.EventId
	Timestamp     time.Time
	Kind          Kind
	CustomName    string // set when Kind == KindCustom
	Payload       map[string]interface{}
	Source        Source
	Priority      Priority
	CorrelationID ids.CorrelationId
	CausationID   ids.CausationId
	Metadata      map[string]string
}

// New constructs a DaemonEvent with a fresh id and the current timestamp,
// satisfying invariant I1 (every produced event has a fresh id).
func New(kind Kind, source Source, priority Priority, payload map[string]interface{}) DaemonEvent {
	return DaemonEvent{
		ID:        ids.NewEventId(),
		Timestamp: time.Now(),
		Kind:      kind,
		Payload:   payload,
		Source:    source,
		Priority:  priority,
		Metadata:  map[string]string{},
	}
}

// Bus is the single-writer/many-reader in-process transport described in
// §4.C.1. Publication appends to a genuinely unbounded in-memory queue — a
// growable slice behind a mutex, not a fixed-capacity channel — so Publish
// never blocks the producer regardless of consumer speed. Exactly one
// consumer (the bridge) drains the queue via Events().
//
// Ordering: events from a single producer are delivered in publication
// order; across producers no ordering is guaranteed (§4.C.1) — this falls
// out naturally here because all producers share one queue and one lock.
type Bus struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []DaemonEvent
	closed bool
	subs   []*localSub
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	b := &Bus{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Transport abstracts the bus's delivery substrate. The default Bus
// implements it in-process; internal/bus/natstransport.go provides an
// alternate NATS-backed implementation for multi-daemon deployments.
type Transport interface {
	Publish(DaemonEvent)
	Subscribe(func(DaemonEvent)) (unsubscribe func())
}

// Publish appends event to the queue and wakes the consumer. It never
// blocks.
func (b *Bus) Publish(event DaemonEvent) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, event)
	b.cond.Signal()
	b.mu.Unlock()

	b.fanOut(event)
}

// Close stops the bus; any blocked Events() consumer returns.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}

// Events returns a channel the bridge drains DaemonEvents from, in
// publication order. There must be exactly one consumer; calling it more
// than once would split publication order across consumers, violating
// §4.C.1's single-consumer contract.
func (b *Bus) Events() <-chan DaemonEvent {
	out := make(chan DaemonEvent)
	go func() {
		defer close(out)
		for {
			b.mu.Lock()
			for len(b.queue) == 0 && !b.closed {
				b.cond.Wait()
			}
			if len(b.queue) == 0 && b.closed {
				b.mu.Unlock()
				return
			}
			event := b.queue[0]
			b.queue = b.queue[1:]
			b.mu.Unlock()
			out <- event
		}
	}()
	return out
}
