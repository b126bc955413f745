package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/vinayprograms/crucible/internal/bus"
	"github.com/vinayprograms/crucible/internal/delivery"
	"github.com/vinayprograms/crucible/internal/ids"
	"github.com/vinayprograms/crucible/internal/logging"
	"github.com/vinayprograms/crucible/internal/routing"
	"github.com/vinayprograms/crucible/internal/tracing"
)

// Bridge is the single consumer of a Bus: it dedups, transforms, matches
// against the Subscription Registry, consults the SecurityGate, and hands
// each admitted (event, subscription) pair to that subscription's
// delivery.Driver (§4.C.5).
//
// Grounded on internal/supervision/supervisor.go's staged pipeline idiom
// (check -> act -> record) and its own Stopped/Running state tracking,
// generalized here into the five-state machine state.go defines.
type Bridge struct {
	*stateMachine

	bus      bus.Transport
	events   <-chan bus.DaemonEvent
	registry *routing.Registry
	sink     delivery.Sink
	dead     *delivery.DeadLetterSink
	gate     SecurityGate
	audit    *AuditLog
	dedup    *dedupWindow
	pipeline *transformPipeline
	counters Counters
	logger   *logging.Logger

	mu      sync.Mutex
	drivers map[ids.SubscriptionId]delivery.Driver

	stop chan struct{}
	done chan struct{}
}

// Option configures optional Bridge behavior at construction time.
type Option func(*Bridge)

// WithSecurityGate overrides the default AllowAllGate.
func WithSecurityGate(gate SecurityGate) Option {
	return func(b *Bridge) { b.gate = gate }
}

// WithAuditLog attaches an AuditLog that SecurityViolations are recorded to.
func WithAuditLog(log *AuditLog) Option {
	return func(b *Bridge) { b.audit = log }
}

// WithTransformRules sets the ordered transformation pipeline.
func WithTransformRules(rules []TransformRule) Option {
	return func(b *Bridge) { b.pipeline = newTransformPipeline(rules) }
}

// WithDedupWindow overrides the default dedup-by-id trailing window.
func WithDedupWindow(window time.Duration) Option {
	return func(b *Bridge) { b.dedup = newDedupWindow(window) }
}

// WithLogger overrides the default package logger.
func WithLogger(logger *logging.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

// New constructs a Bridge reading from busTransport, matching subscriptions
// in registry, and delivering via sink. It starts in StateStopped; call
// Start to begin consuming.
func New(busTransport bus.Transport, registry *routing.Registry, sink delivery.Sink, deadLetters *delivery.DeadLetterSink, opts ...Option) *Bridge {
	b := &Bridge{
		stateMachine: newStateMachine(),
		bus:          busTransport,
		registry:     registry,
		sink:         sink,
		dead:         deadLetters,
		gate:         AllowAllGate{},
		dedup:        newDedupWindow(defaultDedupWindow),
		pipeline:     newTransformPipeline(nil),
		logger:       logging.Default.WithComponent("bridge"),
		drivers:      map[ids.SubscriptionId]delivery.Driver{},
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start transitions Stopped -> Starting -> Running and begins draining the
// bus in a background goroutine. It is an error to Start a bridge that
// isn't Stopped.
func (b *Bridge) Start() error {
	if err := b.transition(StateStarting); err != nil {
		return err
	}

	drainable, ok := b.bus.(interface{ Events() <-chan bus.DaemonEvent })
	if ok {
		b.events = drainable.Events()
	} else {
		ch := make(chan bus.DaemonEvent)
		b.bus.Subscribe(func(e bus.DaemonEvent) { ch <- e })
		b.events = ch
	}

	if err := b.transition(StateRunning); err != nil {
		b.fail(err.Error())
		return err
	}

	go b.run()
	return nil
}

// Stop transitions Running -> Stopping -> Stopped, draining in-flight
// drivers before returning.
func (b *Bridge) Stop() error {
	if err := b.transition(StateStopping); err != nil {
		return err
	}
	close(b.stop)
	<-b.done

	b.mu.Lock()
	for _, d := range b.drivers {
		d.Close()
	}
	b.drivers = map[ids.SubscriptionId]delivery.Driver{}
	b.mu.Unlock()

	return b.transition(StateStopped)
}

// Metrics returns a point-in-time snapshot of the bridge's aggregate
// counters.
func (b *Bridge) Metrics() Counters {
	return b.counters.Snapshot()
}

func (b *Bridge) run() {
	defer close(b.done)
	for {
		select {
		case event, ok := <-b.events:
			if !ok {
				return
			}
			b.dispatch(event)
		case <-b.stop:
			return
		}
	}
}

// dispatch runs one event through dedup, transform, registry matching,
// the security gate, and delivery — the entire pipeline described in
// §4.C.5.
func (b *Bridge) dispatch(event bus.DaemonEvent) {
	_, span := tracing.StartBridgeDispatch(context.Background(), string(event.ID), string(event.Kind))
	defer tracing.EndSpan(span, nil)

	b.counters.incReceived()

	if b.dedup.seenBefore(event.ID) {
		b.counters.incFiltered()
		return
	}

	transformed, ok, changedCount := b.pipeline.run(event)
	b.counters.addTransformed(changedCount)
	if !ok {
		b.counters.incFiltered()
		return
	}
	event = transformed

	subs := b.registry.MatchingFor(event)
	if len(subs) == 0 {
		b.counters.incFiltered()
		b.counters.incProcessed()
		return
	}

	for _, sub := range subs {
		if allowed, reason := b.gate.Allow(event, sub); !allowed {
			b.counters.incBlocked()
			b.counters.incViolations()
			b.logger.SecurityViolation(string(sub.ID), string(event.ID), reason)
			if b.audit != nil {
				_ = b.audit.Record(AuditEntry{
					Timestamp:      time.Now(),
					EventID:        event.ID,
					SubscriptionID: sub.ID,
					Reason:         reason,
				})
			}
			continue
		}

		b.driverFor(sub).Submit(event)
		b.counters.incDelivered()
	}

	b.counters.incProcessed()
}

// driverFor returns (creating if necessary) the delivery.Driver for sub,
// so each subscription keeps exactly one stateful driver across its
// lifetime instead of spinning one up per event.
func (b *Bridge) driverFor(sub *routing.Subscription) delivery.Driver {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d, ok := b.drivers[sub.ID]; ok {
		return d
	}
	d := delivery.NewDriver(sub, b.sink, b.dead, b.bus.Publish)
	b.drivers[sub.ID] = d
	return d
}

// Ack acknowledges eventID against sub's driver, advancing its durable
// delivery cursor if the driver holds one (currently only the Persistent
// driver; §4.C.4 ack_enabled, §5 ack-before-cursor-advance). Acking a
// subscription with no active driver, or whose driver doesn't implement
// delivery.Acker, is a harmless no-op.
func (b *Bridge) Ack(id ids.SubscriptionId, eventID ids.EventId) {
	b.mu.Lock()
	d, ok := b.drivers[id]
	b.mu.Unlock()
	if !ok {
		return
	}
	if acker, ok := d.(delivery.Acker); ok {
		acker.Ack(eventID)
	}
}

// RemoveDriver closes and forgets sub's driver, e.g. when its subscription
// is unregistered while the bridge is running.
func (b *Bridge) RemoveDriver(id ids.SubscriptionId) {
	b.mu.Lock()
	d, ok := b.drivers[id]
	if ok {
		delete(b.drivers, id)
	}
	b.mu.Unlock()
	if ok {
		d.Close()
	}
}
