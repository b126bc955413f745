package bus

// Subscribe registers fn to be called for every event published, making Bus
// satisfy Transport directly for callers that want a callback instead of
// draining Events() themselves (e.g. a secondary fan-out consumer). Unlike
// Events(), which is limited to a single consumer, any number of Subscribe
// callbacks may be registered; each runs in a private goroutine and sees
// events in publication order, but events published while its buffer of
// channelBufferHint slots is full are dropped for that callback (see fanOut).
func (b *Bus) Subscribe(fn func(DaemonEvent)) (unsubscribe func()) {
	sub := &localSub{fn: fn, events: make(chan DaemonEvent, channelBufferHint)}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go func() {
		for e := range sub.events {
			sub.fn(e)
		}
	}()

	return func() {
		b.mu.Lock()
		for i, s := range b.subs {
			if s == sub {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(sub.events)
	}
}

const channelBufferHint = 256

type localSub struct {
	fn     func(DaemonEvent)
	events chan DaemonEvent
}

var _ Transport = (*Bus)(nil)

// fanOut delivers event to every registered Subscribe callback. Called by
// Publish; kept in its own file alongside Subscribe/localSub for cohesion.
func (b *Bus) fanOut(event DaemonEvent) {
	b.mu.Lock()
	subs := make([]*localSub, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.events <- event:
		default:
			// A slow Subscribe callback does not block publication; it
			// simply misses events until it catches up. Events() (the
			// bridge's own path) is unaffected since it reads the queue
			// directly rather than through this fan-out.
		}
	}
}
