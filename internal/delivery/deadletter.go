package delivery

import (
	"sync"
	"time"

	"github.com/vinayprograms/crucible/internal/bus"
	"github.com/vinayprograms/crucible/internal/ids"
)

// DeadLetter is an event that exhausted every retry for one subscription
// (§8 testable property: "retry exhaustion terminates in the dead-letter
// sink" — a supplemented capability, since the distilled spec names the
// sink but not its inspection surface; see SPEC_FULL.md).
type DeadLetter struct {
	SubscriptionID ids.SubscriptionId
	Event          bus.DaemonEvent
	Reason         string
	Attempts       int
	OccurredAt     time.Time
}

// DeadLetterSink accumulates DeadLetters for later operator inspection. It
// is bounded (oldest entries are evicted once Max is reached) so a
// persistently failing subscription cannot grow the sink without limit.
type DeadLetterSink struct {
	mu      sync.Mutex
	entries []DeadLetter
	max     int
}

// NewDeadLetterSink returns a sink retaining at most max entries (0 means
// unbounded).
func NewDeadLetterSink(max int) *DeadLetterSink {
	return &DeadLetterSink{max: max}
}

// Add appends dl, evicting the oldest entry if the sink is at capacity.
func (s *DeadLetterSink) Add(dl DeadLetter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, dl)
	if s.max > 0 && len(s.entries) > s.max {
		s.entries = s.entries[len(s.entries)-s.max:]
	}
}

// GetDeadLetters returns a snapshot of entries for subscriptionID, or every
// entry if subscriptionID is empty.
func (s *DeadLetterSink) GetDeadLetters(subscriptionID ids.SubscriptionId) []DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if subscriptionID == "" {
		out := make([]DeadLetter, len(s.entries))
		copy(out, s.entries)
		return out
	}
	var out []DeadLetter
	for _, e := range s.entries {
		if e.SubscriptionID == subscriptionID {
			out = append(out, e)
		}
	}
	return out
}

// Count returns the number of retained entries.
func (s *DeadLetterSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
