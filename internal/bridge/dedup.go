package bridge

import (
	"sync"
	"time"

	"github.com/vinayprograms/crucible/internal/ids"
)

// dedupWindow remembers event ids seen within a trailing time window so a
// redelivered or double-published event (e.g. from a retried producer) is
// processed at most once (§4.C.5 "dedup-by-id window").
type dedupWindow struct {
	mu     sync.Mutex
	seen   map[ids.EventId]time.Time
	window time.Duration
}

func newDedupWindow(window time.Duration) *dedupWindow {
	if window <= 0 {
		window = defaultDedupWindow
	}
	return &dedupWindow{seen: map[ids.EventId]time.Time{}, window: window}
}

const defaultDedupWindow = 5 * time.Minute

// seenBefore reports whether id was already admitted within the window,
// and if not, records it as seen now.
func (d *dedupWindow) seenBefore(id ids.EventId) bool {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if ts, ok := d.seen[id]; ok && now.Sub(ts) < d.window {
		return true
	}
	d.seen[id] = now
	d.sweepLocked(now)
	return false
}

// sweepLocked evicts entries older than the window. Called opportunistically
// from seenBefore rather than on a timer, keeping the structure simple and
// lock-contention-free outside of admission checks.
func (d *dedupWindow) sweepLocked(now time.Time) {
	if len(d.seen) < dedupSweepThreshold {
		return
	}
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.window {
			delete(d.seen, id)
		}
	}
}

const dedupSweepThreshold = 10000
