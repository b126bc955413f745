package bridge

import "sync/atomic"

// Counters tracks the bridge's aggregate lifetime activity (§4.C.5
// "aggregate counters received/processed/delivered/filtered/blocked/
// transformed/violations"). Every field is updated with atomic
// instructions since dispatch may run concurrently with a Metrics() read
// (exposed by the daemon through Daemon.BridgeMetrics).
type Counters struct {
	Received    int64
	Processed   int64
	Delivered   int64
	Filtered    int64
	Blocked     int64
	Transformed int64
	Violations  int64
}

func (c *Counters) incReceived()    { atomic.AddInt64(&c.Received, 1) }
func (c *Counters) incProcessed()   { atomic.AddInt64(&c.Processed, 1) }
func (c *Counters) incDelivered()   { atomic.AddInt64(&c.Delivered, 1) }
func (c *Counters) incFiltered()    { atomic.AddInt64(&c.Filtered, 1) }
func (c *Counters) incBlocked()     { atomic.AddInt64(&c.Blocked, 1) }
func (c *Counters) addTransformed(n int) {
	if n > 0 {
		atomic.AddInt64(&c.Transformed, int64(n))
	}
}
func (c *Counters) incViolations() { atomic.AddInt64(&c.Violations, 1) }

// Snapshot returns a copy safe to read without racing further updates.
func (c *Counters) Snapshot() Counters {
	return Counters{
		Received:    atomic.LoadInt64(&c.Received),
		Processed:   atomic.LoadInt64(&c.Processed),
		Delivered:   atomic.LoadInt64(&c.Delivered),
		Filtered:    atomic.LoadInt64(&c.Filtered),
		Blocked:     atomic.LoadInt64(&c.Blocked),
		Transformed: atomic.LoadInt64(&c.Transformed),
		Violations:  atomic.LoadInt64(&c.Violations),
	}
}
