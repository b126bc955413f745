package bridge

import "github.com/vinayprograms/crucible/internal/bus"

// TransformRule mutates (or replaces) an event before subscription matching
// and delivery, e.g. redacting a payload field or normalizing metadata
// (§4.C.5 "ordered transformation rules"). The returned changed flag tells
// the bridge whether to count this rule toward the "transformed" counter;
// ok=false drops the event entirely before it ever reaches subscription
// matching — useful for a rule that collapses a class of events into
// nothing.
type TransformRule struct {
	Name  string
	Apply func(bus.DaemonEvent) (event bus.DaemonEvent, changed bool, ok bool)
}

// transformPipeline runs rules in registration order, threading the
// (possibly modified) event through each.
type transformPipeline struct {
	rules []TransformRule
}

func newTransformPipeline(rules []TransformRule) *transformPipeline {
	return &transformPipeline{rules: rules}
}

// run returns the transformed event, whether it survived every rule, and
// the count of rules that actually changed or dropped it.
func (p *transformPipeline) run(event bus.DaemonEvent) (bus.DaemonEvent, bool, int) {
	applied := 0
	for _, rule := range p.rules {
		next, changed, ok := rule.Apply(event)
		if !ok {
			return bus.DaemonEvent{}, false, applied + 1
		}
		if changed {
			applied++
		}
		event = next
	}
	return event, true, applied
}
