package routing

import (
	"sync"

	"github.com/vinayprograms/crucible/internal/bus"
	"github.com/vinayprograms/crucible/internal/crucibleerr"
	"github.com/vinayprograms/crucible/internal/ids"
)

// Registry is the Subscription Registry (§4.C.2): the authoritative map
// from SubscriptionId to Subscription, plus secondary indices by plugin id
// and by kind so MatchingFor(event) need not scan every subscription.
//
// Grounded on internal/checkpoint/checkpoint.go's Store: a flat map guarded
// by a single RWMutex, generalized here to a map-of-maps secondary-index
// layout.
type Registry struct {
	mu sync.RWMutex

	byID     map[ids.SubscriptionId]*Subscription
	byPlugin map[ids.PluginId]map[ids.SubscriptionId]struct{}
	byKind   map[bus.Kind]map[ids.SubscriptionId]struct{}
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:     map[ids.SubscriptionId]*Subscription{},
		byPlugin: map[ids.PluginId]map[ids.SubscriptionId]struct{}{},
		byKind:   map[bus.Kind]map[ids.SubscriptionId]struct{}{},
	}
}

// Register adds sub to the registry, indexing it by plugin and by each kind
// in kinds; with no kinds it goes in the wildcard "*" bucket, which
// MatchingFor consults for every event. The filter is not inspected.
// Registering a subscription with the same ID twice replaces the prior
// entry.
func (r *Registry) Register(sub *Subscription, kinds []bus.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.unindexLocked(sub.ID)
	r.byID[sub.ID] = sub

	if r.byPlugin[sub.PluginID] == nil {
		r.byPlugin[sub.PluginID] = map[ids.SubscriptionId]struct{}{}
	}
	r.byPlugin[sub.PluginID][sub.ID] = struct{}{}

	if len(kinds) == 0 {
		kinds = []bus.Kind{"*"}
	}
	for _, k := range kinds {
		if r.byKind[k] == nil {
			r.byKind[k] = map[ids.SubscriptionId]struct{}{}
		}
		r.byKind[k][sub.ID] = struct{}{}
	}
}

func (r *Registry) unindexLocked(id ids.SubscriptionId) {
	existing, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byPlugin[existing.PluginID], id)
	for _, set := range r.byKind {
		delete(set, id)
	}
	delete(r.byID, id)
}

// Unregister removes a subscription. It is not an error to unregister an
// unknown id.
func (r *Registry) Unregister(id ids.SubscriptionId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unindexLocked(id)
}

// Get returns the subscription for id.
func (r *Registry) Get(id ids.SubscriptionId) (*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.byID[id]
	if !ok {
		return nil, crucibleerr.New(crucibleerr.NotFound, "subscription not found: "+string(id))
	}
	return sub, nil
}

// ByPlugin returns every subscription registered by pluginID.
func (r *Registry) ByPlugin(pluginID ids.PluginId) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Subscription
	for id := range r.byPlugin[pluginID] {
		out = append(out, r.byID[id])
	}
	return out
}

// MatchingFor returns the stable snapshot of subscriptions whose filter and
// auth context admit event, as of the instant this call holds the read
// lock (invariant I5: a subscription registered mid-dispatch neither gains
// nor loses membership in an in-flight MatchingFor call, since the
// snapshot is copied out before any filter evaluation or delivery begins).
func (r *Registry) MatchingFor(event bus.DaemonEvent) []*Subscription {
	r.mu.RLock()
	candidateIDs := r.candidateIDsLocked(event.Kind)
	snapshot := make([]*Subscription, 0, len(candidateIDs))
	for id := range candidateIDs {
		if sub, ok := r.byID[id]; ok {
			snapshot = append(snapshot, sub)
		}
	}
	r.mu.RUnlock()

	matched := make([]*Subscription, 0, len(snapshot))
	for _, sub := range snapshot {
		if !sub.Filter.Matches(event) {
			continue
		}
		if !sub.Delivery.SelfLoopsAllowed && event.Source.ID == string(sub.PluginID) {
			continue
		}
		if !sub.Auth.Allows(event) {
			continue
		}
		matched = append(matched, sub)
	}
	return matched
}

// candidateIDsLocked returns the union of subscriptions indexed under kind
// and the wildcard "*" bucket. Caller must hold r.mu (read or write).
func (r *Registry) candidateIDsLocked(kind bus.Kind) map[ids.SubscriptionId]struct{} {
	out := map[ids.SubscriptionId]struct{}{}
	for id := range r.byKind[kind] {
		out[id] = struct{}{}
	}
	for id := range r.byKind["*"] {
		out[id] = struct{}{}
	}
	return out
}

// Count returns the number of registered subscriptions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// All returns every registered subscription, in no particular order.
func (r *Registry) All() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subscription, 0, len(r.byID))
	for _, sub := range r.byID {
		out = append(out, sub)
	}
	return out
}
