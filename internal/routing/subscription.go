// Package routing implements the Subscription Registry and Filter Engine
// (§4.C.2 / §4.C.3): the mapping from SubscriptionId to Subscription with
// secondary indices for fast matching, and the compiled/cached filter
// predicate language.
//
// Grounded on internal/checkpoint/checkpoint.go's RWMutex-guarded
// map-of-state idiom (Store.checkpoints), generalized here to a
// registry with secondary indices instead of a flat map.
package routing

import (
	"time"

	"github.com/vinayprograms/crucible/internal/bus"
	"github.com/vinayprograms/crucible/internal/ids"
)

// SubscriptionKind discriminates the five delivery-driver shapes a
// subscription may request (§3/§4.C.4).
type SubscriptionKind string

const (
	KindRealtime    SubscriptionKind = "realtime"
	KindBatched     SubscriptionKind = "batched"
	KindPersistent  SubscriptionKind = "persistent"
	KindConditional SubscriptionKind = "conditional"
	KindPriority    SubscriptionKind = "priority"
)

// BackpressurePolicy names what happens when a bounded buffer is full
// (§4.C.4).
type BackpressurePolicy string

const (
	BackpressureBuffer          BackpressurePolicy = "buffer"
	BackpressureDropNewest      BackpressurePolicy = "drop_newest"
	BackpressureDropOldest      BackpressurePolicy = "drop_oldest"
	BackpressureApplyBackpressure BackpressurePolicy = "apply_backpressure"
)

// OrderingContract names the delivery order a subscription declares
// (§4.C.4/§5).
type OrderingContract string

const (
	OrderingFifo     OrderingContract = "fifo"
	OrderingCausal   OrderingContract = "causal"
	OrderingPriority OrderingContract = "priority"
)

// RetryBackoff configures the delay between delivery retries.
type RetryBackoff struct {
	// Kind is "fixed" or "exponential".
	Kind  string
	Delay time.Duration // for Fixed
	Base  time.Duration // for Exponential
	Max   time.Duration // for Exponential
}

// Fixed returns a fixed-delay backoff.
func Fixed(delay time.Duration) RetryBackoff { return RetryBackoff{Kind: "fixed", Delay: delay} }

// Exponential returns an exponential backoff bounded by max.
func Exponential(base, max time.Duration) RetryBackoff {
	return RetryBackoff{Kind: "exponential", Base: base, Max: max}
}

// Delay returns the backoff delay for the given (1-indexed) attempt number.
func (b RetryBackoff) Delay(attempt int) time.Duration {
	switch b.Kind {
	case "exponential":
		d := b.Base
		for i := 1; i < attempt; i++ {
			d *= 2
			if d > b.Max {
				return b.Max
			}
		}
		return d
	default:
		return b.Delay
	}
}

// DeliveryOptions governs per-subscription delivery behavior (§4.C.4).
type DeliveryOptions struct {
	AckEnabled         bool
	MaxRetries         int
	RetryBackoff       RetryBackoff
	CompressionEnabled bool
	CompressionThreshold int
	EncryptionEnabled  bool
	MaxEventSize       int
	Ordering           OrderingContract
	Backpressure       BackpressurePolicy
	BufferMax          int // Batched buffer bound enforced by DropNewest/DropOldest; other policies append past it

	// BatchInterval/MaxBatch configure a Batched subscription kind.
	BatchInterval time.Duration
	MaxBatch      int

	// PersistentMaxStored/PersistentTTL configure a Persistent subscription
	// kind's durable queue. QueueDir, when non-empty, is the directory the
	// Persistent driver spools its crash-resume JSONL file into (one file
	// per subscription ID); empty means in-memory only, no crash recovery.
	PersistentMaxStored int
	PersistentTTL       time.Duration
	QueueDir            string

	// ConditionalExpr/ConditionalFallback configure a Conditional
	// subscription kind.
	ConditionalExpr     string
	ConditionalFallback SubscriptionKind

	// PriorityMin/PriorityDeliveryMethod configure a Priority subscription
	// kind.
	PriorityMin            bus.Priority
	PriorityDeliveryMethod SubscriptionKind

	// SelfLoopsAllowed lets a subscription receive events its own plugin
	// produced (§9 "Cyclic producer/subscriber graph"); default false.
	SelfLoopsAllowed bool
}

// EventPermission is the set of grants a principal holds over the bus
// (§3 auth_context). A zero-value MaxPriority (PriorityLow, since it is the
// zero value of bus.Priority) combined with HasMaxPriority=false means "no
// priority ceiling configured".
type EventPermission struct {
	Scope           string
	AllowedKinds    []bus.Kind // empty means "all kinds"
	AllowedSources  []string   // empty means "all sources"
	MaxPriority     bus.Priority
	HasMaxPriority  bool
}

// AuthContext binds a principal to its granted EventPermission (§3).
type AuthContext struct {
	Principal  string
	Permission EventPermission
}

// Allows reports whether e may be delivered under this auth context
// (invariant I4).
func (a AuthContext) Allows(e bus.DaemonEvent) bool {
	p := a.Permission
	if p.HasMaxPriority && e.Priority > p.MaxPriority {
		return false
	}
	if len(p.AllowedKinds) > 0 && !containsKind(p.AllowedKinds, e.Kind) {
		return false
	}
	if len(p.AllowedSources) > 0 && !containsString(p.AllowedSources, e.Source.ID) {
		return false
	}
	return true
}

func containsKind(set []bus.Kind, k bus.Kind) bool {
	for _, s := range set {
		if s == k {
			return true
		}
	}
	return false
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Subscription is one plugin's registered interest in bus events (§3).
type Subscription struct {
	ID       ids.SubscriptionId
	PluginID ids.PluginId
	Name     string
	Kind     SubscriptionKind
	Auth     AuthContext
	Filter   *CompiledFilter
	Delivery DeliveryOptions
}
