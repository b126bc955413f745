// Package ids defines the opaque 128-bit identifiers shared across Crucible's
// components: EventId, SessionId, SubscriptionId, ServiceId, PluginId,
// CorrelationId and CausationId. All are rendered as URN-safe strings.
package ids

import "github.com/google/uuid"

// EventId uniquely identifies a DaemonEvent. Two events with equal EventId
// are the same event (invariant I1 of the event bus contract).
type EventId string

// SessionId identifies one agent session and its JSONL journal.
type SessionId string

// SubscriptionId identifies one plugin subscription.
type SubscriptionId string

// ServiceId identifies one orchestrator-managed service instance.
type ServiceId string

// PluginId identifies one connected (or previously connected) plugin.
type PluginId string

// CorrelationId is free-form causal linkage preserved verbatim through
// routing, filtering and delivery (invariant I2).
type CorrelationId string

// CausationId names the event that directly caused another event, used by
// the Causal ordering contract.
type CausationId string

// New returns a fresh, URN-safe random identifier string.
func New() string {
	return uuid.New().String()
}

// NewEventId returns a fresh, globally unique EventId. Never returns the
// zero value.
func NewEventId() EventId {
	return EventId(New())
}

// NewSessionId returns a fresh SessionId.
func NewSessionId() SessionId {
	return SessionId(New())
}

// NewSubscriptionId returns a fresh SubscriptionId.
func NewSubscriptionId() SubscriptionId {
	return SubscriptionId(New())
}

// NewServiceId returns a fresh ServiceId.
func NewServiceId() ServiceId {
	return ServiceId(New())
}

// NewPluginId returns a fresh PluginId.
func NewPluginId() PluginId {
	return PluginId(New())
}

// NewCorrelationId returns a fresh CorrelationId for linking related events
// across a request/response or tool-call/tool-result boundary.
func NewCorrelationId() CorrelationId {
	return CorrelationId(New())
}
