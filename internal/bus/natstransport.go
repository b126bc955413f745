package bus

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NatsTransport fans DaemonEvents out to (and pulls them in from) a NATS
// subject space, letting a Crucible daemon share its event stream with
// other daemons/tools in the same deployment. It is an optional alternate
// Transport (§4.C.1 only mandates the in-process single-consumer queue);
// selecting it is a crucible.toml `[bus] transport = "nats"` decision.
//
// The nats.go dependency is declared by the pack this project was built
// from but never imported by its visible source (a transitive pull-in from
// an unrelated dependency); this gives it the natural, concrete home its
// own architecture implies — see SPEC_FULL.md's domain stack section.
type NatsTransport struct {
	conn          *nats.Conn
	subjectPrefix string
}

// NewNatsTransport connects to url and returns a Transport publishing under
// <subjectPrefix>.<kind> subjects.
func NewNatsTransport(url, subjectPrefix string) (*NatsTransport, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	if subjectPrefix == "" {
		subjectPrefix = "crucible.events"
	}
	return &NatsTransport{conn: conn, subjectPrefix: subjectPrefix}, nil
}

func (t *NatsTransport) subject(kind Kind) string {
	return t.subjectPrefix + "." + string(kind)
}

// Publish serializes event as JSON and publishes it to the subject derived
// from its Kind.
func (t *NatsTransport) Publish(event DaemonEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = t.conn.Publish(t.subject(event.Kind), data)
}

// Subscribe subscribes to every Crucible event subject (a wildcard under
// subjectPrefix) and invokes fn for each decoded DaemonEvent.
func (t *NatsTransport) Subscribe(fn func(DaemonEvent)) (unsubscribe func()) {
	sub, err := t.conn.Subscribe(t.subjectPrefix+".*", func(msg *nats.Msg) {
		var e DaemonEvent
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			return
		}
		fn(e)
	})
	if err != nil {
		return func() {}
	}
	return func() { _ = sub.Unsubscribe() }
}

// Close closes the underlying NATS connection without draining it.
func (t *NatsTransport) Close() {
	t.conn.Close()
}

var _ Transport = (*NatsTransport)(nil)
