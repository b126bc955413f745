package pluginipc

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/vinayprograms/crucible/internal/crucibleerr"
	"github.com/vinayprograms/crucible/internal/ids"
)

// Client is the plugin side of the protocol: dial, handshake, then issue
// requests and receive pushed events. Used by plugin SDKs and by this
// repository's own tests; the daemon itself only ever plays the Server
// role.
type Client struct {
	conn *Conn

	seq     int64
	pending sync.Map // id string -> chan Message

	events chan Message
	errs   chan error
}

// Dial connects to network/address (e.g. "unix", "/run/crucible.sock"),
// performs the handshake, and returns a ready Client.
func Dial(network, address, pluginID, token string, maxFrameBytes int) (*Client, error) {
	raw, err := net.Dial(network, address)
	if err != nil {
		return nil, crucibleerr.Wrap(crucibleerr.Transport, "dial plugin ipc", err)
	}

	c := &Client{
		conn:   newConn(raw, maxFrameBytes, 0),
		events: make(chan Message, 64),
		errs:   make(chan error, 1),
	}

	hsPayload := mustJSON(HandshakePayload{PluginID: pluginID, Token: token, ProtocolVersion: ProtocolVersion})
	if err := c.conn.Send(Message{Kind: KindHandshake, Payload: hsPayload}); err != nil {
		return nil, err
	}

	ack, err := c.conn.ReadMessage()
	if err != nil {
		return nil, crucibleerr.Wrap(crucibleerr.Transport, "read handshake ack", err)
	}
	var ackPayload HandshakeAckPayload
	if err := json.Unmarshal(ack.Payload, &ackPayload); err != nil {
		return nil, crucibleerr.Wrap(crucibleerr.Codec, "decode handshake ack", err)
	}
	if !ackPayload.Accepted {
		return nil, crucibleerr.New(crucibleerr.Unauthorized, "handshake rejected: "+ackPayload.Reason)
	}

	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	for {
		msg, err := c.conn.ReadMessage()
		if err != nil {
			c.errs <- err
			return
		}
		switch msg.Kind {
		case KindResponse:
			if ch, ok := c.pending.LoadAndDelete(msg.ID); ok {
				ch.(chan Message) <- msg
			}
		case KindEvent:
			select {
			case c.events <- msg:
			default:
			}
		}
	}
}

// Events returns the channel pushed KindEvent messages arrive on.
func (c *Client) Events() <-chan Message { return c.events }

// Call issues a request for operation with arguments and blocks for the
// matching response.
func (c *Client) Call(operation string, arguments interface{}) (json.RawMessage, error) {
	id := fmt.Sprintf("%s-%d", ids.New(), atomic.AddInt64(&c.seq, 1))
	argData, err := json.Marshal(arguments)
	if err != nil {
		return nil, crucibleerr.Wrap(crucibleerr.Codec, "encode request arguments", err)
	}

	replyCh := make(chan Message, 1)
	c.pending.Store(id, replyCh)

	req := mustJSON(RequestPayload{Operation: operation, Arguments: argData})
	if err := c.conn.Send(Message{Kind: KindRequest, ID: id, Payload: req}); err != nil {
		c.pending.Delete(id)
		return nil, err
	}

	select {
	case msg := <-replyCh:
		var resp ResponsePayload
		if err := json.Unmarshal(msg.Payload, &resp); err != nil {
			return nil, crucibleerr.Wrap(crucibleerr.Codec, "decode response payload", err)
		}
		if resp.Error != "" {
			return nil, crucibleerr.New(crucibleerr.Internal, resp.Error)
		}
		return resp.Result, nil
	case err := <-c.errs:
		return nil, err
	}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
