// Package pluginipc implements the plugin transport of §4.D.2: a
// length-prefixed framed JSON protocol over a Unix socket or TCP
// listener, with a Handshake -> authenticate -> HandshakeAck opening
// sequence before any application-level Request/Response traffic.
package pluginipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/vinayprograms/crucible/internal/crucibleerr"
)

// MessageKind discriminates the plugin wire protocol's message variants.
type MessageKind string

const (
	KindHandshake    MessageKind = "handshake"
	KindHandshakeAck MessageKind = "handshake_ack"
	KindRequest      MessageKind = "request"
	KindResponse     MessageKind = "response"
	KindEvent        MessageKind = "event"
	KindError        MessageKind = "error"
)

// ProtocolVersion is the version this daemon speaks. A plugin handshaking
// with a different version is rejected by default (§4.D.2 edge case).
const ProtocolVersion = 1

// Message is the envelope for every frame exchanged after connection
// (and including the handshake itself, which is just KindHandshake).
type Message struct {
	Kind    MessageKind     `json:"kind"`
	ID      string          `json:"id,omitempty"` // correlates Request/Response
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HandshakePayload is the Payload of a KindHandshake message.
type HandshakePayload struct {
	PluginID        string `json:"plugin_id"`
	Token           string `json:"token"`
	ProtocolVersion int    `json:"protocol_version"`
}

// HandshakeAckPayload is the Payload of a KindHandshakeAck message.
type HandshakeAckPayload struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// RequestPayload is the Payload of a KindRequest message.
type RequestPayload struct {
	Operation string          `json:"operation"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ResponsePayload is the Payload of a KindResponse message.
type ResponsePayload struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// maxFrameBytesDefault guards against a misbehaving peer claiming an
// unreasonable frame length (§4.D.2 edge case: "oversized frame").
const maxFrameBytesDefault = 4 << 20 // 4 MiB

// writeFrame writes a length-prefixed (uint32 big-endian) JSON-encoded msg
// to w.
func writeFrame(w io.Writer, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return crucibleerr.Wrap(crucibleerr.Codec, "encode plugin ipc frame", err)
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(data)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return crucibleerr.Wrap(crucibleerr.Transport, "write frame length", err)
	}
	if _, err := w.Write(data); err != nil {
		return crucibleerr.Wrap(crucibleerr.Transport, "write frame body", err)
	}
	return nil
}

// readFrame reads one length-prefixed JSON frame from r, rejecting any
// claimed length above maxFrameBytes.
func readFrame(r io.Reader, maxFrameBytes int) (Message, error) {
	if maxFrameBytes <= 0 {
		maxFrameBytes = maxFrameBytesDefault
	}

	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return Message{}, err // io.EOF propagates as-is so callers can detect clean disconnect
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if int(n) > maxFrameBytes {
		return Message{}, crucibleerr.New(crucibleerr.InputInvalid,
			fmt.Sprintf("frame of %d bytes exceeds max %d", n, maxFrameBytes))
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, crucibleerr.Wrap(crucibleerr.Transport, "read frame body", err)
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, crucibleerr.Wrap(crucibleerr.Codec, "decode plugin ipc frame", err)
	}
	return msg, nil
}
