package pluginipc

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/vinayprograms/crucible/internal/crucibleerr"
	"github.com/vinayprograms/crucible/internal/logging"
	"github.com/vinayprograms/crucible/internal/tracing"
)

// AuthFunc authenticates a handshake, returning whether pluginID/token is
// accepted and (on rejection) a human-readable reason.
type AuthFunc func(pluginID, token string) (accepted bool, reason string)

// AllowAllAuth accepts every handshake; useful for local development and
// tests. It is the default when ServerConfig.Auth is nil, and
// internal/daemon wires it too, so the daemon accepts every handshake.
func AllowAllAuth(pluginID, token string) (bool, string) { return true, "" }

// ServerConfig configures a Server.
type ServerConfig struct {
	MaxFrameBytes  int
	MaxConnections int // 0 means unlimited (no netutil.LimitListener wrapping)
	IdleTimeout    time.Duration
	Auth           AuthFunc
}

// Server accepts plugin connections on a net.Listener (Unix socket, TCP,
// or a tsnet.Server's listener for remote deployments) and runs each
// through the handshake -> authenticate -> HandshakeAck sequence before
// handing it to the request/response/event dispatch loop (§4.D.2).
type Server struct {
	listener net.Listener
	handlers *HandlerRegistry
	cfg      ServerConfig
	logger   *logging.Logger

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

// ListenUnix opens a Unix domain socket listener at path, removing any
// stale socket file left behind by a prior crashed run first (§9 "stale
// socket cleanup").
func ListenUnix(path string) (net.Listener, error) {
	if err := removeStaleSocket(path); err != nil {
		return nil, err
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, crucibleerr.Wrap(crucibleerr.Transport, "listen unix socket "+path, err)
	}
	return l, nil
}

func removeStaleSocket(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return crucibleerr.Wrap(crucibleerr.Io, "stat socket path "+path, err)
	}
	// A prior listener left this file behind without a live process on
	// the other end (otherwise this daemon instance wouldn't be starting
	// up to begin with, since only one daemon holds the socket at a
	// time). Remove it so net.Listen can recreate it.
	if err := os.Remove(path); err != nil {
		return crucibleerr.Wrap(crucibleerr.Io, "remove stale socket "+path, err)
	}
	return nil
}

// ListenTCP opens a TCP listener on addr.
func ListenTCP(addr string) (net.Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, crucibleerr.Wrap(crucibleerr.Transport, "listen tcp "+addr, err)
	}
	return l, nil
}

// NewServer wraps listener with cfg's connection bound (via
// golang.org/x/net/netutil.LimitListener when MaxConnections > 0) and
// returns a Server ready to Serve.
func NewServer(listener net.Listener, handlers *HandlerRegistry, cfg ServerConfig) *Server {
	if cfg.Auth == nil {
		cfg.Auth = AllowAllAuth
	}
	if cfg.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.MaxConnections)
	}
	return &Server{
		listener: listener,
		handlers: handlers,
		cfg:      cfg,
		logger:   logging.Default.WithComponent("pluginipc"),
		conns:    map[*Conn]struct{}{},
	}
}

// Serve accepts connections until the listener is closed or ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return crucibleerr.Wrap(crucibleerr.Transport, "accept plugin connection", err)
			}
		}
		pc := newConn(conn, s.cfg.MaxFrameBytes, s.cfg.IdleTimeout)
		s.track(pc)
		go s.handle(ctx, pc)
	}
}

func (s *Server) track(c *Conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// Broadcast pushes a KindEvent message to every authenticated connection
// whose pluginID is in targets (or every connection if targets is empty),
// used by the bridge's delivery sink to push matched events over IPC.
func (s *Server) Broadcast(targets map[string]bool, eventPayload json.RawMessage) {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if len(targets) > 0 && !targets[c.PluginID()] {
			continue
		}
		_ = c.Send(Message{Kind: KindEvent, Payload: eventPayload})
	}
}

func (s *Server) handle(ctx context.Context, c *Conn) {
	defer func() {
		s.untrack(c)
		_ = c.Close()
	}()

	pluginID, err := s.handshake(c)
	if err != nil {
		s.logger.Warn("plugin handshake failed", map[string]interface{}{"error": err.Error()})
		return
	}
	c.setPluginID(pluginID)

	for {
		msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		if msg.Kind != KindRequest {
			continue
		}
		go s.handleRequest(ctx, c, msg)
	}
}

func (s *Server) handshake(c *Conn) (string, error) {
	msg, err := c.ReadMessage()
	if err != nil {
		return "", crucibleerr.Wrap(crucibleerr.Transport, "read handshake", err)
	}
	if msg.Kind != KindHandshake {
		_ = c.Send(Message{Kind: KindHandshakeAck, Payload: mustJSON(HandshakeAckPayload{Accepted: false, Reason: "expected handshake first"})})
		return "", crucibleerr.New(crucibleerr.InputInvalid, "expected handshake, got "+string(msg.Kind))
	}

	var hs HandshakePayload
	if err := json.Unmarshal(msg.Payload, &hs); err != nil {
		_ = c.Send(Message{Kind: KindHandshakeAck, Payload: mustJSON(HandshakeAckPayload{Accepted: false, Reason: "malformed handshake payload"})})
		return "", crucibleerr.Wrap(crucibleerr.Codec, "decode handshake payload", err)
	}

	if hs.ProtocolVersion != ProtocolVersion {
		reason := "unsupported protocol version"
		_ = c.Send(Message{Kind: KindHandshakeAck, Payload: mustJSON(HandshakeAckPayload{Accepted: false, Reason: reason})})
		return "", crucibleerr.New(crucibleerr.InputInvalid, reason)
	}

	accepted, reason := s.cfg.Auth(hs.PluginID, hs.Token)
	if !accepted {
		_ = c.Send(Message{Kind: KindHandshakeAck, Payload: mustJSON(HandshakeAckPayload{Accepted: false, Reason: reason})})
		return "", crucibleerr.New(crucibleerr.Unauthorized, "handshake rejected: "+reason)
	}

	if err := c.Send(Message{Kind: KindHandshakeAck, Payload: mustJSON(HandshakeAckPayload{Accepted: true})}); err != nil {
		return "", err
	}
	return hs.PluginID, nil
}

func (s *Server) handleRequest(ctx context.Context, c *Conn, msg Message) {
	var req RequestPayload
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		_ = c.Send(Message{Kind: KindResponse, ID: msg.ID, Payload: mustJSON(ResponsePayload{Error: "malformed request payload"})})
		return
	}

	reqCtx, span := tracing.StartPluginRequest(ctx, req.Operation, c.PluginID())
	result, err := s.handlers.Dispatch(reqCtx, c.PluginID(), req.Operation, req.Arguments)
	tracing.EndSpan(span, err)

	resp := ResponsePayload{}
	if err != nil {
		resp.Error = err.Error()
	} else {
		data, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			resp.Error = marshalErr.Error()
		} else {
			resp.Result = data
		}
	}
	_ = c.Send(Message{Kind: KindResponse, ID: msg.ID, Payload: mustJSON(resp)})
}

func mustJSON(v interface{}) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
