package pluginipc

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func startTestServer(t *testing.T, cfg ServerConfig, register func(*HandlerRegistry)) (string, func()) {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "crucible-test.sock")
	listener, err := ListenUnix(sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	handlers := NewHandlerRegistry()
	if register != nil {
		register(handlers)
	}

	server := NewServer(listener, handlers, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go server.Serve(ctx)

	return sockPath, func() { cancel(); _ = listener.Close() }
}

func TestHandshakeAndRequestResponse(t *testing.T) {
	sockPath, stop := startTestServer(t, ServerConfig{Auth: AllowAllAuth}, func(h *HandlerRegistry) {
		h.Register("echo", func(ctx context.Context, pluginID string, args json.RawMessage) (interface{}, error) {
			var s string
			_ = json.Unmarshal(args, &s)
			return s, nil
		})
	})
	defer stop()

	client, err := Dial("unix", sockPath, "plugin-a", "token", 0)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	result, err := client.Call("echo", "hello")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	var got string
	if err := json.Unmarshal(result, &got); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if got != "hello" {
		t.Fatalf("expected echoed hello, got %q", got)
	}
}

func TestHandshakeRejectedByAuth(t *testing.T) {
	sockPath, stop := startTestServer(t, ServerConfig{
		Auth: func(pluginID, token string) (bool, string) { return false, "bad token" },
	}, nil)
	defer stop()

	_, err := Dial("unix", sockPath, "plugin-a", "wrong", 0)
	if err == nil {
		t.Fatal("expected handshake rejection error")
	}
}

func TestUnknownOperationReturnsError(t *testing.T) {
	sockPath, stop := startTestServer(t, ServerConfig{Auth: AllowAllAuth}, nil)
	defer stop()

	client, err := Dial("unix", sockPath, "plugin-a", "token", 0)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if _, err := client.Call("does-not-exist", nil); err == nil {
		t.Fatal("expected error for unknown operation")
	}
}

func TestServerBroadcastsEventsToConnectedPlugins(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "crucible-broadcast.sock")
	listener, err := ListenUnix(sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := NewServer(listener, NewHandlerRegistry(), ServerConfig{Auth: AllowAllAuth})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Serve(ctx)
	defer listener.Close()

	client, err := Dial("unix", sockPath, "plugin-a", "token", 0)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	time.Sleep(20 * time.Millisecond) // let the server register the connection
	server.Broadcast(nil, json.RawMessage(`{"hello":"world"}`))

	select {
	case msg := <-client.Events():
		if msg.Kind != KindEvent {
			t.Fatalf("expected event message, got %s", msg.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast event")
	}
}

func TestFrameSizeLimitRejectsOversizedFrame(t *testing.T) {
	sockPath, stop := startTestServer(t, ServerConfig{Auth: AllowAllAuth, MaxFrameBytes: 16}, nil)
	defer stop()

	// A handshake payload naturally exceeds 16 bytes, so the server should
	// reject the connection outright rather than hang.
	_, err := Dial("unix", sockPath, "plugin-a", "token", 0)
	if err == nil {
		t.Fatal("expected dial to fail once the server-side frame limit rejects the handshake")
	}
}
