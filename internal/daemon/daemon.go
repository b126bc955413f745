// Package daemon wires the Event Bus, Subscription Registry, Event Bridge,
// Service Orchestrator, and Plugin IPC Server into one running process
// (§4, the daemon as a whole). cmd/crucibled is a thin Kong-driven shell
// around this package.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vinayprograms/crucible/internal/bridge"
	"github.com/vinayprograms/crucible/internal/bus"
	"github.com/vinayprograms/crucible/internal/config"
	"github.com/vinayprograms/crucible/internal/crucibleerr"
	"github.com/vinayprograms/crucible/internal/delivery"
	"github.com/vinayprograms/crucible/internal/ids"
	"github.com/vinayprograms/crucible/internal/logging"
	"github.com/vinayprograms/crucible/internal/orchestrator"
	"github.com/vinayprograms/crucible/internal/pluginipc"
	"github.com/vinayprograms/crucible/internal/routing"
)

// Daemon owns every long-lived component and their wiring. Its zero value
// is not usable; build one with New.
type Daemon struct {
	cfg    *config.Config
	logger *logging.Logger

	transport   bus.Transport
	registry    *routing.Registry
	deadLetters *delivery.DeadLetterSink
	audit       *bridge.AuditLog
	bridge      *bridge.Bridge
	orch        *orchestrator.Orchestrator

	listener  net.Listener
	ipcServer *pluginipc.Server
	handlers  *pluginipc.HandlerRegistry

	closeListener func()
}

// New builds every component from cfg but does not start any of them.
func New(cfg *config.Config) (*Daemon, error) {
	if err := os.MkdirAll(cfg.Home, 0755); err != nil {
		return nil, crucibleerr.Wrap(crucibleerr.Io, "create daemon home", err)
	}

	logger := logging.New()
	logger.SetLevel(logging.Level(strings.ToUpper(cfg.LogLevel)))

	transport, err := buildTransport(cfg)
	if err != nil {
		return nil, err
	}

	registry := routing.NewRegistry()
	deadLetters := delivery.NewDeadLetterSink(10000)

	if err := os.MkdirAll(filepath.Dir(cfg.AuditLogPath()), 0755); err != nil {
		return nil, crucibleerr.Wrap(crucibleerr.Io, "create audit log directory", err)
	}
	audit, err := bridge.OpenAuditLog(cfg.AuditLogPath())
	if err != nil {
		return nil, err
	}

	handlers := pluginipc.NewHandlerRegistry()

	d := &Daemon{
		cfg:         cfg,
		logger:      logger,
		transport:   transport,
		registry:    registry,
		deadLetters: deadLetters,
		audit:       audit,
		handlers:    handlers,
	}

	d.bridge = bridge.New(transport, registry, d.deliver, deadLetters,
		bridge.WithAuditLog(audit),
		bridge.WithLogger(logger.WithComponent("bridge")),
	)
	d.orch = orchestrator.New(cfg.Orchestrator.HealthCheckInterval.Duration, orchestrator.WithPublisher(transport.Publish))

	listener, closeListener, err := buildListener(cfg)
	if err != nil {
		return nil, err
	}
	d.listener = listener
	d.closeListener = closeListener

	d.registerPluginOperations()

	d.ipcServer = pluginipc.NewServer(listener, handlers, pluginipc.ServerConfig{
		MaxFrameBytes:  cfg.PluginIPC.MaxFrameBytes,
		MaxConnections: cfg.PluginIPC.MaxConnections,
		IdleTimeout:    cfg.PluginIPC.IdleTimeout.Duration,
		Auth:           pluginipc.AllowAllAuth,
	})

	return d, nil
}

func buildTransport(cfg *config.Config) (bus.Transport, error) {
	switch cfg.Bus.Transport {
	case "nats":
		t, err := bus.NewNatsTransport(cfg.Bus.NatsURL, "crucible")
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return bus.NewBus(), nil
	}
}

func buildListener(cfg *config.Config) (net.Listener, func(), error) {
	switch cfg.PluginIPC.Transport {
	case "tcp":
		l, err := pluginipc.ListenTCP(fmt.Sprintf(":%d", cfg.PluginIPC.TCPPortRangeLow))
		if err != nil {
			return nil, nil, err
		}
		return l, func() { _ = l.Close() }, nil
	case "tsnet":
		l, closeFn, err := pluginipc.ListenTsnet(cfg.PluginIPC.TsnetHostname, cfg.PluginIPC.TsnetStateDir, cfg.PluginIPC.TCPPortRangeLow)
		if err != nil {
			return nil, nil, err
		}
		return l, closeFn, nil
	default:
		l, err := pluginipc.ListenUnix(cfg.SocketPath())
		if err != nil {
			return nil, nil, err
		}
		return l, func() { _ = l.Close() }, nil
	}
}

// Start brings every component up: the bridge's dispatch loop, the
// orchestrator's mailbox goroutine, and the Plugin IPC accept loop. It
// returns once everything is running; ctx governs the Plugin IPC server's
// accept loop and is typically canceled on shutdown signal.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.bridge.Start(); err != nil {
		return err
	}
	go d.orch.Run()
	go func() {
		if err := d.ipcServer.Serve(ctx); err != nil {
			d.logger.Error("plugin ipc server stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
	return nil
}

// Stop shuts every component down in reverse dependency order.
func (d *Daemon) Stop() error {
	if d.closeListener != nil {
		d.closeListener()
	}
	d.orch.Shutdown()
	err := d.bridge.Stop()
	_ = d.audit.Close()
	if closer, ok := d.transport.(interface{ Close() }); ok {
		closer.Close()
	}
	return err
}

// deliver is the bridge's delivery.Sink: it pushes the matched event to the
// subscription's owning plugin over the Plugin IPC connection.
func (d *Daemon) deliver(ctx context.Context, sub *routing.Subscription, event bus.DaemonEvent) error {
	payload, err := json.Marshal(eventWireForm{
		ID:            string(event.ID),
		Kind:          string(event.Kind),
		CustomName:    event.CustomName,
		Payload:       event.Payload,
		SourceID:      event.Source.ID,
		Priority:      int(event.Priority),
		Timestamp:     event.Timestamp,
		SubscriptionID: string(sub.ID),
	})
	if err != nil {
		return crucibleerr.Wrap(crucibleerr.Codec, "encode event for delivery", err)
	}
	d.ipcServer.Broadcast(map[string]bool{string(sub.PluginID): true}, payload)
	return nil
}

type eventWireForm struct {
	ID             string                 `json:"id"`
	Kind           string                 `json:"kind"`
	CustomName     string                 `json:"custom_name,omitempty"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
	SourceID       string                 `json:"source_id"`
	Priority       int                    `json:"priority"`
	Timestamp      time.Time              `json:"timestamp"`
	SubscriptionID string                 `json:"subscription_id"`
}

// LoadManifests walks dir for plugin manifest YAML files, registering each
// plugin as an orchestrator-managed service and provisioning its declared
// subscriptions in the registry.
func (d *Daemon) LoadManifests(dir string) error {
	manifests, err := pluginipc.LoadManifestsDir(dir)
	if err != nil {
		return err
	}
	for _, manifest := range manifests {
		if err := d.registerManifest(manifest); err != nil {
			d.logger.Warn("failed to register plugin manifest", map[string]interface{}{"plugin_id": manifest.PluginID, "error": err.Error()})
		}
	}
	return nil
}

func (d *Daemon) registerManifest(m *pluginipc.Manifest) error {
	if err := d.orch.Register(orchestrator.ServiceSpec{
		ID:              ids.ServiceId(m.PluginID),
		Name:            m.PluginID,
		Command:         m.Command,
		Args:            m.Args,
		Env:             m.Env,
		RestartPolicy:   orchestrator.RestartOnFailure,
		StopGracePeriod: d.cfg.Orchestrator.StopGracePeriod.Duration,
	}); err != nil {
		return err
	}

	auth := authFromManifestPermission(m.Permission)
	for _, sub := range m.Subscribe {
		compiled, err := routing.CompileCached(sub.Filter)
		if err != nil {
			return err
		}
		s := &routing.Subscription{
			ID:       ids.NewSubscriptionId(),
			PluginID: ids.PluginId(m.PluginID),
			Name:     sub.Name,
			Kind:     routing.SubscriptionKind(sub.Kind),
			Auth:     auth,
			Filter:   compiled,
			Delivery: routing.DeliveryOptions{
				MaxRetries:   3,
				RetryBackoff: routing.Fixed(time.Second),
				QueueDir:     d.cfg.SubscriptionsDir(),
			},
		}
		d.registry.Register(s, nil)
	}
	return d.orch.Start(m.PluginID)
}

func authFromManifestPermission(p pluginipc.ManifestPermission) routing.AuthContext {
	kinds := make([]bus.Kind, 0, len(p.AllowedKinds))
	for _, k := range p.AllowedKinds {
		kinds = append(kinds, bus.Kind(k))
	}
	perm := routing.EventPermission{Scope: p.Scope, AllowedKinds: kinds, AllowedSources: p.AllowedSources}
	if p.MaxPriority != "" {
		if n, err := strconv.Atoi(p.MaxPriority); err == nil {
			perm.MaxPriority = bus.Priority(n)
			perm.HasMaxPriority = true
		}
	}
	return routing.AuthContext{Principal: p.Scope, Permission: perm}
}

// registerPluginOperations wires the request operations a connected plugin
// may call: subscribe/unsubscribe (adjust the registry), ack (advance a
// Persistent subscription's delivery cursor), and publish (inject a
// DaemonEvent onto the bus on the plugin's behalf).
func (d *Daemon) registerPluginOperations() {
	d.handlers.Register("publish", func(ctx context.Context, pluginID string, args json.RawMessage) (interface{}, error) {
		var req publishRequest
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, crucibleerr.Wrap(crucibleerr.InputInvalid, "decode publish request", err)
		}
		event := bus.New(bus.Kind(req.Kind), bus.Source{ID: pluginID, Name: pluginID}, bus.Priority(req.Priority), req.Payload)
		if req.Kind == string(bus.KindCustom) {
			event.CustomName = req.CustomName
		}
		d.transport.Publish(event)
		return map[string]string{"id": string(event.ID)}, nil
	})

	d.handlers.Register("subscribe", func(ctx context.Context, pluginID string, args json.RawMessage) (interface{}, error) {
		var req subscribeRequest
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, crucibleerr.Wrap(crucibleerr.InputInvalid, "decode subscribe request", err)
		}
		compiled, err := routing.CompileCached(req.Filter)
		if err != nil {
			return nil, crucibleerr.Wrap(crucibleerr.InputInvalid, "compile subscribe filter", err)
		}
		req.Delivery.QueueDir = d.cfg.SubscriptionsDir()
		s := &routing.Subscription{
			ID:       ids.NewSubscriptionId(),
			PluginID: ids.PluginId(pluginID),
			Name:     req.Name,
			Kind:     routing.SubscriptionKind(req.Kind),
			Auth:     routing.AuthContext{Principal: pluginID},
			Filter:   compiled,
			Delivery: req.Delivery,
		}
		d.registry.Register(s, nil)
		return map[string]string{"subscription_id": string(s.ID)}, nil
	})

	d.handlers.Register("unsubscribe", func(ctx context.Context, pluginID string, args json.RawMessage) (interface{}, error) {
		var req unsubscribeRequest
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, crucibleerr.Wrap(crucibleerr.InputInvalid, "decode unsubscribe request", err)
		}
		d.registry.Unregister(ids.SubscriptionId(req.SubscriptionID))
		d.bridge.RemoveDriver(ids.SubscriptionId(req.SubscriptionID))
		return nil, nil
	})

	d.handlers.Register("ack", func(ctx context.Context, pluginID string, args json.RawMessage) (interface{}, error) {
		var req ackRequest
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, crucibleerr.Wrap(crucibleerr.InputInvalid, "decode ack request", err)
		}
		d.bridge.Ack(ids.SubscriptionId(req.SubscriptionID), ids.EventId(req.EventID))
		return nil, nil
	})
}

type publishRequest struct {
	Kind       string                 `json:"kind"`
	CustomName string                 `json:"custom_name,omitempty"`
	Priority   int                    `json:"priority"`
	Payload    map[string]interface{} `json:"payload"`
}

// subscribeRequest is the full Subscription record except id (server
// assigned) and plugin_id (taken from the already-authenticated
// connection, not client-supplied) (§6 Subscribe request payload).
type subscribeRequest struct {
	Name     string                  `json:"name"`
	Kind     string                  `json:"kind"`
	Filter   string                  `json:"filter"`
	Delivery routing.DeliveryOptions `json:"delivery"`
}

type unsubscribeRequest struct {
	SubscriptionID string `json:"subscription_id"`
}

type ackRequest struct {
	SubscriptionID string `json:"subscription_id"`
	EventID        string `json:"event_id"`
}

// Registry exposes the subscription registry.
func (d *Daemon) Registry() *routing.Registry { return d.registry }

// Orchestrator exposes the service orchestrator.
func (d *Daemon) Orchestrator() *orchestrator.Orchestrator { return d.orch }

// BridgeMetrics exposes the bridge's aggregate counters.
func (d *Daemon) BridgeMetrics() bridge.Counters { return d.bridge.Metrics() }
