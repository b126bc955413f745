package main

import (
	"fmt"

	"github.com/vinayprograms/crucible/internal/config"
	"github.com/vinayprograms/crucible/internal/daemon"
	"github.com/vinayprograms/crucible/internal/pluginipc"
	"github.com/vinayprograms/crucible/internal/replay"
)

// Run starts the daemon and blocks until it receives SIGINT/SIGTERM.
func (r *RunCmd) Run() error {
	cfg, err := config.Load(r.Config)
	if err != nil {
		return err
	}

	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}

	manifestsDir := r.Manifests
	if manifestsDir == "" {
		manifestsDir = cfg.Home + "/plugins"
	}
	if err := d.LoadManifests(manifestsDir); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := d.Start(ctx); err != nil {
		return err
	}
	fmt.Println("crucible daemon started, socket:", cfg.SocketPath())

	<-ctx.Done()
	return d.Stop()
}

// Run parses manifest and reports whether it is well formed.
func (v *ValidateCmd) Run() error {
	m, err := pluginipc.LoadManifest(v.Manifest)
	if err != nil {
		return err
	}
	fmt.Printf("manifest ok: plugin_id=%s name=%s subscriptions=%d\n", m.PluginID, m.Name, len(m.Subscribe))
	return nil
}

// Run loads the daemon's configuration and reports the effective settings
// that would govern a freshly started daemon; it does not attach to an
// already-running one.
func (i *InspectCmd) Run() error {
	cfg, err := config.Load(i.Config)
	if err != nil {
		return err
	}
	fmt.Printf("home:            %s\n", cfg.Home)
	fmt.Printf("log_level:       %s\n", cfg.LogLevel)
	fmt.Printf("bus.transport:   %s\n", cfg.Bus.Transport)
	fmt.Printf("ipc.transport:   %s\n", cfg.PluginIPC.Transport)
	fmt.Printf("ipc.socket_path: %s\n", cfg.SocketPath())
	fmt.Printf("sessions_dir:    %s\n", cfg.SessionsDir())
	fmt.Printf("audit_log_path:  %s\n", cfg.AuditLogPath())

	entries, err := pluginipc.LoadManifestsDir(cfg.Home + "/plugins")
	if err == nil {
		fmt.Printf("configured plugins: %d\n", len(entries))
	}
	return nil
}

// Run replays a session log, either as a static pager or following it live.
func (p *ReplayCmd) Run() error {
	if p.Live {
		return replay.Follow(p.Session)
	}
	return replay.Show(p.Session)
}

// Run prints build-time version information.
func (v *VersionCmd) Run() error {
	fmt.Printf("crucible %s (commit %s, built %s)\n", version, commit, buildTime)
	return nil
}
