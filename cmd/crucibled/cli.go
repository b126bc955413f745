// Package main is the Crucible daemon's entry point.
package main

import "github.com/alecthomas/kong"

// CLI defines the crucibled command-line interface.
type CLI struct {
	Run      RunCmd      `cmd:"" help:"Start the daemon"`
	Validate ValidateCmd `cmd:"" help:"Validate a plugin manifest"`
	Inspect  InspectCmd  `cmd:"" help:"Show the effective daemon configuration"`
	Replay   ReplayCmd   `cmd:"" help:"Replay a session log for forensic review"`
	Version  VersionCmd  `cmd:"" help:"Show version information"`
}

// RunCmd starts the daemon: bus, registry, bridge, orchestrator, and the
// Plugin IPC server, blocking until a termination signal arrives.
type RunCmd struct {
	Config    string `short:"c" help:"crucible.toml path"`
	Manifests string `help:"Directory of plugin manifest YAML files to load at startup"`
}

// ValidateCmd parses a plugin manifest and reports whether it is well
// formed, without starting anything.
type ValidateCmd struct {
	Manifest string `arg:"" help:"Plugin manifest YAML path"`
}

// InspectCmd loads the daemon configuration and reports the effective
// settings and paths, plus the number of plugin manifests under the home
// directory; it does not attach to a running daemon or read the audit log.
type InspectCmd struct {
	Config string `short:"c" help:"crucible.toml path"`
}

// ReplayCmd replays a session's JSONL event log.
type ReplayCmd struct {
	Session string `arg:"" help:"Session log file path"`
	Live    bool   `help:"Follow the session as it is still being written"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func kongVars() kong.Vars {
	return kong.Vars{"version": version}
}
