package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "plugin.yaml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestValidateCmdAcceptsWellFormedManifest(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "plugin_id: demo\nname: Demo Plugin\ncommand: /bin/true\n")

	cmd := &ValidateCmd{Manifest: path}
	if err := cmd.Run(); err != nil {
		t.Fatalf("expected manifest to validate, got %v", err)
	}
}

func TestValidateCmdRejectsMissingPluginID(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "name: Demo Plugin\ncommand: /bin/true\n")

	cmd := &ValidateCmd{Manifest: path}
	if err := cmd.Run(); err == nil {
		t.Fatal("expected an error for a manifest missing plugin_id")
	}
}

func TestVersionCmdRuns(t *testing.T) {
	cmd := &VersionCmd{}
	if err := cmd.Run(); err != nil {
		t.Fatalf("expected version command to succeed, got %v", err)
	}
}

func TestInspectCmdReportsDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	cmd := &InspectCmd{Config: ""}
	os.Setenv("CRUCIBLE_HOME", dir)
	defer os.Unsetenv("CRUCIBLE_HOME")
	if err := cmd.Run(); err != nil {
		t.Fatalf("expected inspect to succeed with defaults, got %v", err)
	}
}
