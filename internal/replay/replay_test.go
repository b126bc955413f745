package replay

import (
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/crucible/internal/logevent"
)

func sampleEvents() []logevent.LogEvent {
	init := logevent.New(logevent.KindInit)
	init.WorkflowName = "deploy-pipeline"
	init.Ts = time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	call := logevent.ToolCall("tc_1", "read_file", map[string]interface{}{"path": "a.go"})
	call.Ts = init.Ts.Add(time.Second)

	result := logevent.ToolResult("tc_1", "package main", false, 0)
	result.Ts = call.Ts.Add(time.Second)

	perm := logevent.New(logevent.KindPermission)
	perm.Granted = false
	perm.Reason = "outside sandbox"
	perm.Ts = result.Ts.Add(time.Second)

	return []logevent.LogEvent{init, call, result, perm}
}

func TestRenderEventIncludesSequenceAndKindMarker(t *testing.T) {
	events := sampleEvents()
	line := RenderEvent(1, events[0])
	if !strings.Contains(line, "#1") {
		t.Fatalf("expected sequence marker in %q", line)
	}
	if !strings.Contains(line, "deploy-pipeline") {
		t.Fatalf("expected workflow name in %q", line)
	}
}

func TestRenderEventPermissionShowsDenied(t *testing.T) {
	events := sampleEvents()
	line := RenderEvent(4, events[3])
	if !strings.Contains(line, "denied") {
		t.Fatalf("expected denied verdict in %q", line)
	}
	if !strings.Contains(line, "outside sandbox") {
		t.Fatalf("expected reason in %q", line)
	}
}

func TestRenderSessionJoinsAllEvents(t *testing.T) {
	events := sampleEvents()
	out := RenderSession(events)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != len(events) {
		t.Fatalf("expected %d lines, got %d", len(events), len(lines))
	}
}

func TestRenderSessionInsertsDividerBetweenInitBoundaries(t *testing.T) {
	events := sampleEvents()
	second := logevent.New(logevent.KindInit)
	second.WorkflowName = "second-session"
	events = append(events, second)

	out := RenderSession(events)
	if !strings.Contains(out, "━") {
		t.Fatal("expected a divider between two init boundaries")
	}
}

func TestTruncateForDisplayReplacesNewlinesAndCaps(t *testing.T) {
	long := strings.Repeat("x", maxDisplayContentLen+50)
	got := truncateForDisplay(long)
	if len(got) > maxDisplayContentLen+len("…") {
		t.Fatalf("expected truncation, got length %d", len(got))
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatal("expected ellipsis suffix on truncated content")
	}

	multiline := "line one\nline two"
	got = truncateForDisplay(multiline)
	if strings.Contains(got, "\n") {
		t.Fatal("expected newlines replaced")
	}
}

func TestShowReturnsNotFoundForEmptyLog(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/empty.jsonl"
	if err := Show(path); err == nil {
		t.Fatal("expected an error for a missing/empty session log")
	}
}

func TestTailRendererReflectsAppendedEvents(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/session.jsonl"

	w, err := logevent.OpenWriter(path)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	defer w.Close()

	init := logevent.New(logevent.KindInit)
	init.WorkflowName = "live-session"
	if _, err := w.Append(init); err != nil {
		t.Fatalf("append: %v", err)
	}

	render := tailRenderer(path)
	out, err := render()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "live-session") {
		t.Fatalf("expected rendered output to include workflow name, got %q", out)
	}

	if _, err := w.Append(logevent.User("hello")); err != nil {
		t.Fatalf("append: %v", err)
	}
	out, err = render()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "[user]") {
		t.Fatalf("expected the newly appended event to show up, got %q", out)
	}
}
