package reactor

import (
	"path/filepath"
	"testing"

	"github.com/vinayprograms/crucible/internal/ids"
	"github.com/vinayprograms/crucible/internal/logevent"
)

func TestTokenLimitTrigger(t *testing.T) {
	dir := t.TempDir()
	r, _, err := Open(dir, ids.NewSessionId(), Thresholds{MaxTokens: 100})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	r.RecordSessionEvent(SessionEvent{Kind: OtherEvent, Content: repeatChar('a', (50-perEventOverhead)*charsPerToken)})
	if reason := r.ShouldCompact(); reason != nil {
		t.Fatalf("expected no trigger yet, got %+v", reason)
	}

	r.RecordSessionEvent(SessionEvent{Kind: OtherEvent, Content: repeatChar('a', (50-perEventOverhead)*charsPerToken)})
	reason := r.ShouldCompact()
	if reason == nil || reason.Kind != TokenLimit {
		t.Fatalf("expected TokenLimit trigger, got %+v", reason)
	}

	r.Reset()
	snap := r.Snapshot()
	if snap.TokenCount != 0 || snap.CompactionCount != 1 {
		t.Fatalf("expected reset counters, got %+v", snap)
	}
	if r.ShouldCompact() != nil {
		t.Fatal("expected no trigger after reset")
	}
}

func TestManualRequestOutranksThresholds(t *testing.T) {
	dir := t.TempDir()
	r, _, err := Open(dir, ids.NewSessionId(), Thresholds{MaxTokens: 10, MaxMessages: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	r.RecordSessionEvent(SessionEvent{Kind: MessageReceived, Role: "user", Content: "Test"})
	r.RecordSessionEvent(SessionEvent{Kind: OtherEvent, Content: repeatChar('a', 400)})
	r.RequestCompaction()

	reason := r.ShouldCompact()
	if reason == nil || reason.Kind != ManualRequest {
		t.Fatalf("expected ManualRequest, got %+v", reason)
	}
}

func TestDisabledTriggersNeverFire(t *testing.T) {
	dir := t.TempDir()
	r, _, err := Open(dir, ids.NewSessionId(), Thresholds{})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	for i := 0; i < 10; i++ {
		r.RecordSessionEvent(SessionEvent{Kind: MessageReceived, Content: repeatChar('a', 1000)})
	}
	if r.ShouldCompact() != nil {
		t.Fatal("expected no trigger when all thresholds disabled")
	}
}

func TestAppendAndResume(t *testing.T) {
	dir := t.TempDir()
	sid := ids.NewSessionId()

	r, _, err := Open(dir, sid, Thresholds{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Append(logevent.System("hi")); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Append(logevent.ToolCall("tc_001", "read_file", nil)); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Append(logevent.ToolResult("tc_001", "ok", false, 0)); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	r2, events, err := Open(dir, sid, Thresholds{})
	if err != nil {
		t.Fatal(err)
	}
	defer r2.Close()
	if len(events) != 3 {
		t.Fatalf("expected 3 resumed events, got %d", len(events))
	}
	snap := r2.Snapshot()
	if snap.EventCount != 3 {
		t.Fatalf("expected counters rebuilt from resume, got %+v", snap)
	}

	if _, err := r2.Append(logevent.User("more")); err != nil {
		t.Fatal(err)
	}
	_ = filepath.Join(dir, string(sid)+".jsonl")
}

func repeatChar(c byte, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = c
	}
	return string(b)
}
