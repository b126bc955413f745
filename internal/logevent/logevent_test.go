package logevent

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	cases := []LogEvent{
		System("You are a helpful assistant..."),
		User("Hello"),
		Assistant("Hi!", "m-3", 10, 5),
		ToolCall("tc_001", "read_file", map[string]interface{}{"path": "foo.rs"}),
		ToolResult("tc_001", "fn main(){}", false, 0),
		Error("Rate limited", true),
	}

	for _, e := range cases {
		data, err := Serialize(e)
		if err != nil {
			t.Fatalf("serialize %v: %v", e.Kind, err)
		}
		got, err := Parse(data)
		if err != nil {
			t.Fatalf("parse %v: %v", e.Kind, err)
		}
		got.Ts = e.Ts // timestamp canonicalization per §4.A round-trip law
		if !reflect.DeepEqual(got, e) {
			t.Fatalf("round trip mismatch for %v: got %+v want %+v", e.Kind, got, e)
		}
	}
}

func TestParseMissingDiscriminator(t *testing.T) {
	if _, err := Parse([]byte(`{"ts":"2026-01-01T00:00:00Z"}`)); err == nil {
		t.Fatal("expected codec error for missing discriminator")
	}
}

func TestParseToolCallRequiresFields(t *testing.T) {
	if _, err := Parse([]byte(`{"type":"tool_call","ts":"2026-01-01T00:00:00Z"}`)); err == nil {
		t.Fatal("expected codec error for tool_call missing id/name")
	}
}

func TestSerializeOmitsFalseTruncated(t *testing.T) {
	data, err := Serialize(ToolResult("tc_001", "ok", false, 0))
	if err != nil {
		t.Fatal(err)
	}
	if contains(data, `"truncated"`) {
		t.Fatalf("expected truncated omitted when false, got %s", data)
	}
}

func contains(data []byte, sub string) bool {
	return len(data) >= len(sub) && indexOf(string(data), sub) >= 0
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func TestWriteReadSessionLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")

	w, err := OpenWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	events := []LogEvent{
		System("You are a helpful assistant..."),
		User("Hello"),
		Assistant("Hi!", "m-3", 10, 5),
		ToolCall("tc_001", "read_file", map[string]interface{}{"path": "foo.rs"}),
		ToolResult("tc_001", "fn main(){}", false, 0),
		Error("Rate limited", true),
	}
	for _, e := range events {
		if _, err := w.Append(e); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	result, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Events) != len(events) {
		t.Fatalf("got %d events, want %d", len(result.Events), len(events))
	}
	for i, e := range result.Events {
		if e.Kind != events[i].Kind {
			t.Fatalf("event %d: got kind %v want %v", i, e.Kind, events[i].Kind)
		}
	}
	if result.Skipped != 0 {
		t.Fatalf("expected no skipped lines, got %d", result.Skipped)
	}
}

func TestReadTruncatedTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")

	data, _ := Serialize(System("hello"))
	partial := `{"type":"user","ts":"2026-01-01T00:00:00Z","content":"truncat`
	content := string(data) + "\n" + partial
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	result, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Events) != 1 {
		t.Fatalf("expected 1 complete event, got %d", len(result.Events))
	}
	if result.PartialOffset == 0 {
		t.Fatal("expected non-zero partial offset for truncated tail")
	}
}

func TestReadNonexistentFile(t *testing.T) {
	result, err := ReadFile(filepath.Join(t.TempDir(), "missing.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Events) != 0 {
		t.Fatalf("expected no events, got %d", len(result.Events))
	}
}
