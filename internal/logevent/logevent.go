// Package logevent implements the session-journal quantum (§4.A / §3
// "LogEvent" of the specification): a closed tagged variant, its
// line-delimited JSON serialization, and a truncated-tail-tolerant reader.
//
// This is grounded on the teacher's session.Event/EventMeta forensic-record
// design (internal/session/session.go) and its JSONL header/event/footer
// framing, generalized from a workflow-session log to the spec's own closed
// LogEvent variant set.
package logevent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vinayprograms/crucible/internal/crucibleerr"
)

// Kind discriminates the closed LogEvent tagged variant (§3).
type Kind string

const (
	KindInit             Kind = "init"
	KindSystem           Kind = "system"
	KindUser             Kind = "user"
	KindAssistant        Kind = "assistant"
	KindThinking         Kind = "thinking"
	KindToolCall         Kind = "tool_call"
	KindPermission       Kind = "permission"
	KindToolResult       Kind = "tool_result"
	KindSummary          Kind = "summary"
	KindError            Kind = "error"
	KindBashSpawned      Kind = "bash_spawned"
	KindBashCompleted    Kind = "bash_completed"
	KindBashFailed       Kind = "bash_failed"
	KindSubagentSpawned  Kind = "subagent_spawned"
	KindSubagentCompleted Kind = "subagent_completed"
	KindSubagentFailed   Kind = "subagent_failed"
)

// LogEvent is one line of a session's JSONL journal. Fields not relevant to
// a given Kind are left zero and omitted on serialization. ToolCall and
// ToolResult share a CorrelationID (invariant I3: every ToolResult has a
// prior ToolCall of the same id in the same log).
type LogEvent struct {
	Kind Kind      `json:"type"`
	Ts   time.Time `json:"ts"`

	// Init
	WorkflowName string `json:"workflow_name,omitempty"`

	// System / User / Assistant / Thinking / Summary / Error
	Content string `json:"content,omitempty"`

	// Assistant
	Model        string `json:"model,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`

	// ToolCall / ToolResult / Permission
	ID   string                 `json:"id,omitempty"` // correlation id
	Name string                 `json:"name,omitempty"`
	Args map[string]interface{} `json:"args,omitempty"`

	// ToolResult
	Truncated bool `json:"truncated,omitempty"`
	FullSize  int  `json:"full_size,omitempty"`

	// Permission
	Granted bool   `json:"granted,omitempty"`
	Reason  string `json:"reason,omitempty"`

	// Error
	Recoverable bool `json:"recoverable,omitempty"`

	// Bash*
	Command    string `json:"command,omitempty"`
	ExitCode   int    `json:"exit_code,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`

	// Subagent*
	AgentName string `json:"agent_name,omitempty"`
	AgentRole string `json:"agent_role,omitempty"`
}

// validate checks the fields, beyond "ts", that Serialize and Parse require
// to be present for each Kind (the "type" discriminator, plus kind-specific
// fields); callers wrap a failure as a Codec error.
func validate(e *LogEvent) error {
	switch e.Kind {
	case "":
		return fmt.Errorf("missing discriminator")
	case KindToolCall:
		if e.ID == "" || e.Name == "" {
			return fmt.Errorf("tool_call requires id and name")
		}
	case KindToolResult:
		if e.ID == "" {
			return fmt.Errorf("tool_result requires id")
		}
	case KindInit:
		if e.WorkflowName == "" {
			return fmt.Errorf("init requires workflow_name")
		}
	}
	return nil
}

// New constructs a LogEvent of kind, stamping Ts to now if unset. It is the
// sole supported way to build an event the round-trip law (§4.A) applies
// to: Parse(Serialize(New(...))) == the same value up to timestamp
// canonicalization.
func New(kind Kind) LogEvent {
	return LogEvent{Kind: kind, Ts: time.Now().UTC()}
}

// System builds a system message event.
func System(content string) LogEvent {
	e := New(KindSystem)
	e.Content = content
	return e
}

// User builds a user message event.
func User(content string) LogEvent {
	e := New(KindUser)
	e.Content = content
	return e
}

// Assistant builds an assistant response event carrying model/token usage.
func Assistant(content, model string, inputTokens, outputTokens int) LogEvent {
	e := New(KindAssistant)
	e.Content = content
	e.Model = model
	e.InputTokens = inputTokens
	e.OutputTokens = outputTokens
	return e
}

// ToolCall builds a tool-invocation event. The returned event's ID is the
// correlation id a matching ToolResult must carry (invariant I3).
func ToolCall(id, name string, args map[string]interface{}) LogEvent {
	e := New(KindToolCall)
	e.ID = id
	e.Name = name
	e.Args = args
	return e
}

// ToolResult builds a tool-result event correlated to a prior ToolCall{id}.
// If the stored content was shortened, pass truncated=true and the original
// size in fullSize.
func ToolResult(id, content string, truncated bool, fullSize int) LogEvent {
	e := New(KindToolResult)
	e.ID = id
	e.Content = content
	e.Truncated = truncated
	if truncated {
		e.FullSize = fullSize
	}
	return e
}

// Error builds an error event; recoverable mirrors whether the originating
// condition (e.g. a rate limit) is expected to resolve on retry.
func Error(message string, recoverable bool) LogEvent {
	e := New(KindError)
	e.Content = message
	e.Recoverable = recoverable
	return e
}

// Serialize renders one LogEvent as a single line of tagged JSON, without a
// trailing newline (§4.A). Optional fields are omitted by the `omitempty`
// struct tags above; the zero-value `truncated` boolean is always omitted.
func Serialize(e LogEvent) ([]byte, error) {
	if err := validate(&e); err != nil {
		return nil, crucibleerr.Wrap(crucibleerr.Codec, "serialize", err)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, crucibleerr.Wrap(crucibleerr.Codec, "serialize", err)
	}
	return data, nil
}

// Parse reconstructs a LogEvent from one serialized line. It fails with a
// classified Codec error when the discriminator or a kind-required field is
// missing.
func Parse(line []byte) (LogEvent, error) {
	var e LogEvent
	if err := json.Unmarshal(line, &e); err != nil {
		return LogEvent{}, crucibleerr.Wrap(crucibleerr.Codec, "parse", err)
	}
	if err := validate(&e); err != nil {
		return LogEvent{}, crucibleerr.Wrap(crucibleerr.Codec, "parse", err)
	}
	return e, nil
}
