// Package reactor implements the per-session event log and compaction
// accounting of §4.B. One Reactor instance owns one active session: its
// identity, its compaction counters, and the writer handle to its JSONL
// file.
//
// Grounded on internal/session/session.go's Session/FileStore (the
// teacher's per-session forensic log and JSONL persistence, generalized
// here from workflow-session Events to the spec's own LogEvent/SessionEvent
// semantics) and on internal/checkpoint/checkpoint.go's RWMutex-guarded
// map-of-state idiom.
package reactor

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/vinayprograms/crucible/internal/ids"
	"github.com/vinayprograms/crucible/internal/logevent"
)

// Reason is the first-triggered compaction reason returned by ShouldCompact,
// in the fixed priority order of §4.B: ManualRequest > TokenLimit >
// MessageLimit > EventLimit > DurationLimit.
type Reason struct {
	Kind    ReasonKind
	Current int64
	Limit   int64
}

// ReasonKind discriminates the compaction trigger.
type ReasonKind string

const (
	ManualRequest ReasonKind = "manual_request"
	TokenLimit    ReasonKind = "token_limit"
	MessageLimit  ReasonKind = "message_limit"
	EventLimit    ReasonKind = "event_limit"
	DurationLimit ReasonKind = "duration_limit"
)

// Thresholds configures a session's compaction triggers. A zero or
// negative value disables that trigger.
type Thresholds struct {
	MaxTokens   int64
	MaxMessages int64
	MaxEvents   int64
	MaxDuration time.Duration
}

// Counters holds the atomic-like compaction accounting for one session
// (§3 "Compaction counters"). Mutated only by the owning reactor; reset
// atomically when a compaction completes. Guarded by Reactor.mu rather than
// sync/atomic because several fields must advance together (e.g.
// MessageCount and EventCount on the same event).
type Counters struct {
	TokenCount      int64
	MessageCount    int64
	EventCount      int64
	SessionStart    time.Time
	ManualRequested bool
	CompactionCount int64
}

// SessionEvent is the internal bus variant recorded by RecordSessionEvent;
// it is distinct from the persisted LogEvent (some SessionEvents never hit
// the journal, e.g. a raw MessageReceived notification used only for
// counter accounting).
type SessionEvent struct {
	Kind    SessionEventKind
	Role    string // for MessageReceived: "user", "assistant", ...
	Content string
}

// SessionEventKind discriminates SessionEvent.
type SessionEventKind string

const (
	MessageReceived SessionEventKind = "message_received"
	OtherEvent      SessionEventKind = "other"
)

// Reactor owns one session's identity, counters and journal writer.
type Reactor struct {
	mu         sync.Mutex
	sessionID  ids.SessionId
	thresholds Thresholds
	counters   Counters
	writer     *logevent.Writer
	path       string
}

// Open creates (or resumes) the reactor for sessionID, journaling to
// <dir>/<sessionID>.jsonl. On resume the reactor re-reads the JSONL file
// from byte 0 and reconstructs counters from the replayed events (§4.B
// "Persistence").
func Open(dir string, sessionID ids.SessionId, thresholds Thresholds) (*Reactor, []logevent.LogEvent, error) {
	path := filepath.Join(dir, string(sessionID)+".jsonl")

	result, err := logevent.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	w, err := logevent.OpenWriter(path)
	if err != nil {
		return nil, nil, err
	}

	r := &Reactor{
		sessionID:  sessionID,
		thresholds: thresholds,
		writer:     w,
		path:       path,
		counters:   Counters{SessionStart: time.Now()},
	}
	for _, e := range result.Events {
		r.accountEvent(e)
	}
	return r, result.Events, nil
}

// SessionID returns the id of the session this reactor owns.
func (r *Reactor) SessionID() ids.SessionId { return r.sessionID }

// Append writes one LogEvent to the journal, updates counters on success,
// and returns the byte offset written (§4.B "append"). Counters are
// updated only after a successful write.
func (r *Reactor) Append(e logevent.LogEvent) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	offset, err := r.writer.Append(e)
	if err != nil {
		return 0, err
	}
	r.accountEvent(e)
	return offset, nil
}

// accountEvent updates EventCount/TokenCount for a persisted LogEvent, and
// MessageCount when it is a User or Assistant event. Must be called with mu
// held (Open calls it before the reactor is shared).
func (r *Reactor) accountEvent(e logevent.LogEvent) {
	r.counters.EventCount++
	r.counters.TokenCount += estimateTokens(e)
	if e.Kind == logevent.KindUser || e.Kind == logevent.KindAssistant {
		r.counters.MessageCount++
	}
}

// RecordSessionEvent accounts for the internal bus SessionEvent variant
// without necessarily persisting it: increments EventCount always;
// increments MessageCount additionally when the event is MessageReceived;
// estimates and adds the event's token cost (§4.B).
func (r *Reactor) RecordSessionEvent(ev SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counters.EventCount++
	if ev.Kind == MessageReceived {
		r.counters.MessageCount++
	}
	r.counters.TokenCount += estimateTokensForContent(ev.Content)
}

// RequestCompaction sets the manual-request flag consulted by
// ShouldCompact, giving ManualRequest top priority regardless of other
// thresholds (§8 property 4, scenario S3).
func (r *Reactor) RequestCompaction() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters.ManualRequested = true
}

// ShouldCompact evaluates the fixed-priority trigger order ManualRequest >
// TokenLimit > MessageLimit > EventLimit > DurationLimit and returns the
// first that fires, or nil if none do. A disabled trigger (threshold <= 0)
// never fires.
func (r *Reactor) ShouldCompact() *Reason {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.counters.ManualRequested {
		return &Reason{Kind: ManualRequest}
	}
	if r.thresholds.MaxTokens > 0 && r.counters.TokenCount >= r.thresholds.MaxTokens {
		return &Reason{Kind: TokenLimit, Current: r.counters.TokenCount, Limit: r.thresholds.MaxTokens}
	}
	if r.thresholds.MaxMessages > 0 && r.counters.MessageCount >= r.thresholds.MaxMessages {
		return &Reason{Kind: MessageLimit, Current: r.counters.MessageCount, Limit: r.thresholds.MaxMessages}
	}
	if r.thresholds.MaxEvents > 0 && r.counters.EventCount >= r.thresholds.MaxEvents {
		return &Reason{Kind: EventLimit, Current: r.counters.EventCount, Limit: r.thresholds.MaxEvents}
	}
	if r.thresholds.MaxDuration > 0 {
		elapsed := time.Since(r.counters.SessionStart)
		if elapsed >= r.thresholds.MaxDuration {
			return &Reason{Kind: DurationLimit, Current: int64(elapsed), Limit: int64(r.thresholds.MaxDuration)}
		}
	}
	return nil
}

// Reset zeroes all counters, clears the manual-request flag, re-anchors the
// session-start instant to now, and increments CompactionCount (§4.B
// "reset").
func (r *Reactor) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	compactions := r.counters.CompactionCount + 1
	r.counters = Counters{
		SessionStart:    time.Now(),
		CompactionCount: compactions,
	}
}

// Snapshot returns a copy of the current counters, for metrics/inspection.
func (r *Reactor) Snapshot() Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters
}

// Close closes the journal writer.
func (r *Reactor) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		return nil
	}
	return r.writer.Close()
}
