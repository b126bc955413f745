package bridge

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/vinayprograms/crucible/internal/bus"
	"github.com/vinayprograms/crucible/internal/ids"
	"github.com/vinayprograms/crucible/internal/routing"
)

// SecurityGate is consulted once per (event, candidate subscription) pair
// before delivery, independent of the subscription's own AuthContext
// (§9 Open Question 2: "should the security/ACL gate be a genuinely
// consulted policy or a rubber stamp?" — decided as genuinely consulted,
// defaulting to allow when no policy is configured; see SPEC_FULL.md).
// A false return is a security violation: the event is counted as
// "blocked" and an entry is appended to the audit log.
type SecurityGate interface {
	Allow(event bus.DaemonEvent, sub *routing.Subscription) (allowed bool, reason string)
}

// AllowAllGate is the default gate: every delivery is allowed. It keeps
// the policy point real (every dispatch still calls Allow) rather than
// bypassing it, so swapping in a stricter gate later requires no change
// to dispatch.
type AllowAllGate struct{}

// Allow always permits delivery.
func (AllowAllGate) Allow(bus.DaemonEvent, *routing.Subscription) (bool, string) { return true, "" }

// AuditEntry is one SecurityViolation record (§4.C.5 "audit log writing for
// SecurityViolation").
type AuditEntry struct {
	Timestamp      time.Time          `json:"timestamp"`
	EventID        ids.EventId        `json:"event_id"`
	SubscriptionID ids.SubscriptionId `json:"subscription_id"`
	Reason         string             `json:"reason"`
}

// AuditLog appends SecurityViolation entries to a JSONL file, one per line,
// flushed immediately (same durability idiom as internal/logevent's writer:
// append, write, fsync).
type AuditLog struct {
	mu   sync.Mutex
	file *os.File
}

// OpenAuditLog opens (creating if needed) the audit log at path.
func OpenAuditLog(path string) (*AuditLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &AuditLog{file: f}, nil
}

// Record appends entry to the log.
func (a *AuditLog) Record(entry AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.file.Write(data); err != nil {
		return err
	}
	return a.file.Sync()
}

// Close closes the underlying file.
func (a *AuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

// ReadAuditLog loads every recorded entry from path, tolerating a
// truncated trailing line the same way internal/logevent.ReadFile does.
func ReadAuditLog(path string) ([]AuditEntry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []AuditEntry
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			var entry AuditEntry
			if jsonErr := json.Unmarshal(line, &entry); jsonErr == nil {
				entries = append(entries, entry)
			}
		}
		if err != nil {
			break
		}
	}
	return entries, nil
}
