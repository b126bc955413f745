package delivery

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vinayprograms/crucible/internal/bus"
	"github.com/vinayprograms/crucible/internal/ids"
	"github.com/vinayprograms/crucible/internal/logging"
	"github.com/vinayprograms/crucible/internal/routing"
)

// persistentDriver durably queues events for subscribers that may be
// offline when an event is produced (§4.C.4 Persistent): each submission
// is appended to a JSONL file before being acknowledged to the bridge, and
// a background worker drains the queue against the sink, retrying with
// backoff, so a daemon restart mid-queue resumes from disk rather than
// losing events. When the subscription has ack_enabled set, a delivered
// entry is held in awaitingAck rather than marked delivered on disk until
// Ack is called for its event id (§5 "acknowledged delivery cursors are
// advanced only after the ack arrives").
//
// Grounded on internal/logevent/jsonl.go's append-then-fsync durability
// idiom, generalized here from LogEvent to DaemonEvent.
type persistentDriver struct {
	sub         *routing.Subscription
	sink        Sink
	deadLetters *DeadLetterSink
	onFailure   FailurePublisher

	mu          sync.Mutex
	pending     []persistedEntry
	awaitingAck map[ids.EventId]persistedEntry
	file        *os.File

	maxStored int
	ttl       time.Duration

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

type persistedEntry struct {
	Event      bus.DaemonEvent `json:"event"`
	StoredAt   time.Time       `json:"stored_at"`
	Delivered  bool            `json:"delivered"`
}

func newPersistentDriver(sub *routing.Subscription, sink Sink, deadLetters *DeadLetterSink, onFailure FailurePublisher) *persistentDriver {
	maxStored := sub.Delivery.PersistentMaxStored
	if maxStored <= 0 {
		maxStored = defaultPersistentMaxStored
	}
	ttl := sub.Delivery.PersistentTTL
	if ttl <= 0 {
		ttl = defaultPersistentTTL
	}

	d := &persistentDriver{
		sub:         sub,
		sink:        sink,
		deadLetters: deadLetters,
		onFailure:   onFailure,
		awaitingAck: map[ids.EventId]persistedEntry{},
		maxStored:   maxStored,
		ttl:         ttl,
		wake:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}

	if path := persistentQueuePath(sub); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			logging.Default.Warn("persistent driver: creating queue directory failed", map[string]interface{}{
				"subscription_id": string(sub.ID),
				"error":           err.Error(),
			})
		} else if f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o600); err == nil {
			d.file = f
			d.loadFromDisk(f)
		} else {
			logging.Default.Warn("persistent driver: opening queue file failed", map[string]interface{}{
				"subscription_id": string(sub.ID),
				"error":           err.Error(),
			})
		}
	}

	go d.run()
	return d
}

const (
	defaultPersistentMaxStored = 10000
	defaultPersistentTTL       = 24 * time.Hour
)

// persistentQueuePath returns "" (in-memory only, no crash recovery) unless
// the subscription's delivery options name a durable queue directory
// (Delivery.QueueDir, set by internal/daemon from config.Config's
// subscriptions directory at registration time), in which case it names one
// file per subscription ID within that directory.
func persistentQueuePath(sub *routing.Subscription) string {
	if sub.Delivery.QueueDir == "" {
		return ""
	}
	return filepath.Join(sub.Delivery.QueueDir, string(sub.ID)+".jsonl")
}

// loadFromDisk replays the queue file, keeping only the latest record per
// event id (a later line always supersedes an earlier one for the same
// event, e.g. "delivered, awaiting ack" followed later by "acked") and
// re-queuing whatever is left undelivered.
func (d *persistentDriver) loadFromDisk(f *os.File) {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	latest := map[ids.EventId]persistedEntry{}
	var order []ids.EventId
	for scanner.Scan() {
		var entry persistedEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if _, seen := latest[entry.Event.ID]; !seen {
			order = append(order, entry.Event.ID)
		}
		latest[entry.Event.ID] = entry
	}

	for _, id := range order {
		entry := latest[id]
		if !entry.Delivered {
			d.pending = append(d.pending, entry)
		}
	}
}

func (d *persistentDriver) persist(entry persistedEntry) {
	if d.file == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')
	if _, err := d.file.Write(data); err != nil {
		return
	}
	_ = d.file.Sync()
}

func (d *persistentDriver) Submit(event bus.DaemonEvent) {
	entry := persistedEntry{Event: event, StoredAt: time.Now()}

	d.mu.Lock()
	d.pending = append(d.pending, entry)
	if d.maxStored > 0 && len(d.pending) > d.maxStored {
		d.pending = d.pending[len(d.pending)-d.maxStored:]
	}
	d.mu.Unlock()

	d.persist(entry)

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *persistentDriver) run() {
	ticker := time.NewTicker(persistentDrainInterval)
	defer ticker.Stop()
	defer close(d.done)

	for {
		select {
		case <-ticker.C:
			d.drain()
		case <-d.wake:
			d.drain()
		case <-d.stop:
			d.drain()
			if d.file != nil {
				_ = d.file.Close()
			}
			return
		}
	}
}

const persistentDrainInterval = 5 * time.Second

func (d *persistentDriver) drain() {
	d.mu.Lock()
	entries := d.pending
	d.pending = nil
	d.mu.Unlock()

	now := time.Now()
	for _, entry := range entries {
		if now.Sub(entry.StoredAt) > d.ttl {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), persistentDeliveryTimeout)
		err := deliverWithRetry(ctx, d.sub, entry.Event, d.sink, d.deadLetters, d.onFailure)
		cancel()
		if err != nil {
			d.mu.Lock()
			d.pending = append(d.pending, entry)
			d.mu.Unlock()
			continue
		}

		if d.sub.Delivery.AckEnabled {
			d.mu.Lock()
			d.awaitingAck[entry.Event.ID] = entry
			d.mu.Unlock()
			continue
		}
		entry.Delivered = true
		d.persist(entry)
	}
}

const persistentDeliveryTimeout = 30 * time.Second

// Ack marks eventID as delivered, releasing the awaiting-ack entry and
// advancing the durable cursor on disk. Acking an event that isn't
// awaiting ack (unknown id, already acked, or ack_enabled is false for
// this subscription) is a harmless no-op.
func (d *persistentDriver) Ack(eventID ids.EventId) {
	d.mu.Lock()
	entry, ok := d.awaitingAck[eventID]
	if ok {
		delete(d.awaitingAck, eventID)
	}
	d.mu.Unlock()
	if !ok {
		return
	}
	entry.Delivered = true
	d.persist(entry)
}

func (d *persistentDriver) Close() {
	close(d.stop)
	<-d.done
}
