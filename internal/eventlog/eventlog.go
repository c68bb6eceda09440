// Package eventlog carries per-exchange inspection events from the MITM
// tunnel to external observers (a TUI, a log tail, or any other
// consumer), and optionally persists them to an embedded bbolt database
// so history survives a restart.
package eventlog

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"mitmproxy/internal/logger"
)

// Event is one intercepted request/response pair, as surfaced to
// observers. Status and ResponseHeaders are absent until the response
// has been seen (e.g. the upstream relay fails, or the tunnel closes
// before a response arrives).
type Event struct {
	ID              string            `json:"id"`
	Timestamp       time.Time         `json:"timestamp"`
	Host            string            `json:"host"`
	Method          string            `json:"method"`
	URL             string            `json:"url"`
	Status          *int              `json:"status,omitempty"`
	RequestHeaders  map[string]string `json:"requestHeaders"`
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty"`
}

// Log is a bounded best-effort event sink with an optional durable
// History backing store.
type Log struct {
	events  chan Event
	history *history
	log     *logger.Logger
}

// New creates a Log with the given channel capacity. If dbPath is
// non-empty, published events (including ones dropped from a full
// channel) are also appended to a bbolt-backed History
// at that path; a failure to open the database is logged and degrades to
// channel-only delivery rather than failing startup.
func New(capacity int, dbPath string, log *logger.Logger) *Log {
	l := &Log{
		events: make(chan Event, capacity),
		log:    log,
	}
	if dbPath != "" {
		h, err := openHistory(dbPath)
		if err != nil {
			log.Warnf("eventlog_history", "durable history disabled: %v", err)
		} else {
			l.history = h
		}
	}
	return l
}

// NewEvent builds an Event with a fresh ID and the current timestamp.
func NewEvent(host, method, url string, requestHeaders map[string]string) Event {
	return Event{
		ID:             uuid.NewString(),
		Timestamp:      time.Now(),
		Host:           host,
		Method:         method,
		URL:            url,
		RequestHeaders: requestHeaders,
	}
}

// Publish delivers ev to the live channel (dropping it on overflow,
// per spec: inspection is best-effort and must never backpressure the
// tunnel) and appends it to durable history, if configured.
func (l *Log) Publish(ev Event) {
	select {
	case l.events <- ev:
	default:
		l.log.Warnf("eventlog_overflow", "event channel full, dropping event for %s %s", ev.Method, ev.URL)
	}
	if l.history != nil {
		if err := l.history.put(ev); err != nil {
			l.log.Warnf("eventlog_persist", "failed to persist event %s: %v", ev.ID, err)
		}
	}
}

// Events returns the channel observers read from.
func (l *Log) Events() <-chan Event { return l.events }

// History returns up to limit of the most recent persisted events, most
// recent first. Returns an empty slice if no durable history is configured.
func (l *Log) History(limit int) ([]Event, error) {
	if l.history == nil {
		return nil, nil
	}
	return l.history.recent(limit)
}

// Close releases the durable history database, if one is open.
func (l *Log) Close() error {
	if l.history == nil {
		return nil
	}
	return l.history.close()
}

const historyBucket = "events"

// history is a bbolt-backed append-only log of events, keyed by a
// lexicographically-sortable timestamp+ID so iteration order matches
// insertion order.
type history struct {
	db *bolt.DB
}

func openHistory(path string) (*history, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open event history %q: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(historyBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history bucket: %w", err)
	}
	return &history{db: db}, nil
}

func (h *history) put(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	key := []byte(ev.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z07:00") + "_" + ev.ID)
	return h.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(historyBucket)).Put(key, payload)
	})
}

func (h *history) recent(limit int) ([]Event, error) {
	var out []Event
	err := h.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(historyBucket)).Cursor()
		for k, v := c.Last(); k != nil && (limit <= 0 || len(out) < limit); k, v = c.Prev() {
			var ev Event
			if err := json.Unmarshal(v, &ev); err != nil {
				continue
			}
			out = append(out, ev)
		}
		return nil
	})
	return out, err
}

func (h *history) close() error {
	return h.db.Close()
}
