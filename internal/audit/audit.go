// Package audit keeps a per-session JSONL trail of bridge exchanges and UI
// steps. It records action names, outcomes and ids, never payloads.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Outcomes recorded for a request.
const (
	OutcomeOK        = "ok"
	OutcomeBusy      = "busy"
	OutcomeTimeout   = "timeout"
	OutcomeClosed    = "closed"
	OutcomeCancelled = "cancelled"
	OutcomeRejected  = "rejected"
	OutcomeHostError = "host_error"
	OutcomeError     = "error"
)

// Event is one audited step. Detail must be short and secret-free.
type Event struct {
	Source        string
	Type          string
	Action        string
	Outcome       string
	Detail        string
	Duration      time.Duration
	CorrelationID string
	CausationID   string
}

// Record is the on-disk form of an Event.
type Record struct {
	Timestamp     string `json:"timestamp"`
	Seq           uint64 `json:"seq"`
	Source        string `json:"source"`
	Type          string `json:"type"`
	Action        string `json:"action,omitempty"`
	Outcome       string `json:"outcome,omitempty"`
	Detail        string `json:"detail,omitempty"`
	DurationMs    int64  `json:"duration_ms,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	CausationID   string `json:"causation_id,omitempty"`
}

// Logger appends records to <stateDir>/<session>/events.jsonl. A nil Logger
// drops everything, so callers never need to check.
type Logger struct {
	path string
	now  func() time.Time

	mu  sync.Mutex
	seq uint64
	f   *os.File
}

func New(stateDir string, sessionID string) *Logger {
	if strings.TrimSpace(stateDir) == "" {
		return nil
	}
	if sessionID == "" {
		sessionID = "sess_unknown"
	}
	return &Logger{
		path: filepath.Join(stateDir, sessionID, "events.jsonl"),
		now:  time.Now,
	}
}

func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes e. Write failures are dropped; the trail is best effort.
func (l *Logger) Append(e Event) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
			return
		}
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return
		}
		l.f = f
	}

	l.seq++
	b, err := json.Marshal(Record{
		Timestamp:     l.now().UTC().Format(time.RFC3339Nano),
		Seq:           l.seq,
		Source:        e.Source,
		Type:          e.Type,
		Action:        e.Action,
		Outcome:       e.Outcome,
		Detail:        e.Detail,
		DurationMs:    e.Duration.Milliseconds(),
		CorrelationID: e.CorrelationID,
		CausationID:   e.CausationID,
	})
	if err != nil {
		return
	}
	_, _ = l.f.Write(append(b, '\n'))
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
