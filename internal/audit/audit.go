// Package audit defines the append-only audit record stream: exactly one
// record per screened statement, forwarded to a structured log sink and
// optionally retained in memory for inspection.
package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Verdict values recorded per statement.
const (
	VerdictAllowed = "allowed"
	VerdictBlocked = "blocked"
	VerdictFailed  = "failed"
)

// Record is one audit entry. Records are immutable once appended.
type Record struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Principal string    `json:"principal"`
	SessionID string    `json:"session_id,omitempty"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	Verdict   string    `json:"verdict"`
	Reason    string    `json:"reason,omitempty"`
	RiskScore int       `json:"risk_score"`
}

// Sink receives audit records. Implementations must be safe for concurrent
// use; Append must not block on downstream I/O longer than logging does.
type Sink interface {
	Append(r Record)
}

// LogSink forwards records to a zerolog logger as structured events.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a LogSink writing through the given logger.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Append(r Record) {
	s.logger.Info().
		Str("audit_id", r.ID).
		Str("principal", r.Principal).
		Str("session_id", r.SessionID).
		Str("action", r.Action).
		Str("resource", r.Resource).
		Str("verdict", r.Verdict).
		Str("reason", r.Reason).
		Int("risk_score", r.RiskScore).
		Time("at", r.Timestamp).
		Msg("audit")
}

// MemorySink retains the most recent records in a bounded ring. Used by
// tests and the introspection surface.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
	max     int
	total   int64
}

// NewMemorySink creates a MemorySink retaining up to max records.
func NewMemorySink(max int) *MemorySink {
	if max <= 0 {
		max = 1024
	}
	return &MemorySink{max: max}
}

func (s *MemorySink) Append(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.records = append(s.records, r)
	if len(s.records) > s.max {
		s.records = s.records[len(s.records)-s.max:]
	}
}

// Records returns a copy of the retained records, oldest first.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Total returns the number of records ever appended.
func (s *MemorySink) Total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// MultiSink fans records out to several sinks.
type MultiSink []Sink

func (m MultiSink) Append(r Record) {
	for _, s := range m {
		s.Append(r)
	}
}

// NewRecord fills in the id and timestamp for a record under construction.
func NewRecord(principal, sessionID, action, resource string) Record {
	return Record{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Principal: principal,
		SessionID: sessionID,
		Action:    action,
		Resource:  resource,
	}
}
