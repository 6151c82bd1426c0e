package logging

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// LogEntry is a copy of a log line handed to sinks.
type LogEntry struct {
	Timestamp time.Time
	Level     string
	Message   string
	Fields    map[string]string
}

// Sink receives log entries synchronously, after the line is written.
type Sink interface {
	Write(entry LogEntry)
}

func newEntry(level, msg string, inherited, fields []Field) LogEntry {
	m := make(map[string]string, len(inherited)+len(fields))
	for _, f := range inherited {
		m[f.Key] = fmt.Sprint(f.Value)
	}
	for _, f := range fields {
		m[f.Key] = fmt.Sprint(f.Value)
	}
	return LogEntry{Timestamp: time.Now(), Level: level, Message: msg, Fields: m}
}

// MemorySink keeps the most recent entries in a bounded ring.
// The CLI uses it to print recent backend failures on exit; tests use it
// to assert what a component logged.
type MemorySink struct {
	mu      sync.Mutex
	entries []LogEntry
	max     int
}

// NewMemorySink returns a sink holding at most max entries (default 256).
func NewMemorySink(max int) *MemorySink {
	if max <= 0 {
		max = 256
	}
	return &MemorySink{max: max}
}

func (s *MemorySink) Write(entry LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == s.max {
		s.entries = append(s.entries[:0], s.entries[1:]...)
	}
	s.entries = append(s.entries, entry)
}

// Entries returns a copy of the recorded entries, oldest first.
func (s *MemorySink) Entries() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LogEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Find returns the recorded entries with the given level and message.
func (s *MemorySink) Find(level Level, msg string) []LogEntry {
	var out []LogEntry
	for _, e := range s.Entries() {
		if e.Level == string(level) && e.Message == msg {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops all recorded entries.
func (s *MemorySink) Reset() {
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
}

// Dump writes entries at or above level to w, one per line.
func (s *MemorySink) Dump(w io.Writer, level Level) {
	min := parseLevel(level)
	for _, e := range s.Entries() {
		if parseLevel(Level(e.Level)) < min {
			continue
		}
		fmt.Fprintf(w, "%s %-5s %s", e.Timestamp.Format(time.RFC3339), e.Level, e.Message)
		if errText, ok := e.Fields["error"]; ok {
			fmt.Fprintf(w, ": %s", errText)
		}
		fmt.Fprintln(w)
	}
}

// NewRecorder returns a logger that writes nothing and records every entry
// at debug or above into the returned sink.
func NewRecorder() (Logger, *MemorySink) {
	sink := NewMemorySink(1024)
	l := NewLogger(&Config{
		Level:       LevelDebug,
		ServiceName: "teamdesk",
		Environment: "test",
		JSONFormat:  true,
		Output:      io.Discard,
		Sinks:       []Sink{sink},
	})
	return l, sink
}
