package session

import (
	"fmt"
	"strings"
	"time"
)

// DefaultEventLogCap bounds the in-memory session event log.
const DefaultEventLogCap = 500

// ExportTimeLayout renders entry timestamps in exported text. Second
// precision keeps exports stable across runs of the same scenario.
const ExportTimeLayout = "2006-01-02T15:04:05"

// Entry is one timestamped line of the session event log.
type Entry struct {
	At      time.Time
	Message string
}

// EventLog is a bounded log of human-readable session events, newest
// first. When full, recording drops the oldest entry.
//
// EventLog is not safe for concurrent use; the Controller serializes
// access to it.
type EventLog struct {
	capacity int
	entries  []Entry
}

// NewEventLog creates a log bounded to the given number of entries.
// A capacity of 0 or less means DefaultEventLogCap.
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = DefaultEventLogCap
	}
	return &EventLog{capacity: capacity}
}

// Record prepends a message with its timestamp. Newlines are flattened to
// spaces so an entry always renders as exactly one exported line.
func (l *EventLog) Record(at time.Time, message string) {
	message = strings.ReplaceAll(message, "\n", " ")
	if len(l.entries) < l.capacity {
		l.entries = append(l.entries, Entry{})
	}
	copy(l.entries[1:], l.entries)
	l.entries[0] = Entry{At: at, Message: message}
}

// Recordf records a formatted message.
func (l *EventLog) Recordf(at time.Time, format string, args ...interface{}) {
	l.Record(at, fmt.Sprintf(format, args...))
}

// Entries returns a copy of the log, newest first.
func (l *EventLog) Entries() []Entry {
	entries := make([]Entry, len(l.entries))
	copy(entries, l.entries)
	return entries
}

// Len returns the number of recorded entries.
func (l *EventLog) Len() int {
	return len(l.entries)
}

// Cap returns the bound the log was created with.
func (l *EventLog) Cap() int {
	return l.capacity
}

// Clear drops all entries.
func (l *EventLog) Clear() {
	l.entries = nil
}

// Lines renders every entry as "<timestamp> <message>", newest first.
func (l *EventLog) Lines() []string {
	lines := make([]string, len(l.entries))
	for i, e := range l.entries {
		lines[i] = e.At.Format(ExportTimeLayout) + " " + e.Message
	}
	return lines
}

// ExportText renders the whole log as shareable text, one line per entry,
// newest first.
func (l *EventLog) ExportText() string {
	return strings.Join(l.Lines(), "\n")
}
