package session

import "time"

// DefaultBarcodeLogCap bounds the in-memory barcode history.
const DefaultBarcodeLogCap = 500

// BarcodeEntry is one barcode read with its arrival time.
type BarcodeEntry struct {
	At      time.Time
	Payload string
}

// BarcodeLog keeps barcode reads in arrival order, oldest first, bounded.
// Unlike the event log it stays chronological because exports feed
// spreadsheet-style consumers.
//
// BarcodeLog is not safe for concurrent use; the Controller serializes
// access to it.
type BarcodeLog struct {
	capacity int
	entries  []BarcodeEntry
}

// NewBarcodeLog creates a history bounded to the given number of reads.
// A capacity of 0 or less means DefaultBarcodeLogCap.
func NewBarcodeLog(capacity int) *BarcodeLog {
	if capacity <= 0 {
		capacity = DefaultBarcodeLogCap
	}
	return &BarcodeLog{capacity: capacity}
}

// Append records a read, evicting the oldest when full.
func (l *BarcodeLog) Append(at time.Time, payload string) {
	if len(l.entries) == l.capacity {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:l.capacity-1]
	}
	l.entries = append(l.entries, BarcodeEntry{At: at, Payload: payload})
}

// Entries returns a copy of the history, oldest first.
func (l *BarcodeLog) Entries() []BarcodeEntry {
	entries := make([]BarcodeEntry, len(l.entries))
	copy(entries, l.entries)
	return entries
}

// Len returns the number of recorded reads.
func (l *BarcodeLog) Len() int {
	return len(l.entries)
}
