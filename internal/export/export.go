// Package export persists session history for sharing outside the tool:
// newline-joined event log text and CSV barcode histories.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/srg/scanlink/internal/session"
)

// FileError reports a failed filesystem step of an export. It wraps the
// underlying OS error so callers can still match on os-level conditions.
type FileError struct {
	Path string
	Op   string // "create", "write", "close"
	Err  error
}

// Error implements the error interface
func (e *FileError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WriteShareFile joins lines with newlines and persists them to a fresh
// temporary file for handing to another program. Returns the path of the
// written file. Failures are always returned, never swallowed; the caller
// decides how to surface them.
func WriteShareFile(prefix string, lines []string) (string, error) {
	f, err := os.CreateTemp("", prefix+"-*.txt")
	if err != nil {
		return "", &FileError{Path: prefix, Op: "create", Err: err}
	}
	path := f.Name()

	if _, err := f.WriteString(strings.Join(lines, "\n")); err != nil {
		f.Close()
		return "", &FileError{Path: path, Op: "write", Err: err}
	}
	if err := f.Close(); err != nil {
		return "", &FileError{Path: path, Op: "close", Err: err}
	}
	return path, nil
}

// WriteLinesFile writes lines newline-joined to path, replacing any existing
// content.
func WriteLinesFile(path string, lines []string) error {
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0644); err != nil {
		return &FileError{Path: path, Op: "write", Err: err}
	}
	return nil
}

// WriteBarcodeCSV writes the barcode history as CSV, one row per read, with
// a timestamp,payload header. Timestamps use the event log export layout.
func WriteBarcodeCSV(w io.Writer, entries []session.BarcodeEntry) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"timestamp", "payload"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, e := range entries {
		row := []string{e.At.Format(session.ExportTimeLayout), e.Payload}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteBarcodeFile persists the barcode history as a CSV file at path.
func WriteBarcodeFile(path string, entries []session.BarcodeEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return &FileError{Path: path, Op: "create", Err: err}
	}
	if err := WriteBarcodeCSV(f, entries); err != nil {
		f.Close()
		return &FileError{Path: path, Op: "write", Err: err}
	}
	if err := f.Close(); err != nil {
		return &FileError{Path: path, Op: "close", Err: err}
	}
	return nil
}
