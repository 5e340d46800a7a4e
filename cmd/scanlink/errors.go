package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/scanlink/internal/scanner"
)

// Command-level errors
var (
	// ErrNoScanner indicates a command needed a connected scanner and the
	// driver could not restore a bond in time.
	ErrNoScanner = errors.New("no scanner connected")

	// ErrPairingTimeout indicates the pairing barcode expired before the
	// scanner read it.
	ErrPairingTimeout = errors.New("pairing timed out")
)

// FormatUserError renders err the way a person at the terminal expects:
// known conditions get a hint, everything else passes through unchanged.
func FormatUserError(err error) string {
	if name, ok := scanner.BondingConflictName(err); ok {
		if name != "" {
			return fmt.Sprintf("scanner is already linked to %q; unlink it there first, then pair again", name)
		}
		return "scanner is already linked to another device; unlink it there first, then pair again"
	}
	switch {
	case errors.Is(err, ErrNoScanner):
		return "no scanner connected (link one with 'scanlink pair')"
	case errors.Is(err, ErrPairingTimeout):
		return "pairing timed out: the barcode expired before the scanner read it"
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out: " + err.Error()
	}
	return err.Error()
}
