package main

import (
	"context"
	"strings"
	"time"

	"github.com/srg/scanlink/internal/session"
)

// pollInterval paces snapshot-based waits. Driver answers are
// asynchronous, so commands watch the session state instead of return
// values.
const pollInterval = 10 * time.Millisecond

// waitForSnapshot blocks until pred accepts the session snapshot, the
// timeout passes or ctx is cancelled. It returns the last snapshot seen
// either way.
func waitForSnapshot(ctx context.Context, ctrl *session.Controller, timeout time.Duration, pred func(session.Snapshot) bool) (session.Snapshot, bool) {
	deadline := time.Now().Add(timeout)
	for {
		snap := ctrl.Snapshot()
		if pred(snap) {
			return snap, true
		}
		if ctx.Err() != nil || !time.Now().Before(deadline) {
			return snap, false
		}
		time.Sleep(pollInterval)
	}
}

// waitForPhase blocks until the session reaches the wanted phase.
func waitForPhase(ctx context.Context, ctrl *session.Controller, want session.Phase, timeout time.Duration) bool {
	_, ok := waitForSnapshot(ctx, ctrl, timeout, func(s session.Snapshot) bool {
		return s.Phase == want
	})
	return ok
}

// awaitScanner nudges the driver to restore an existing bond and waits for
// the session to come up Connected. Commands that talk to the scanner
// (info, config, find, unlink) call this first.
func awaitScanner(ctx context.Context, ctrl *session.Controller, timeout time.Duration) error {
	if ctrl.Snapshot().Phase == session.PhaseConnected {
		return nil
	}
	ctrl.AnnounceForeground()
	if !waitForPhase(ctx, ctrl, session.PhaseConnected, timeout) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrNoScanner
	}
	return nil
}

// opFailureWithin watches the event log for a fresh "operation failed"
// entry. before is the log length captured before the command was issued.
// Commands whose success produces no event (find) use this to give
// failures a short window to surface.
func opFailureWithin(ctx context.Context, ctrl *session.Controller, before int, window time.Duration) (string, bool) {
	deadline := time.Now().Add(window)
	for {
		entries := ctrl.EventLog()
		if fresh := len(entries) - before; fresh > 0 {
			// entries are newest first; only look at what the command added
			for i := 0; i < fresh; i++ {
				if msg, ok := strings.CutPrefix(entries[i].Message, "operation failed: "); ok {
					return msg, true
				}
			}
		}
		if ctx.Err() != nil || !time.Now().Before(deadline) {
			return "", false
		}
		time.Sleep(pollInterval)
	}
}
