package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/scanlink/internal/groutine"
	"github.com/srg/scanlink/internal/ringchan"
	"github.com/srg/scanlink/internal/scanner"
)

// DefaultChangeFeedCap bounds the observer change feed.
const DefaultChangeFeedCap = 64

// DefaultScanFeedCap bounds the dedicated barcode feed. It is larger than
// the change feed because wedge consumers must not miss scans under burst.
const DefaultScanFeedCap = 256

// closeTimeout bounds how long Close waits for the dispatcher to drain.
const closeTimeout = 5 * time.Second

// Change is one state-change notification for observers. Cause names the
// event or action that produced it; Snapshot is the state after applying
// it.
type Change struct {
	Cause    string
	Snapshot Snapshot
}

// Options configures a session Controller.
type Options struct {
	// Manager is the scanner driver the session talks to. Required.
	Manager scanner.Manager

	// Logger receives session diagnostics. nil means logrus.StandardLogger.
	Logger *logrus.Logger

	// EventLogCap bounds the session event log. 0 means DefaultEventLogCap.
	EventLogCap int

	// BarcodeLogCap bounds the barcode history. 0 means
	// DefaultBarcodeLogCap.
	BarcodeLogCap int

	// PairingValidity is the pairing image lifetime. 0 means
	// DefaultPairingValidity.
	PairingValidity time.Duration

	// ChangeFeedCap bounds the observer feed. 0 means DefaultChangeFeedCap.
	ChangeFeedCap int

	// ScanFeedCap bounds the barcode feed. 0 means DefaultScanFeedCap.
	ScanFeedCap int

	// Clock returns the current time for log timestamps. nil means
	// time.Now.
	Clock func() time.Time
}

// Controller owns a scanner session. It is the single consumer of the
// driver's event stream: events apply strictly in arrival order against a
// transition table, so observers can never see two transitions interleave.
// Commands are fire-and-forget; they dispatch to the driver on a named
// goroutine and return immediately, with outcomes arriving later as driver
// events.
//
// A generation counter guards against answers from dead connections: it
// increments whenever the session leaves Connected, every command is
// stamped with the generation it was issued under, and data events whose
// stamp no longer matches are discarded. Lifecycle events carry no stamp
// and always apply.
type Controller struct {
	log   *logrus.Entry
	mgr   scanner.Manager
	clock func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	gen    atomic.Uint64
	closed atomic.Bool
	done   chan struct{}

	feed  *ringchan.RingChannel[Change]
	scans *ringchan.RingChannel[scanner.Barcode]

	mu       sync.Mutex
	snap     Snapshot
	eventLog *EventLog
	barcodes *BarcodeLog
	timer    *PairingTimer
}

// NewController creates a session controller over the given driver and
// starts its dispatcher.
func NewController(opts Options) (*Controller, error) {
	if opts.Manager == nil {
		return nil, fmt.Errorf("session: Manager is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	feedCap := opts.ChangeFeedCap
	if feedCap <= 0 {
		feedCap = DefaultChangeFeedCap
	}
	scanCap := opts.ScanFeedCap
	if scanCap <= 0 {
		scanCap = DefaultScanFeedCap
	}

	c := &Controller{
		log:      logger.WithField("component", "session"),
		mgr:      opts.Manager,
		clock:    clock,
		done:     make(chan struct{}),
		feed:     ringchan.New[Change](feedCap),
		scans:    ringchan.New[scanner.Barcode](scanCap),
		eventLog: NewEventLog(opts.EventLogCap),
		barcodes: NewBarcodeLog(opts.BarcodeLogCap),
		timer:    NewPairingTimer(opts.PairingValidity),
		snap:     Snapshot{Phase: PhaseIdle},
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.gen.Store(1)

	groutine.Go(c.ctx, "session-dispatcher", func(ctx context.Context) {
		defer close(c.done)
		for ev := range c.mgr.Events() {
			c.apply(ev)
		}
	})
	return c, nil
}

// apply consumes one driver event. It runs only on the dispatcher
// goroutine.
func (c *Controller) apply(ev scanner.Event) {
	if ev.Gen != 0 && ev.Gen != c.gen.Load() {
		c.log.WithFields(logrus.Fields{
			"event": ev.Type,
			"gen":   ev.Gen,
			"want":  c.gen.Load(),
		}).Debug("discarding stale event")
		return
	}

	c.mu.Lock()
	changed := c.applyLocked(ev)
	var change Change
	if changed {
		change = Change{Cause: ev.Type.String(), Snapshot: c.snap.clone()}
	}
	c.mu.Unlock()

	if changed {
		c.feed.ForceSend(change)
		if ev.Type == scanner.EventBarcodeRead && ev.Barcode != nil {
			c.scans.ForceSend(*ev.Barcode)
		}
	}
}

// applyLocked is the transition table. It reports whether the event changed
// observable state; pairs not covered here are no-ops that only show up in
// debug logs.
func (c *Controller) applyLocked(ev scanner.Event) bool {
	switch ev.Type {
	case scanner.EventPairingImage:
		switch c.snap.Phase {
		case PhaseIdle, PhasePairing, PhaseDisconnected:
			c.snap.Phase = PhasePairing
			c.snap.PairingImage = append([]byte(nil), ev.Image...)
			c.snap.Unlinked = false
			c.snap.Restored = false
			c.timer.Reset()
			c.record("pairing barcode generated")
			return true
		default:
			return c.ignored(ev)
		}

	case scanner.EventConnected:
		if c.snap.Phase != PhasePairing {
			return c.ignored(ev)
		}
		c.snap.Phase = PhaseConnected
		c.snap.PairingImage = nil
		c.snap.DisconnectAlert = false
		c.timer.Stop()
		c.record("scanner connected")
		return true

	case scanner.EventConnectionRestored:
		c.snap.Phase = PhaseConnected
		c.snap.PairingImage = nil
		c.snap.Unlinked = false
		c.snap.Restored = true
		c.snap.DisconnectAlert = false
		c.timer.Stop()
		c.record("connection restored")
		return true

	case scanner.EventDisconnected:
		if c.snap.Phase != PhaseConnected {
			// a second disconnect for the same drop is idempotent
			return c.ignored(ev)
		}
		c.enterDisconnectedLocked(false)
		c.snap.DisconnectAlert = true
		c.record("scanner disconnected")
		return true

	case scanner.EventUnlinked:
		if c.snap.Phase != PhaseConnected {
			return c.ignored(ev)
		}
		c.enterDisconnectedLocked(true)
		c.snap.UnlinkAlert = true
		c.record("scanner unlinked")
		return true

	case scanner.EventBatteryUpdated:
		if c.snap.Phase != PhaseConnected || ev.Battery == nil {
			return c.ignored(ev)
		}
		c.snap.Battery = ev.Battery.Clone()
		c.snap.DataStale = false
		c.record("battery data updated")
		return true

	case scanner.EventDetailsUpdated:
		if c.snap.Phase != PhaseConnected || ev.Details == nil {
			return c.ignored(ev)
		}
		details := *ev.Details
		c.snap.Details = &details
		c.snap.DataStale = false
		c.record("device details updated")
		return true

	case scanner.EventBarcodeRead:
		if c.snap.Phase != PhaseConnected || ev.Barcode == nil {
			return c.ignored(ev)
		}
		barcode := *ev.Barcode
		c.snap.LastBarcode = &barcode
		c.barcodes.Append(c.clock(), barcode.Payload)
		c.recordf("barcode read: %s", barcode.Payload)
		return true

	case scanner.EventConfigValuesSet, scanner.EventConfigValuesRead:
		if c.snap.Phase != PhaseConnected {
			return c.ignored(ev)
		}
		verb := "set"
		if ev.Type == scanner.EventConfigValuesRead {
			verb = "read"
		}
		for _, v := range ev.Values {
			c.recordf("config value %s: %s", verb, v)
		}
		return len(ev.Values) > 0

	case scanner.EventOperationFailed:
		c.log.WithError(ev.Err).Warn("scanner operation failed")
		c.recordf("operation failed: %v", ev.Err)
		if name, ok := scanner.BondingConflictName(ev.Err); ok {
			c.snap.UnlinkAlert = true
			c.snap.UnlinkDeviceName = name
		}
		return true

	default:
		return c.ignored(ev)
	}
}

// enterDisconnectedLocked moves the session to Disconnected, marks cached
// data stale and bumps the generation so in-flight answers from the dead
// connection get discarded.
func (c *Controller) enterDisconnectedLocked(unlinked bool) {
	c.snap.Phase = PhaseDisconnected
	c.snap.Unlinked = unlinked
	c.snap.PairingImage = nil
	c.snap.Restored = false
	if c.snap.Details != nil || c.snap.Battery != nil || c.snap.LastBarcode != nil {
		c.snap.DataStale = true
	}
	c.timer.Stop()
	c.gen.Add(1)
}

func (c *Controller) ignored(ev scanner.Event) bool {
	c.log.WithFields(logrus.Fields{
		"event": ev.Type,
		"phase": c.snap.Phase,
	}).Debug("event ignored in current phase")
	return false
}

// record and recordf require c.mu to be held.
func (c *Controller) record(message string) {
	c.eventLog.Record(c.clock(), message)
}

func (c *Controller) recordf(format string, args ...interface{}) {
	c.eventLog.Recordf(c.clock(), format, args...)
}

// dispatch runs a driver command on its own named goroutine, stamped with
// the current generation. A synchronously rejected dispatch lands in the
// event log; the command's real outcome arrives later as a driver event.
func (c *Controller) dispatch(op string, fn func(ctx context.Context) error) {
	if c.closed.Load() {
		return
	}
	ctx := scanner.WithGeneration(c.ctx, c.gen.Load())
	groutine.Go(ctx, "session-cmd-"+op, func(ctx context.Context) {
		if err := fn(ctx); err != nil {
			c.log.WithError(err).WithField("op", op).Warn("command dispatch failed")
			c.mu.Lock()
			c.recordf("%s failed: %v", op, err)
			c.mu.Unlock()
		}
	})
}

// StartPairing asks the driver to begin a pairing exchange. The session
// enters Pairing when the image event arrives.
func (c *Controller) StartPairing() {
	c.dispatch("start pairing", c.mgr.StartPairing)
}

// StopPairing abandons the current pairing attempt. The driver stops
// waiting and the session returns to Idle immediately; no driver event
// confirms the stop.
func (c *Controller) StopPairing() {
	c.dispatch("stop pairing", c.mgr.StopPairing)

	c.mu.Lock()
	var change Change
	changed := c.snap.Phase == PhasePairing
	if changed {
		c.snap.Phase = PhaseIdle
		c.snap.PairingImage = nil
		c.timer.Stop()
		c.record("pairing stopped")
		change = Change{Cause: "pairing-stopped", Snapshot: c.snap.clone()}
	}
	c.mu.Unlock()

	if changed {
		c.feed.ForceSend(change)
	}
}

// RefreshDetails requests fresh device details.
func (c *Controller) RefreshDetails() {
	c.dispatch("refresh details", c.mgr.GetDeviceDetails)
}

// RefreshBattery requests fresh battery metrics.
func (c *Controller) RefreshBattery() {
	c.dispatch("refresh battery", c.mgr.GetBatteryData)
}

// StartScanning arms barcode delivery.
func (c *Controller) StartScanning() {
	c.dispatch("start scanning", c.mgr.StartReadingBarcode)
}

// StopScanning disarms barcode delivery.
func (c *Controller) StopScanning() {
	c.dispatch("stop scanning", c.mgr.StopReadingBarcode)
}

// ApplyConfig sends a configuration blob in the scanner's own format.
func (c *Controller) ApplyConfig(blob []byte) {
	c.dispatch("apply config", func(ctx context.Context) error {
		return c.mgr.ApplyConfig(ctx, blob)
	})
}

// ReadConfig requests the scanner's current configuration.
func (c *Controller) ReadConfig() {
	c.dispatch("read config", c.mgr.ReadConfig)
}

// RestoreDefaultConfig resets the scanner to factory configuration.
func (c *Controller) RestoreDefaultConfig() {
	c.dispatch("restore default config", c.mgr.RestoreDefaultConfig)
}

// FindDevice makes the scanner beep and flash so it can be located.
func (c *Controller) FindDevice() {
	c.dispatch("find device", c.mgr.FindMyDevice)
}

// Unlink removes the bond on the scanner side.
func (c *Controller) Unlink() {
	c.dispatch("unlink", c.mgr.UnlinkDevice)
}

// AnnounceForeground tells the driver the UI became visible again.
func (c *Controller) AnnounceForeground() {
	c.dispatch("announce foreground", c.mgr.AppMovedToForeground)
}

// Snapshot returns a copy of the current session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.clone()
}

// Events returns the state-change feed. The feed is bounded: when an
// observer lags, the oldest unseen change is dropped in favor of the
// newest. The channel is never closed; observers stop seeing changes once
// Close returns.
func (c *Controller) Events() <-chan Change {
	return c.feed.C()
}

// ScanFeed returns the dedicated barcode feed: every accepted barcode read,
// in order, independent of the coalescing change feed. Bounded drop-oldest
// like Events; never closed.
func (c *Controller) ScanFeed() <-chan scanner.Barcode {
	return c.scans.C()
}

// EventLog returns the session log entries, newest first.
func (c *Controller) EventLog() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eventLog.Entries()
}

// ExportEventLog renders the session log as shareable text, newest first.
func (c *Controller) ExportEventLog() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eventLog.ExportText()
}

// EventLogLines renders the session log as export lines, newest first.
func (c *Controller) EventLogLines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eventLog.Lines()
}

// Barcodes returns the barcode history, oldest first.
func (c *Controller) Barcodes() []BarcodeEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.barcodes.Entries()
}

// PairingRemaining reports how long the current pairing image stays valid,
// or 0 when the session is not pairing.
func (c *Controller) PairingRemaining() time.Duration {
	c.mu.Lock()
	pairing := c.snap.Phase == PhasePairing
	c.mu.Unlock()
	if !pairing {
		return 0
	}
	return c.timer.Remaining()
}

// Generation returns the current session generation. It increments every
// time the session leaves Connected.
func (c *Controller) Generation() uint64 {
	return c.gen.Load()
}

// AcknowledgeDisconnect clears the disconnect alert once the UI showed it.
func (c *Controller) AcknowledgeDisconnect() {
	c.mu.Lock()
	var change Change
	changed := c.snap.DisconnectAlert
	if changed {
		c.snap.DisconnectAlert = false
		change = Change{Cause: "disconnect-acknowledged", Snapshot: c.snap.clone()}
	}
	c.mu.Unlock()

	if changed {
		c.feed.ForceSend(change)
	}
}

// AcknowledgeUnlink clears the unlink alert and the conflicting device
// name once the UI showed them.
func (c *Controller) AcknowledgeUnlink() {
	c.mu.Lock()
	var change Change
	changed := c.snap.UnlinkAlert || c.snap.UnlinkDeviceName != ""
	if changed {
		c.snap.UnlinkAlert = false
		c.snap.UnlinkDeviceName = ""
		change = Change{Cause: "unlink-acknowledged", Snapshot: c.snap.clone()}
	}
	c.mu.Unlock()

	if changed {
		c.feed.ForceSend(change)
	}
}

// Close shuts the session down: it closes the driver, waits for the
// dispatcher to drain the remaining events and stops the countdown. The
// observer feed stays open so late notifications never race a close.
func (c *Controller) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()
	err := c.mgr.Close()

	select {
	case <-c.done:
	case <-time.After(closeTimeout):
		c.log.Warn("session dispatcher did not drain in time")
	}
	c.timer.Stop()
	return err
}
