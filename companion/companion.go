// Package companion assembles a running scanner session from its parts:
// driver, session controller, optional keyboard wedge and optional Lua scan
// hook. Commands use RunSession instead of wiring the pieces by hand.
package companion

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/scanlink/internal/groutine"
	"github.com/srg/scanlink/internal/hook"
	"github.com/srg/scanlink/internal/scanner"
	"github.com/srg/scanlink/internal/session"
	"github.com/srg/scanlink/internal/wedge"
)

// Companion exposes a running session to the callback
type Companion interface {
	GetSession() *session.Controller
	GetWedge() *wedge.Wedge   // nil when no wedge is attached
	GetHook() *hook.Engine    // nil when no hook is loaded
	GetTTYName() string       // wedge tty path for display (empty without a wedge)
	GetTTYSymlink() string    // symlink path (empty if not created)
	GetDriverName() string    // name the driver was opened under
}

// SessionOptions contains all the configuration for running a session
type SessionOptions struct {
	Driver       string            // scanner driver name (required)
	Address      string            // device address, when the driver needs one
	DriverParams map[string]string // driver-specific parameters
	Logger       *logrus.Logger    // logger instance

	EventLogCap     int           // session event log bound (0 = default)
	BarcodeLogCap   int           // barcode history bound (0 = default)
	PairingValidity time.Duration // pairing image lifetime (0 = default)

	EnableWedge     bool   // attach a keyboard-wedge PTY to the scan feed
	WedgeSymlink    string // optional stable tty path (e.g. /tmp/scanlink-wedge)
	WedgeTerminator string // appended to each wedged payload ("" = newline)
	WedgeQueueCap   int    // PTY write queue in bytes (0 = default)
	WedgeHistoryCap uint32 // wedged-scan history ring size (0 = default)

	HookPath   string // Lua scan hook script to load, when set
	HookScript string // inline hook source, loaded when HookPath is empty
}

// ProgressCallback is called when the session setup phase changes
type ProgressCallback func(phase string)

// SessionCallback is executed with the running session
type SessionCallback[R any] func(Companion) (R, error)

// companionImpl implements the Companion interface
type companionImpl struct {
	driver string
	ctrl   *session.Controller
	wdg    *wedge.Wedge
	engine *hook.Engine
}

func (c *companionImpl) GetSession() *session.Controller {
	return c.ctrl
}

func (c *companionImpl) GetWedge() *wedge.Wedge {
	return c.wdg
}

func (c *companionImpl) GetHook() *hook.Engine {
	return c.engine
}

func (c *companionImpl) GetTTYName() string {
	if c.wdg != nil {
		return c.wdg.TTYName()
	}
	return ""
}

func (c *companionImpl) GetTTYSymlink() string {
	if c.wdg != nil {
		return c.wdg.Symlink()
	}
	return ""
}

func (c *companionImpl) GetDriverName() string {
	return c.driver
}

// RunSession opens the scanner driver, starts a session controller over it,
// attaches the optional wedge and hook, and executes the callback with the
// running session. It blocks until the callback returns; teardown happens in
// deferred cleanup regardless of how the callback exits.
func RunSession[R any](
	ctx context.Context,
	opts *SessionOptions,
	progressCallback ProgressCallback,
	callback SessionCallback[R],
) (R, error) {
	var zero R

	// Validate options
	if opts == nil {
		return zero, fmt.Errorf("failed to run session: options are required")
	}
	if opts.Driver == "" {
		return zero, fmt.Errorf("failed to run session: driver name is required")
	}

	// Set defaults
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}

	// Create context for cancellation
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Setup cleanup on any exit path
	var (
		engine *hook.Engine
		ctrl   *session.Controller
		wdg    *wedge.Wedge
	)

	defer func() {
		// Detach the wedge before closing the session (cleanup order
		// matters: the wedge reads the controller's scan feed)
		if wdg != nil {
			_ = wdg.Close()
		}

		// Closing the controller also closes the driver
		if ctrl != nil {
			_ = ctrl.Close()
		}

		if engine != nil {
			engine.Close()
		}
	}()

	// Report phase: Opening driver
	progressCallback("Opening driver")

	mgr, err := scanner.Open(opts.Driver, scanner.Options{
		Address: opts.Address,
		Params:  opts.DriverParams,
		Logger:  logger,
	})
	if err != nil {
		progressCallback("Failed")
		return zero, fmt.Errorf("failed to open scanner driver %q: %w", opts.Driver, err)
	}

	// Report phase: Starting session
	progressCallback("Starting session")

	ctrl, err = session.NewController(session.Options{
		Manager:         mgr,
		Logger:          logger,
		EventLogCap:     opts.EventLogCap,
		BarcodeLogCap:   opts.BarcodeLogCap,
		PairingValidity: opts.PairingValidity,
	})
	if err != nil {
		_ = mgr.Close() // not owned by a controller yet
		progressCallback("Failed")
		return zero, fmt.Errorf("failed to start session: %w", err)
	}

	// Load the scan hook, if requested
	if opts.HookPath != "" || opts.HookScript != "" {
		progressCallback("Loading hook")

		engine = hook.New(logger)
		if opts.HookPath != "" {
			err = engine.LoadFile(opts.HookPath)
		} else {
			err = engine.Load(opts.HookScript, "builtin:on_scan")
		}
		if err != nil {
			progressCallback("Failed")
			return zero, fmt.Errorf("failed to load scan hook: %w", err)
		}
		logger.WithField("hook", engine.Source()).Info("Loaded scan hook")
	}

	switch {
	case opts.EnableWedge:
		// Report phase: Setting up PTY
		progressCallback("Setting up PTY")

		var transform wedge.TransformFunc
		if engine != nil {
			transform = hookTransform(engine, logger)
		}
		wdg, err = wedge.Open(&wedge.Options{
			Feed:        ctrl.ScanFeed(),
			Terminator:  opts.WedgeTerminator,
			SymlinkPath: opts.WedgeSymlink,
			Transform:   transform,
			Logger:      logger,
			QueueCap:    opts.WedgeQueueCap,
			HistoryCap:  opts.WedgeHistoryCap,
		})
		if err != nil {
			progressCallback("Failed")
			return zero, err
		}

	case engine != nil:
		// Hook without a wedge: the companion consumes the scan feed itself
		// so the hook still sees every accepted read.
		runHookLoop(sessionCtx, ctrl.ScanFeed(), engine, logger)
	}

	// Report phase: Running
	progressCallback("Running")

	companion := &companionImpl{
		driver: opts.Driver,
		ctrl:   ctrl,
		wdg:    wdg,
		engine: engine,
	}

	// Execute callback with the running session
	return callback(companion)
}

// hookTransform adapts a hook engine to the wedge transform contract. A
// failing hook never swallows a scan: the raw payload goes through and the
// error lands in the log.
func hookTransform(engine *hook.Engine, logger *logrus.Logger) wedge.TransformFunc {
	return func(payload string) (string, bool) {
		out, keep, err := engine.OnScan(payload)
		if err != nil {
			logger.WithError(err).WithField("payload", payload).Warn("Scan hook failed, passing payload through")
			return payload, true
		}
		return out, keep
	}
}

// runHookLoop feeds accepted reads through the hook when no wedge owns the
// scan feed. Outcomes are only observable through the log and the script's
// own state.
func runHookLoop(ctx context.Context, feed <-chan scanner.Barcode, engine *hook.Engine, logger *logrus.Logger) {
	groutine.Go(ctx, "companion-hook-loop", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case bc, ok := <-feed:
				if !ok {
					return
				}
				out, keep, err := engine.OnScan(bc.Payload)
				switch {
				case err != nil:
					logger.WithError(err).WithField("payload", bc.Payload).Warn("Scan hook failed")
				case !keep:
					logger.WithField("payload", bc.Payload).Debug("Scan hook dropped payload")
				default:
					logger.WithFields(logrus.Fields{
						"payload": bc.Payload,
						"out":     out,
					}).Debug("Scan hook processed payload")
				}
			}
		}
	})
}
