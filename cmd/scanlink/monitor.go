package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/scanlink"
	"github.com/srg/scanlink/companion"
	"github.com/srg/scanlink/internal/export"
	"github.com/srg/scanlink/internal/session"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the companion loop: pair, stream barcodes, track state",
	Long: `Runs the full companion loop against the configured scanner. With no
link the command starts pairing and writes the barcode to a file; once
the scanner is linked every read is printed to stdout, one payload per
line, while status goes to stderr.

With --wedge the payloads are also typed into a pseudo-terminal, so any
program reading that tty sees the scanner as a keyboard
(--wedge=/path/name pins the tty to a stable symlink). With --hook a Lua
script's on_scan function rewrites or drops each wedged payload
(--hook=script.lua, or bare --hook for the built-in GS1 check-digit
filter).

On exit --export-events and --export-scans write the session history to
files.`,
	RunE: runMonitor,
}

var (
	monitorWedge        string
	monitorHook         string
	monitorTimeout      time.Duration
	monitorImagePath    string
	monitorExportEvents string
	monitorExportScans  string
)

func init() {
	monitorCmd.Flags().StringVar(&monitorWedge, "wedge", "", "Attach a keyboard-wedge tty (--wedge=PATH pins the symlink)")
	monitorCmd.Flags().Lookup("wedge").NoOptDefVal = "auto"
	monitorCmd.Flags().StringVar(&monitorHook, "hook", "", "Run a Lua on_scan hook (--hook=PATH for a script; bare for the built-in)")
	monitorCmd.Flags().Lookup("hook").NoOptDefVal = "builtin"
	monitorCmd.Flags().DurationVar(&monitorTimeout, "timeout", 0, "Stop after this long (0 = run until interrupted)")
	monitorCmd.Flags().StringVarP(&monitorImagePath, "image", "i", "scanlink-pairing.pbm", "File to write pairing barcodes to")
	monitorCmd.Flags().StringVar(&monitorExportEvents, "export-events", "", "Write the session event log to this file on exit")
	monitorCmd.Flags().StringVar(&monitorExportScans, "export-scans", "", "Write the barcode history CSV to this file on exit")
}

// monitorPairGrace is how long monitor waits for an existing bond to
// restore before it arms pairing on its own.
const monitorPairGrace = 2 * time.Second

func runMonitor(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	cfg, err := loadToolConfig(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if monitorTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, monitorTimeout)
		defer cancelTimeout()
	}

	// Listen for Ctrl+C to stop
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nCtrl+C pressed, shutting down...")
		cancel()
	}()

	opts := &companion.SessionOptions{
		Driver:          cfg.Driver,
		Address:         cfg.DeviceAddress,
		DriverParams:    cfg.DriverParams,
		Logger:          logger,
		EventLogCap:     cfg.EventLogCap,
		BarcodeLogCap:   cfg.BarcodeLogCap,
		PairingValidity: cfg.PairingValidity(),
	}

	switch monitorWedge {
	case "":
	case "auto":
		opts.EnableWedge = true
		opts.WedgeSymlink = cfg.WedgeSymlink
	default:
		opts.EnableWedge = true
		opts.WedgeSymlink = monitorWedge
	}

	switch monitorHook {
	case "":
		// the config file may still supply a hook
		opts.HookPath = cfg.HookScript
	case "builtin":
		opts.HookScript = scanlink.DefaultScanHookScript
	default:
		opts.HookPath = monitorHook
	}

	progress := NewProgressPrinter("Starting monitor", "Opening driver", "Failed")
	progress.Start()
	defer progress.Stop()

	_, err = companion.RunSession(ctx, opts, progress.Callback(), func(c companion.Companion) (struct{}, error) {
		progress.Stop()
		printMonitorHeader(c)

		ctrl := c.GetSession()
		loopErr := monitorLoop(ctx, ctrl)
		return struct{}{}, errors.Join(loopErr, exportMonitorHistory(ctrl))
	})
	return err
}

func printMonitorHeader(c companion.Companion) {
	fmt.Fprintf(os.Stderr, "Monitoring scanner (driver %s). Press Ctrl+C to stop...\n", c.GetDriverName())
	if tty := c.GetTTYName(); tty != "" {
		line := "Keyboard wedge on " + tty
		if link := c.GetTTYSymlink(); link != "" {
			line += " (symlink " + link + ")"
		}
		fmt.Fprintln(os.Stderr, line)
	}
	if hk := c.GetHook(); hk != nil {
		fmt.Fprintf(os.Stderr, "Scan hook: %s\n", hk.Source())
	}
}

// monitorLoop drives the session until ctx is done: it restores or arms
// pairing at startup, reacts to every state change and keeps the pairing
// barcode fresh.
func monitorLoop(ctx context.Context, ctrl *session.Controller) error {
	ctrl.AnnounceForeground()

	// Arm pairing only if no bond restored shortly after startup.
	pairCheck := time.After(monitorPairGrace)

	expiry := time.NewTicker(time.Second)
	defer expiry.Stop()
	var rearmedAt time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-pairCheck:
			pairCheck = nil
			if ctrl.Snapshot().Phase == session.PhaseIdle {
				fmt.Fprintln(os.Stderr, "No scanner linked, starting pairing...")
				ctrl.StartPairing()
			}

		case <-expiry.C:
			snap := ctrl.Snapshot()
			if snap.Phase == session.PhasePairing && snap.PairingImage != nil &&
				ctrl.PairingRemaining() == 0 && time.Since(rearmedAt) > monitorPairGrace {
				fmt.Fprintln(os.Stderr, "Pairing barcode expired, generating a fresh one...")
				rearmedAt = time.Now()
				ctrl.StartPairing()
			}

		case change := <-ctrl.Events():
			if err := handleMonitorChange(ctrl, change); err != nil {
				return err
			}
		}
	}
}

// handleMonitorChange renders one state change: barcode payloads to
// stdout, everything else to stderr.
func handleMonitorChange(ctrl *session.Controller, change session.Change) error {
	snap := change.Snapshot

	switch change.Cause {
	case "pairing-image":
		if err := os.WriteFile(monitorImagePath, snap.PairingImage, 0o644); err != nil {
			return fmt.Errorf("failed to write pairing barcode: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Pairing barcode written to %s, scan it to link (valid %s)\n",
			monitorImagePath, ctrl.PairingRemaining().Round(time.Second))

	case "connected":
		fmt.Fprintln(os.Stderr, "Scanner connected")
		// the barcode is spent once the scanner read it
		_ = os.Remove(monitorImagePath)
		ctrl.StartScanning()
		ctrl.RefreshDetails()
		ctrl.RefreshBattery()

	case "connection-restored":
		fmt.Fprintln(os.Stderr, "Scanner link restored")
		ctrl.StartScanning()
		ctrl.RefreshDetails()
		ctrl.RefreshBattery()

	case "details-updated":
		fmt.Fprintf(os.Stderr, "Scanner: %s\n", snap.Details.String())

	case "battery-updated":
		fmt.Fprintf(os.Stderr, "Battery: %s\n", snap.Battery.String())

	case "barcode-read":
		if snap.LastBarcode != nil {
			fmt.Println(snap.LastBarcode.Payload)
		}

	case "disconnected":
		fmt.Fprintln(os.Stderr, "Scanner disconnected, waiting for it to come back...")
		ctrl.AcknowledgeDisconnect()

	case "unlinked":
		fmt.Fprintln(os.Stderr, "Scanner was unlinked, starting pairing again...")
		ctrl.AcknowledgeUnlink()
		ctrl.StartPairing()

	case "operation-failed":
		if snap.UnlinkAlert {
			fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(bondingConflictError(snap.UnlinkDeviceName)))
			ctrl.AcknowledgeUnlink()
		} else if entries := ctrl.EventLog(); len(entries) > 0 {
			fmt.Fprintln(os.Stderr, entries[0].Message)
		}
	}
	return nil
}

// exportMonitorHistory writes the requested history files. Failed exports
// surface as errors so a scripted run notices the missing file.
func exportMonitorHistory(ctrl *session.Controller) error {
	var errs []error
	if monitorExportEvents != "" {
		if err := export.WriteLinesFile(monitorExportEvents, ctrl.EventLogLines()); err != nil {
			errs = append(errs, err)
		} else {
			fmt.Fprintf(os.Stderr, "Event log written to %s\n", monitorExportEvents)
		}
	}
	if monitorExportScans != "" {
		if err := export.WriteBarcodeFile(monitorExportScans, ctrl.Barcodes()); err != nil {
			errs = append(errs, err)
		} else {
			fmt.Fprintf(os.Stderr, "Barcode history written to %s\n", monitorExportScans)
		}
	}
	return errors.Join(errs...)
}
