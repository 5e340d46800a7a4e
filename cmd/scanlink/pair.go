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

	"github.com/srg/scanlink/companion"
	"github.com/srg/scanlink/internal/scanner"
	"github.com/srg/scanlink/internal/session"
)

// pairCmd represents the pair command
var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Link a scanner by showing it a pairing barcode",
	Long: `Generates a pairing barcode, writes it to a file and waits for the
scanner to read it. Display the file on screen (or print it), scan it
with the scanner, and the command exits once the link is up.

The barcode expires after the configured validity window
(pairing_validity_seconds). A scanner that is still linked to another
device refuses to pair until it is unlinked there.`,
	RunE: runPair,
}

var (
	pairImagePath string
	pairTimeout   time.Duration
)

func init() {
	pairCmd.Flags().StringVarP(&pairImagePath, "image", "i", "scanlink-pairing.pbm", "File to write the pairing barcode to")
	pairCmd.Flags().DurationVar(&pairTimeout, "timeout", 0, "Give up after this long (0 = the barcode validity window)")
}

// imageWait bounds how long the driver may take to produce the pairing
// barcode. pairGrace covers the gap between the scanner reading the
// barcode and the connected event arriving. detailsWait is how long the
// success message waits for device details before settling for a plain
// confirmation.
const (
	imageWait   = 10 * time.Second
	pairGrace   = 2 * time.Second
	detailsWait = 2 * time.Second
)

func runPair(cmd *cobra.Command, args []string) error {
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

	waitFor := pairTimeout
	if waitFor == 0 {
		waitFor = cfg.PairingValidity() + pairGrace
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Listen for Ctrl+C to cancel
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nCtrl+C pressed, cancelling pairing...")
		cancel()
	}()

	progress := NewProgressPrinter("Preparing pairing barcode", "Opening driver", "Failed")
	progress.Start()
	defer progress.Stop()

	opts := &companion.SessionOptions{
		Driver:          cfg.Driver,
		Address:         cfg.DeviceAddress,
		DriverParams:    cfg.DriverParams,
		Logger:          logger,
		EventLogCap:     cfg.EventLogCap,
		BarcodeLogCap:   cfg.BarcodeLogCap,
		PairingValidity: cfg.PairingValidity(),
	}

	_, err = companion.RunSession(ctx, opts, progress.Callback(), func(c companion.Companion) (struct{}, error) {
		var zero struct{}
		ctrl := c.GetSession()

		before := len(ctrl.EventLog())
		ctrl.StartPairing()

		snap, err := waitForPairingImage(ctx, ctrl, before)
		if err != nil {
			return zero, err
		}

		if err := os.WriteFile(pairImagePath, snap.PairingImage, 0o644); err != nil {
			return zero, fmt.Errorf("failed to write pairing barcode: %w", err)
		}

		// Stop the setup spinner before printing instructions
		progress.Stop()
		fmt.Fprintf(os.Stderr, "Pairing barcode written to %s\n", pairImagePath)
		fmt.Fprintln(os.Stderr, "Display the file and scan it with the scanner...")

		countdown := NewCountdownProgressPrinter("Waiting for the scanner", "Waiting", ctrl.PairingRemaining())
		countdown.Start()
		defer countdown.Stop()

		snap, ok := waitForSnapshot(ctx, ctrl, waitFor, func(s session.Snapshot) bool {
			return s.Phase == session.PhaseConnected || s.UnlinkAlert
		})
		countdown.Stop()

		switch {
		case snap.UnlinkAlert:
			return zero, bondingConflictError(snap.UnlinkDeviceName)
		case !ok:
			if err := ctx.Err(); err != nil {
				return zero, err
			}
			ctrl.StopPairing()
			_ = os.Remove(pairImagePath)
			return zero, ErrPairingTimeout
		}

		// The barcode is single-use; don't leave a spent one around.
		_ = os.Remove(pairImagePath)

		ctrl.RefreshDetails()
		if got, ok := waitForSnapshot(ctx, ctrl, detailsWait, func(s session.Snapshot) bool {
			return s.Details != nil
		}); ok {
			fmt.Printf("Linked to %s\n", got.Details.String())
		} else {
			fmt.Println("Scanner linked.")
		}
		return zero, nil
	})
	return err
}

// waitForPairingImage blocks until the driver delivers the pairing
// barcode. A rejected StartPairing surfaces in the event log long before
// the wait would time out, so the helper fails fast on fresh failure
// entries; a bonding conflict wins over the raw log message.
func waitForPairingImage(ctx context.Context, ctrl *session.Controller, before int) (session.Snapshot, error) {
	deadline := time.Now().Add(imageWait)
	for {
		snap := ctrl.Snapshot()
		switch {
		case snap.UnlinkAlert:
			return snap, bondingConflictError(snap.UnlinkDeviceName)
		case snap.PairingImage != nil:
			return snap, nil
		}
		if msg, failed := opFailureWithin(ctx, ctrl, before, 0); failed {
			return snap, errors.New(msg)
		}
		if err := ctx.Err(); err != nil {
			return snap, err
		}
		if !time.Now().Before(deadline) {
			return snap, fmt.Errorf("driver produced no pairing barcode within %s", imageWait)
		}
		time.Sleep(pollInterval)
	}
}

// bondingConflictError shapes the session's bonded-elsewhere alert back
// into the transport error FormatUserError knows how to phrase.
func bondingConflictError(name string) error {
	return &scanner.TransportError{Code: scanner.BondedElsewhere, DeviceName: name}
}
