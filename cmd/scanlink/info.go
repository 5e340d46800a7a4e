package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/scanlink/companion"
	"github.com/srg/scanlink/internal/session"
)

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the linked scanner's details and battery state",
	Long: `Wakes the linked scanner, asks it for device details and battery
metrics and prints them. Fails when no scanner is linked.`,
	RunE: runInfo,
}

var (
	infoJSON    bool
	infoTimeout time.Duration
	infoVerbose bool
)

func init() {
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "Output as JSON")
	infoCmd.Flags().DurationVar(&infoTimeout, "timeout", 10*time.Second, "How long to wait for the scanner to answer")
	infoCmd.Flags().BoolVarP(&infoVerbose, "verbose", "v", false, "Verbose output")
}

func runInfo(cmd *cobra.Command, args []string) error {
	cfg, err := loadToolConfig(cmd)
	if err != nil {
		return err
	}
	if infoVerbose {
		cfg.LogLevel = "debug"
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	logger := cfg.NewLogger()

	ctx := context.Background()

	progress := NewProgressPrinter("Reading scanner info", "Opening driver", "Failed")
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

	snap, err := companion.RunSession(ctx, opts, progress.Callback(), func(c companion.Companion) (session.Snapshot, error) {
		ctrl := c.GetSession()

		if err := awaitScanner(ctx, ctrl, infoTimeout); err != nil {
			return session.Snapshot{}, err
		}

		ctrl.RefreshDetails()
		ctrl.RefreshBattery()

		snap, ok := waitForSnapshot(ctx, ctrl, infoTimeout, func(s session.Snapshot) bool {
			return s.Details != nil && s.Battery != nil
		})
		if !ok {
			return snap, fmt.Errorf("scanner did not answer within %s", infoTimeout)
		}
		return snap, nil
	})
	if err != nil {
		return err
	}

	progress.Stop()

	if infoJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(snap)
	}
	return printInfoText(os.Stdout, snap)
}

func printInfoText(w io.Writer, snap session.Snapshot) error {
	link := snap.Phase.String()
	if snap.Restored {
		link += " (restored bond)"
	}
	fmt.Fprintf(w, "Link:      %s\n", link)
	if snap.Details != nil {
		fmt.Fprintf(w, "Scanner:   %s\n", snap.Details)
	}
	if snap.Battery != nil {
		fmt.Fprintf(w, "Battery:   %s\n", snap.Battery)
	}
	if snap.LastBarcode != nil {
		fmt.Fprintf(w, "Last read: %s\n", snap.LastBarcode.Payload)
	}
	if snap.DataStale {
		fmt.Fprintln(w, "Note: data is from a connection that no longer exists")
	}
	return nil
}
