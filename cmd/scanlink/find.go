package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/scanlink/companion"
)

// findCmd represents the find command
var findCmd = &cobra.Command{
	Use:   "find",
	Short: "Make the linked scanner beep and flash",
	Long: `Asks the linked scanner to beep and flash its LED so it can be found
under the packing bench.`,
	RunE: runFind,
}

var findTimeout time.Duration

// findFailureWindow is how long a rejected find gets to surface. Success
// is silent on the wire: the only confirmation is the beep itself.
const findFailureWindow = 600 * time.Millisecond

func init() {
	findCmd.Flags().DurationVar(&findTimeout, "timeout", 10*time.Second, "How long to wait for the scanner")
}

func runFind(cmd *cobra.Command, args []string) error {
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

	ctx := context.Background()

	progress := NewProgressPrinter("Calling the scanner", "Opening driver", "Failed")
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

		if err := awaitScanner(ctx, ctrl, findTimeout); err != nil {
			return zero, err
		}

		before := len(ctrl.EventLog())
		ctrl.FindDevice()
		if msg, failed := opFailureWithin(ctx, ctrl, before, findFailureWindow); failed {
			return zero, errors.New(msg)
		}
		return zero, nil
	})
	if err != nil {
		return err
	}

	progress.Stop()
	fmt.Println("Asked the scanner to beep and flash.")
	return nil
}
