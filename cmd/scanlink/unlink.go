package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/scanlink/companion"
	"github.com/srg/scanlink/internal/session"
)

// unlinkCmd represents the unlink command
var unlinkCmd = &cobra.Command{
	Use:   "unlink",
	Short: "Remove the link with the scanner",
	Long: `Tells the scanner to drop its bond with this device, freeing it to
pair elsewhere. There is no undo short of pairing again, so the command
insists on --yes.`,
	RunE: runUnlink,
}

var (
	unlinkYes     bool
	unlinkTimeout time.Duration
)

func init() {
	unlinkCmd.Flags().BoolVarP(&unlinkYes, "yes", "y", false, "Confirm removing the link")
	unlinkCmd.Flags().DurationVar(&unlinkTimeout, "timeout", 10*time.Second, "How long to wait for the scanner")
}

func runUnlink(cmd *cobra.Command, args []string) error {
	if !unlinkYes {
		return errors.New("unlink removes the scanner bond; re-run with --yes to confirm")
	}

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

	progress := NewProgressPrinter("Unlinking the scanner", "Opening driver", "Failed")
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

		if err := awaitScanner(ctx, ctrl, unlinkTimeout); err != nil {
			return zero, err
		}

		ctrl.Unlink()
		if _, ok := waitForSnapshot(ctx, ctrl, unlinkTimeout, func(s session.Snapshot) bool {
			return s.Unlinked && s.Phase == session.PhaseDisconnected
		}); !ok {
			return zero, fmt.Errorf("scanner did not confirm the unlink within %s", unlinkTimeout)
		}
		return zero, nil
	})
	if err != nil {
		return err
	}

	progress.Stop()
	fmt.Println("Scanner unlinked. Pair it again with 'scanlink pair'.")
	return nil
}
