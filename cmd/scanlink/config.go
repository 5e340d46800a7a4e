package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/scanlink/companion"
	"github.com/srg/scanlink/internal/session"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read or change the linked scanner's settings",
	Long: `Reads and writes settings stored on the scanner itself, like beep
volume or scan mode. The scanner echoes every value it applied, so the
output always shows what the device actually accepted.`,
}

// configShowCmd represents the config show command
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the scanner's current settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigOp(cmd, "read", func(ctrl *session.Controller) error {
			ctrl.ReadConfig()
			return nil
		})
	},
}

// configApplyCmd represents the config apply command
var configApplyCmd = &cobra.Command{
	Use:   "apply <file>",
	Short: "Send a settings file to the scanner",
	Long: `Sends a settings file to the scanner in its native key=value format:

  # example
  beep_volume=low
  scan_mode=continuous

Blank lines and '#' comments are ignored. A malformed file is rejected
as a whole; the scanner applies nothing.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		blob, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read settings file: %w", err)
		}
		return runConfigOp(cmd, "set", func(ctrl *session.Controller) error {
			ctrl.ApplyConfig(blob)
			return nil
		})
	},
}

// configResetCmd represents the config reset command
var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the scanner's factory settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigOp(cmd, "set", func(ctrl *session.Controller) error {
			ctrl.RestoreDefaultConfig()
			return nil
		})
	},
}

var configTimeout time.Duration

func init() {
	configCmd.PersistentFlags().DurationVar(&configTimeout, "timeout", 10*time.Second, "How long to wait for the scanner to answer")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configApplyCmd)
	configCmd.AddCommand(configResetCmd)
}

// runConfigOp opens a session, fires one configuration command and prints
// the values the scanner echoed back, one key=value per line.
func runConfigOp(cmd *cobra.Command, verb string, fire func(ctrl *session.Controller) error) error {
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

	progress := NewProgressPrinter("Talking to the scanner", "Opening driver", "Failed")
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

	values, err := companion.RunSession(ctx, opts, progress.Callback(), func(c companion.Companion) ([]string, error) {
		ctrl := c.GetSession()

		if err := awaitScanner(ctx, ctrl, configTimeout); err != nil {
			return nil, err
		}

		before := len(ctrl.EventLog())
		if err := fire(ctrl); err != nil {
			return nil, err
		}
		return waitConfigEcho(ctx, ctrl, verb, before, configTimeout)
	})
	if err != nil {
		return err
	}

	progress.Stop()
	for _, v := range values {
		fmt.Println(v)
	}
	return nil
}

// waitConfigEcho collects the config values a command produced in the
// session log. The log surfaces entries newest first; the echo comes back
// in the order the scanner reported the values.
func waitConfigEcho(ctx context.Context, ctrl *session.Controller, verb string, before int, timeout time.Duration) ([]string, error) {
	prefix := "config value " + verb + ": "
	deadline := time.Now().Add(timeout)
	for {
		entries := ctrl.EventLog()
		if fresh := len(entries) - before; fresh > 0 {
			var values []string
			for i := fresh - 1; i >= 0; i-- {
				if v, ok := strings.CutPrefix(entries[i].Message, prefix); ok {
					values = append(values, v)
				} else if msg, ok := strings.CutPrefix(entries[i].Message, "operation failed: "); ok {
					return nil, errors.New(msg)
				}
			}
			if len(values) > 0 {
				return values, nil
			}
		}
		if ctx.Err() != nil || !time.Now().Before(deadline) {
			return nil, fmt.Errorf("scanner did not answer within %s", timeout)
		}
		time.Sleep(pollInterval)
	}
}
