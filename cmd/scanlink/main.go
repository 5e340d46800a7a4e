package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "scanlink",
	Short: "Companion for Bluetooth barcode scanners",
	Long: `scanlink pairs a Bluetooth barcode scanner with this machine and runs
the companion side of the link:

- Discover nearby scanners from their BLE advertisements
- Pair by showing a one-time barcode for the scanner to read
- Monitor a live session: barcode reads, battery, connection health
- Feed scans into other programs through a keyboard-wedge PTY
- Rewrite or drop scans with a Lua on_scan hook
- Push, read and factory-reset device configuration

The built-in sim driver (--driver sim) runs the whole pipeline without
hardware, which is also how the test suite exercises it.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		// Print user-friendly error message
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	// Add subcommands
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(pairCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(unlinkCmd)

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("driver", "", "Scanner driver to use (overrides the config file)")
	rootCmd.PersistentFlags().String("config", "scanlink.yaml", "Tool configuration file")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
