package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/scanlink/internal/bluetooth"
)

// devicesCmd represents the devices command
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Discover nearby scanners over BLE",
	Long: `Scans for BLE advertisements and lists the devices in range: name,
address, signal strength and advertised services.

Anything advertising shows up, not just scanners; narrow the list with
--services, --allow or --block. Use --watch to keep the table refreshing
until interrupted.`,
	RunE: runDevices,
}

var (
	devicesDuration     time.Duration
	devicesFormat       string
	devicesServices     []string
	devicesAllowList    []string
	devicesBlockList    []string
	devicesNoDuplicates bool
	devicesWatch        bool
)

func init() {
	devicesCmd.Flags().DurationVarP(&devicesDuration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
	devicesCmd.Flags().StringVarP(&devicesFormat, "format", "f", "table", "Output format (table, json)")
	devicesCmd.Flags().StringSliceVarP(&devicesServices, "services", "s", nil, "Only show devices advertising these service UUIDs")
	devicesCmd.Flags().StringSliceVar(&devicesAllowList, "allow", nil, "Only show devices with these addresses")
	devicesCmd.Flags().StringSliceVar(&devicesBlockList, "block", nil, "Hide devices with these addresses")
	devicesCmd.Flags().BoolVar(&devicesNoDuplicates, "no-duplicates", false, "Deliver each device once instead of refreshing RSSI from repeats")
	devicesCmd.Flags().BoolVarP(&devicesWatch, "watch", "w", false, "Continuously scan and update results")
}

func runDevices(cmd *cobra.Command, args []string) error {
	// Validate format parameter
	validFormats := []string{"table", "json"}
	isValidFormat := false
	for _, format := range validFormats {
		if devicesFormat == format {
			isValidFormat = true
			break
		}
	}
	if !isValidFormat {
		return fmt.Errorf("invalid format '%s': must be one of %v", devicesFormat, validFormats)
	}

	// Configure logger based on --log-level and --verbose flags
	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	discovery, err := bluetooth.NewDiscovery(logger)
	if err != nil {
		return fmt.Errorf("failed to create BLE discovery: %w", err)
	}

	scanOpts := &bluetooth.ScanOptions{
		Duration:        devicesDuration,
		AllowDuplicates: !devicesNoDuplicates,
		ServiceUUIDs:    devicesServices,
		AllowList:       devicesAllowList,
		BlockList:       devicesBlockList,
	}

	if devicesWatch {
		return runDevicesWatch(discovery, scanOpts)
	}
	return runDevicesScan(discovery, scanOpts)
}

func runDevicesScan(discovery *bluetooth.Discovery, opts *bluetooth.ScanOptions) error {
	baseCtx := context.Background()
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		baseCtx, cancel = context.WithTimeout(baseCtx, opts.Duration)
		defer cancel()
	}

	// Create a cancellable context for signal handling
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	// Listen for Ctrl+C to cancel
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nCtrl+C pressed, cancelling scan...")
		cancel()
	}()

	progress := NewCountdownProgressPrinter("Scanning for nearby devices", "Scanning", opts.Duration, "Processing results")
	progress.Start()
	defer progress.Stop()

	devices, err := discovery.Scan(ctx, opts, progress.Callback())
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return displayDevices(collectDevices(devices))
}

// runDevicesWatch redraws the device table on a fixed cadence while the
// scan keeps feeding the discovery event channel.
func runDevicesWatch(discovery *bluetooth.Discovery, opts *bluetooth.ScanOptions) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nCtrl+C pressed, cancelling scan...")
		cancel()
	}()

	// The map fills from discovery events; the blocking scan runs aside.
	devices := make(map[string]bluetooth.DeviceInfo)

	scanErrCh := make(chan error, 1)
	go func() {
		_, err := discovery.Scan(ctx, opts, nil) // no progress line in watch mode
		scanErrCh <- err
		close(scanErrCh)
	}()

	redraw := func(err error) error {
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		clearScreen()
		return displayDevices(collectDevices(devices))
	}

	// The ticker both paces redraws and keeps ctx.Done from starving
	// behind a busy event channel.
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	tickCount := 0

	for {
		select {
		case <-ctx.Done():
			return redraw(ctx.Err())

		case err := <-scanErrCh:
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				return redraw(err)
			}
			// scan window ended; keep showing what was found

		case <-ticker.C:
			select {
			case <-ctx.Done():
				return redraw(nil)
			default:
			}

			tickCount++
			if tickCount == 10 {
				_ = redraw(nil)
				tickCount = 0
			}

		case ev := <-discovery.Events():
			devices[ev.Info.Address] = ev.Info
		}
	}
}

// collectDevices flattens the address-keyed map and sorts it strongest
// signal first, so the scanner someone is holding lands at the top.
func collectDevices(byAddr map[string]bluetooth.DeviceInfo) []bluetooth.DeviceInfo {
	list := make([]bluetooth.DeviceInfo, 0, len(byAddr))
	for _, info := range byAddr {
		list = append(list, info)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].RSSI != list[j].RSSI {
			return list[i].RSSI > list[j].RSSI
		}
		return list[i].Address < list[j].Address
	})
	return list
}

func displayDevices(list []bluetooth.DeviceInfo) error {
	if len(list) == 0 {
		fmt.Println("No devices discovered")
		return nil
	}
	if devicesFormat == "json" {
		return displayDevicesJSON(list)
	}
	return displayDevicesTable(list)
}

func displayDevicesTable(list []bluetooth.DeviceInfo) error {
	var base io.Writer = os.Stdout
	w := tabwriter.NewWriter(base, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tSERVICES\tLAST SEEN")
	fmt.Fprintln(w, strings.Repeat("-", 80))

	for _, dev := range list {
		name := dev.Name
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		labels := make([]string, len(dev.Services))
		for i, svc := range dev.Services {
			labels[i] = bluetooth.ServiceLabel(svc)
		}
		services := strings.Join(labels, ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}

		lastSeen := time.Since(dev.LastSeen).Truncate(time.Second)

		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\t%s ago\n",
			name, dev.Address, dev.RSSI, services, lastSeen)
	}

	return w.Flush()
}

func displayDevicesJSON(list []bluetooth.DeviceInfo) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(list)
}

func clearScreen() {
	fmt.Print("\033[2J\033[H")
}
