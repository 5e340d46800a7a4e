// Package bluetooth discovers nearby BLE devices so a scanner can be
// located before pairing. It only consumes advertisements; connection and
// pairing are the scanner driver's job.
package bluetooth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/scanlink/internal/ringchan"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

// DeviceEvent is one discovery observation, delivered on the event feed.
type DeviceEvent struct {
	Type DeviceEventType
	Info DeviceInfo
	At   time.Time
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration        time.Duration
	AllowDuplicates bool     // deliver repeat advertisements so RSSI refreshes
	ServiceUUIDs    []string // keep only devices advertising one of these
	AllowList       []string // keep only these addresses (empty = all)
	BlockList       []string // always hide these addresses
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		AllowDuplicates: true,
	}
}

// Discovery handles BLE device discovery
type Discovery struct {
	devices *hashmap.Map[string, *found]
	events  *ringchan.RingChannel[DeviceEvent]
	logger  *logrus.Logger

	scanOptions *ScanOptions
}

// NewDiscovery creates a new BLE discovery handle
func NewDiscovery(logger *logrus.Logger) (*Discovery, error) {
	if logger == nil {
		logger = logrus.New()
	}

	return &Discovery{
		events: ringchan.New[DeviceEvent](100),
		logger: logger,
	}, nil
}

// Scan performs BLE discovery with the provided options. It blocks until
// ctx is done and returns a snapshot of everything seen, keyed by address.
func (d *Discovery) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) (map[string]DeviceInfo, error) {
	d.devices = hashmap.New[string, *found]()

	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}

	// Service filters match against normalized UUIDs
	opts.ServiceUUIDs = NormalizeUUIDs(opts.ServiceUUIDs)

	d.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")

	progressCallback("Scanning")

	transport, err := TransportFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE transport: %w", err)
	}

	d.scanOptions = opts
	defer func() {
		d.scanOptions = nil
	}()
	err = transport.Scan(ctx, opts.AllowDuplicates, d.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	d.logger.WithField("device_count", d.devices.Len()).Info("BLE scan completed")

	progressCallback("Processing results")

	devices := make(map[string]DeviceInfo, d.devices.Len())
	d.devices.Range(func(key string, value *found) bool {
		devices[key] = value.snapshot()
		return true
	})

	return devices, nil
}

// Events returns a read-only feed of discovery observations. Bounded
// drop-oldest: a slow consumer only misses intermediate updates.
func (d *Discovery) Events() <-chan DeviceEvent {
	return d.events.C()
}

// handleAdvertisement updates existing or adds a new device
func (d *Discovery) handleAdvertisement(adv Advertisement) {
	address := adv.Addr()

	dev, existing := d.devices.Get(address)
	if !existing {
		if !d.shouldIncludeDevice(adv, d.scanOptions) {
			return
		}
		dev, existing = d.devices.GetOrInsert(address, newFound(adv))
	}

	event := DeviceEvent{At: time.Now()}

	if existing {
		dev.update(adv)
		event.Type = EventUpdated
	} else {
		info := dev.snapshot()
		d.logger.WithFields(logrus.Fields{
			"device":  info.Name,
			"address": info.Address,
			"rssi":    info.RSSI,
		}).Info("Discovered new device")
		event.Type = EventNew
	}
	event.Info = dev.snapshot()

	d.events.ForceSend(event)
}

// shouldIncludeDevice applies the allow/block/service filters
func (d *Discovery) shouldIncludeDevice(adv Advertisement, opts *ScanOptions) bool {
	addr := adv.Addr()

	for _, blocked := range opts.BlockList {
		if addr == blocked {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		allowed := false
		for _, a := range opts.AllowList {
			if addr == a {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(opts.ServiceUUIDs) > 0 {
		hasRequired := false
		for _, required := range opts.ServiceUUIDs {
			for _, advUUID := range adv.Services() {
				if required == NormalizeUUID(advUUID) {
					hasRequired = true
					break
				}
			}
			if hasRequired {
				break
			}
		}
		if !hasRequired {
			return false
		}
	}

	return true
}
