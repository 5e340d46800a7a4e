// Package sim implements an in-process scanner driver that fakes a
// Bluetooth barcode scanner. It honors the full driver contract with
// configurable delays, so session logic and commands can run without
// hardware. Link faults are injectable through DropLink, RestoreLink and
// SetBondedElsewhere.
package sim

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/scanlink/internal/groutine"
	"github.com/srg/scanlink/internal/ringchan"
	"github.com/srg/scanlink/internal/scanner"
)

// DriverName is the name the driver registers under.
const DriverName = "sim"

func init() {
	scanner.Register(DriverName, func(opts scanner.Options) (scanner.Manager, error) {
		return NewDevice(opts)
	})
}

// Driver parameters, all optional. Durations use time.ParseDuration syntax.
const (
	// ParamDeviceName sets the simulated scanner's name.
	ParamDeviceName = "device_name"
	// ParamPairDelay is how long the scanner "takes" to scan the pairing
	// image and bond after StartPairing.
	ParamPairDelay = "pair_delay"
	// ParamResponseDelay is the round-trip latency applied to command
	// responses.
	ParamResponseDelay = "response_delay"
	// ParamScanInterval is the pause between scripted barcode reads.
	ParamScanInterval = "scan_interval"
	// ParamBarcodes is a comma-separated list of payloads the scanner
	// cycles through while barcode reading is armed.
	ParamBarcodes = "barcodes"
	// ParamBondedElsewhere, when set to a device name, makes every pairing
	// attempt fail with a bonding conflict naming that device.
	ParamBondedElsewhere = "bonded_elsewhere"
	// ParamDisconnectAfter drops the link that long after it comes up.
	// Zero or unset means never.
	ParamDisconnectAfter = "disconnect_after"
	// ParamBonded, when "true", starts the device with its bond already in
	// place, like a scanner that paired in an earlier run. The session
	// still has to call AppMovedToForeground to learn about it.
	ParamBonded = "bonded"
)

const (
	defaultDeviceName    = "SimScan-1"
	defaultPairDelay     = 150 * time.Millisecond
	defaultResponseDelay = 20 * time.Millisecond
	defaultScanInterval  = time.Second

	eventFeedCap = 64
)

var defaultBarcodes = []string{
	"4006381333931",
	"0012345678905",
	"9780201379624",
}

// Device is a simulated scanner. All command methods dispatch and return
// immediately; responses arrive on Events after the configured delays, the
// way a real transport would deliver them.
type Device struct {
	log *logrus.Entry

	deviceName      string
	pairDelay       time.Duration
	responseDelay   time.Duration
	scanInterval    time.Duration
	barcodes        []string
	disconnectAfter time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	events *ringchan.RingChannel[scanner.Event]
	emitMu sync.RWMutex
	closed atomic.Bool

	mu              sync.Mutex
	connected       bool
	pairArmed       bool
	pairToken       uint64
	bondedElsewhere string
	scanStop        chan struct{}
	barcodeID       uint64
	details         scanner.DeviceDetails
	config          *orderedmap.OrderedMap[string, string]
}

// NewDevice creates a simulated scanner from driver options.
func NewDevice(opts scanner.Options) (*Device, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	d := &Device{
		deviceName:      defaultDeviceName,
		pairDelay:       defaultPairDelay,
		responseDelay:   defaultResponseDelay,
		scanInterval:    defaultScanInterval,
		barcodes:        defaultBarcodes,
		bondedElsewhere: opts.Params[ParamBondedElsewhere],
		events:          ringchan.New[scanner.Event](eventFeedCap),
		details: scanner.DeviceDetails{
			Model:    "ScanLink SL-90",
			Serial:   "SL90-00421",
			Firmware: "2.4.1",
		},
	}
	if name := opts.Params[ParamDeviceName]; name != "" {
		d.deviceName = name
	}
	var err error
	if d.pairDelay, err = durationParam(opts.Params, ParamPairDelay, d.pairDelay); err != nil {
		return nil, err
	}
	if d.responseDelay, err = durationParam(opts.Params, ParamResponseDelay, d.responseDelay); err != nil {
		return nil, err
	}
	if d.scanInterval, err = durationParam(opts.Params, ParamScanInterval, d.scanInterval); err != nil {
		return nil, err
	}
	if d.disconnectAfter, err = durationParam(opts.Params, ParamDisconnectAfter, 0); err != nil {
		return nil, err
	}
	if raw := opts.Params[ParamBarcodes]; raw != "" {
		d.barcodes = nil
		for _, payload := range strings.Split(raw, ",") {
			if payload = strings.TrimSpace(payload); payload != "" {
				d.barcodes = append(d.barcodes, payload)
			}
		}
		if len(d.barcodes) == 0 {
			return nil, fmt.Errorf("sim: %s must contain at least one payload", ParamBarcodes)
		}
	}
	if raw := opts.Params[ParamBonded]; raw != "" {
		bonded, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("sim: invalid %s %q: %w", ParamBonded, raw, err)
		}
		d.connected = bonded
	}

	d.config = defaultConfig()
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.log = logger.WithFields(logrus.Fields{
		"driver": DriverName,
		"device": d.deviceName,
	})
	return d, nil
}

func defaultConfig() *orderedmap.OrderedMap[string, string] {
	m := orderedmap.New[string, string]()
	m.Set("beep_volume", "high")
	m.Set("scan_mode", "single")
	m.Set("illumination", "on")
	return m
}

func durationParam(params map[string]string, key string, def time.Duration) (time.Duration, error) {
	raw, ok := params[key]
	if !ok || raw == "" {
		return def, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("sim: invalid %s %q: %w", key, raw, err)
	}
	return dur, nil
}

// Events implements scanner.Manager.
func (d *Device) Events() <-chan scanner.Event {
	return d.events.C()
}

// emit delivers an event unless the device is closed. It never blocks: the
// feed overwrites its oldest entry when the consumer lags.
func (d *Device) emit(ev scanner.Event) {
	d.emitMu.RLock()
	defer d.emitMu.RUnlock()
	if d.closed.Load() {
		return
	}
	if d.events.ForceSend(ev) {
		d.log.WithField("event", ev.Type).Warn("event feed full, dropped oldest")
	}
}

// after runs fn once delay elapses, unless the device shuts down first.
func (d *Device) after(name string, delay time.Duration, fn func()) {
	d.wg.Add(1)
	groutine.Go(d.ctx, "sim-"+name, func(ctx context.Context) {
		defer d.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			fn()
		case <-ctx.Done():
		}
	})
}

// fail reports an asynchronous command failure after the response delay.
func (d *Device) fail(gen uint64, op, msg string) {
	d.after("fail-"+op, d.responseDelay, func() {
		d.emit(scanner.Event{
			Type: scanner.EventOperationFailed,
			Gen:  gen,
			Err:  &scanner.OperationError{Op: op, Msg: msg},
		})
	})
}

// StartPairing implements scanner.Manager. The pairing image arrives after
// the response delay; the bond completes after the pair delay unless the
// attempt is stopped or superseded first.
func (d *Device) StartPairing(ctx context.Context) error {
	gen := scanner.GenerationFrom(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		d.fail(gen, "start pairing", "already connected")
		return nil
	}
	if other := d.bondedElsewhere; other != "" {
		d.after("bond-conflict", d.responseDelay, func() {
			d.emit(scanner.Event{
				Type: scanner.EventOperationFailed,
				Gen:  gen,
				Err: fmt.Errorf("start pairing: %w", &scanner.TransportError{
					Code:       scanner.BondedElsewhere,
					DeviceName: other,
				}),
			})
		})
		return nil
	}

	d.pairToken++
	d.pairArmed = true
	token := d.pairToken

	d.after("pairing-image", d.responseDelay, func() {
		d.emit(scanner.Event{
			Type:  scanner.EventPairingImage,
			Gen:   gen,
			Image: PairingImage(d.deviceName, token),
		})
	})
	d.after("pairing-bond", d.pairDelay, func() {
		d.mu.Lock()
		bonded := d.pairArmed && d.pairToken == token
		if bonded {
			d.pairArmed = false
			d.connected = true
		}
		d.mu.Unlock()
		if !bonded {
			return
		}
		d.log.Info("simulated scanner bonded")
		d.emit(scanner.Event{Type: scanner.EventConnected})
		if d.disconnectAfter > 0 {
			d.after("auto-disconnect", d.disconnectAfter, d.DropLink)
		}
	})
	return nil
}

// StopPairing implements scanner.Manager.
func (d *Device) StopPairing(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pairArmed = false
	return nil
}

// GetDeviceDetails implements scanner.Manager.
func (d *Device) GetDeviceDetails(ctx context.Context) error {
	gen := scanner.GenerationFrom(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		d.fail(gen, "get device details", "no scanner connected")
		return nil
	}
	details := d.details
	d.after("details", d.responseDelay, func() {
		d.emit(scanner.Event{
			Type:    scanner.EventDetailsUpdated,
			Gen:     gen,
			Details: &details,
		})
	})
	return nil
}

// GetBatteryData implements scanner.Manager.
func (d *Device) GetBatteryData(ctx context.Context) error {
	gen := scanner.GenerationFrom(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		d.fail(gen, "get battery data", "no scanner connected")
		return nil
	}
	battery := scanner.NewBatteryData()
	battery.Set("charge", 87)
	battery.Set("health", 95)
	battery.Set("cycles", 112)
	battery.Set("voltage_mv", 3920)
	d.after("battery", d.responseDelay, func() {
		d.emit(scanner.Event{
			Type:    scanner.EventBatteryUpdated,
			Gen:     gen,
			Battery: battery,
		})
	})
	return nil
}

// StartReadingBarcode implements scanner.Manager. Scripted payloads cycle
// on the scan interval until StopReadingBarcode or a link fault.
func (d *Device) StartReadingBarcode(ctx context.Context) error {
	gen := scanner.GenerationFrom(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		d.fail(gen, "start reading barcode", "no scanner connected")
		return nil
	}
	if d.scanStop != nil {
		return nil // already armed
	}
	stop := make(chan struct{})
	d.scanStop = stop

	d.wg.Add(1)
	groutine.Go(d.ctx, "sim-barcode-loop", func(ctx context.Context) {
		defer d.wg.Done()
		ticker := time.NewTicker(d.scanInterval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
			}

			d.mu.Lock()
			if !d.connected {
				d.mu.Unlock()
				return
			}
			d.barcodeID++
			barcode := &scanner.Barcode{
				ID:      d.barcodeID,
				Payload: d.barcodes[i%len(d.barcodes)],
			}
			d.mu.Unlock()

			d.emit(scanner.Event{
				Type:    scanner.EventBarcodeRead,
				Gen:     gen,
				Barcode: barcode,
			})
		}
	})
	return nil
}

// StopReadingBarcode implements scanner.Manager. Stopping an unarmed
// scanner is a no-op.
func (d *Device) StopReadingBarcode(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopScanLocked()
	return nil
}

func (d *Device) stopScanLocked() {
	if d.scanStop != nil {
		close(d.scanStop)
		d.scanStop = nil
	}
}

// ApplyConfig implements scanner.Manager. The blob uses the scanner's own
// line format: one key=value per line, '#' starts a comment. A malformed
// blob is rejected whole.
func (d *Device) ApplyConfig(ctx context.Context, blob []byte) error {
	gen := scanner.GenerationFrom(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		d.fail(gen, "apply config", "no scanner connected")
		return nil
	}

	var values []scanner.ConfigValue
	for i, line := range strings.Split(string(blob), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			d.fail(gen, "apply config", fmt.Sprintf("line %d: missing '='", i+1))
			return nil
		}
		values = append(values, scanner.ConfigValue{
			Key:   strings.TrimSpace(key),
			Value: strings.TrimSpace(value),
		})
	}
	if len(values) == 0 {
		d.fail(gen, "apply config", "no configuration values in blob")
		return nil
	}
	for _, v := range values {
		d.config.Set(v.Key, v.Value)
	}
	d.after("config-set", d.responseDelay, func() {
		d.emit(scanner.Event{
			Type:   scanner.EventConfigValuesSet,
			Gen:    gen,
			Values: values,
		})
	})
	return nil
}

// ReadConfig implements scanner.Manager.
func (d *Device) ReadConfig(ctx context.Context) error {
	gen := scanner.GenerationFrom(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		d.fail(gen, "read config", "no scanner connected")
		return nil
	}
	values := d.configValuesLocked()
	d.after("config-read", d.responseDelay, func() {
		d.emit(scanner.Event{
			Type:   scanner.EventConfigValuesRead,
			Gen:    gen,
			Values: values,
		})
	})
	return nil
}

// RestoreDefaultConfig implements scanner.Manager.
func (d *Device) RestoreDefaultConfig(ctx context.Context) error {
	gen := scanner.GenerationFrom(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		d.fail(gen, "restore default config", "no scanner connected")
		return nil
	}
	d.config = defaultConfig()
	values := d.configValuesLocked()
	d.after("config-restore", d.responseDelay, func() {
		d.emit(scanner.Event{
			Type:   scanner.EventConfigValuesSet,
			Gen:    gen,
			Values: values,
		})
	})
	return nil
}

func (d *Device) configValuesLocked() []scanner.ConfigValue {
	values := make([]scanner.ConfigValue, 0, d.config.Len())
	for pair := d.config.Oldest(); pair != nil; pair = pair.Next() {
		values = append(values, scanner.ConfigValue{Key: pair.Key, Value: pair.Value})
	}
	return values
}

// FindMyDevice implements scanner.Manager. The simulated scanner has no
// speaker, so the beep lands in the log.
func (d *Device) FindMyDevice(ctx context.Context) error {
	gen := scanner.GenerationFrom(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		d.fail(gen, "find my device", "no scanner connected")
		return nil
	}
	d.after("find", d.responseDelay, func() {
		d.log.Info("simulated scanner beeping")
	})
	return nil
}

// UnlinkDevice implements scanner.Manager.
func (d *Device) UnlinkDevice(ctx context.Context) error {
	gen := scanner.GenerationFrom(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		d.fail(gen, "unlink device", "no scanner connected")
		return nil
	}
	d.connected = false
	d.stopScanLocked()
	d.after("unlink", d.responseDelay, func() {
		d.log.Info("simulated scanner unlinked")
		d.emit(scanner.Event{Type: scanner.EventUnlinked})
	})
	return nil
}

// AppMovedToForeground implements scanner.Manager. A live bond answers with
// a restored-connection event; an armed pairing attempt re-sends its image.
func (d *Device) AppMovedToForeground(ctx context.Context) error {
	gen := scanner.GenerationFrom(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.connected:
		d.after("foreground-restore", d.responseDelay, func() {
			d.emit(scanner.Event{Type: scanner.EventConnectionRestored})
		})
	case d.pairArmed:
		token := d.pairToken
		d.after("foreground-image", d.responseDelay, func() {
			d.emit(scanner.Event{
				Type:  scanner.EventPairingImage,
				Gen:   gen,
				Image: PairingImage(d.deviceName, token),
			})
		})
	}
	return nil
}

// DropLink simulates the radio link dropping. It is exported for fault
// injection; the driver also calls it for ParamDisconnectAfter.
func (d *Device) DropLink() {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return
	}
	d.connected = false
	d.stopScanLocked()
	d.mu.Unlock()

	d.log.Info("simulated link dropped")
	d.emit(scanner.Event{Type: scanner.EventDisconnected})
}

// RestoreLink simulates a dropped bond coming back, as when the scanner
// re-enters radio range.
func (d *Device) RestoreLink() {
	d.mu.Lock()
	if d.connected {
		d.mu.Unlock()
		return
	}
	d.connected = true
	d.mu.Unlock()

	d.log.Info("simulated link restored")
	d.emit(scanner.Event{Type: scanner.EventConnectionRestored})
}

// SetBondedElsewhere makes future pairing attempts fail with a bonding
// conflict naming the given device. An empty name clears the fault.
func (d *Device) SetBondedElsewhere(deviceName string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bondedElsewhere = deviceName
}

// Connected reports whether the simulated bond is up.
func (d *Device) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Close implements scanner.Manager. It stops all timers and loops, then
// closes the event channel.
func (d *Device) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.cancel()
	d.wg.Wait()

	d.emitMu.Lock()
	d.events.Close()
	d.emitMu.Unlock()

	d.log.Debug("simulated scanner closed")
	return nil
}
