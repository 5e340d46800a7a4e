// Package scanner defines the driver contract between the companion session
// and a barcode scanner transport.
//
// A driver exposes fire-and-forget commands: every method dispatches the
// request and returns once it is accepted, never waiting for the scanner to
// answer. Results and spontaneous state changes arrive later on the Events
// channel. Drivers register themselves via Register, typically from an
// init function, so commands can select one by name:
//
//	import _ "github.com/srg/scanlink/internal/scanner/sim" // register sim driver
//
//	mgr, err := scanner.Open("sim", scanner.Options{Logger: log})
package scanner

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Manager is the driver side of a scanner session.
//
// All command methods are asynchronous: a nil return means the command was
// dispatched, not that it succeeded. Failures surface later as
// EventOperationFailed on Events. The context carries cancellation and the
// session generation (see WithGeneration); implementations stamp the
// generation onto the events a command produces.
type Manager interface {
	// StartPairing asks the scanner transport to begin a pairing exchange.
	// The driver answers with EventPairingImage and, once the scanner
	// scans the image and bonds, EventConnected.
	StartPairing(ctx context.Context) error

	// StopPairing abandons an in-progress pairing exchange. No event is
	// produced; the session simply stops waiting.
	StopPairing(ctx context.Context) error

	// GetDeviceDetails requests model, serial and firmware information.
	// Answered by EventDetailsUpdated.
	GetDeviceDetails(ctx context.Context) error

	// GetBatteryData requests battery metrics. Answered by
	// EventBatteryUpdated.
	GetBatteryData(ctx context.Context) error

	// StartReadingBarcode arms barcode delivery. Each read arrives as
	// EventBarcodeRead until StopReadingBarcode.
	StartReadingBarcode(ctx context.Context) error

	// StopReadingBarcode disarms barcode delivery.
	StopReadingBarcode(ctx context.Context) error

	// ApplyConfig writes a device configuration blob in the scanner's own
	// format. Accepted values are echoed back via EventConfigValuesSet.
	ApplyConfig(ctx context.Context, blob []byte) error

	// ReadConfig requests the current configuration. Answered by
	// EventConfigValuesRead.
	ReadConfig(ctx context.Context) error

	// RestoreDefaultConfig resets the scanner to factory configuration.
	// The restored values are echoed back via EventConfigValuesSet.
	RestoreDefaultConfig(ctx context.Context) error

	// FindMyDevice makes the scanner beep and flash so it can be located.
	FindMyDevice(ctx context.Context) error

	// UnlinkDevice removes the bond on the scanner side. Answered by
	// EventUnlinked.
	UnlinkDevice(ctx context.Context) error

	// AppMovedToForeground tells the driver the UI became visible again,
	// giving it a chance to re-validate the link. A still-bonded scanner
	// answers with EventConnectionRestored.
	AppMovedToForeground(ctx context.Context) error

	// Events returns the driver's notification stream. The driver closes
	// the channel when the manager shuts down.
	Events() <-chan Event

	// Close releases the transport and closes the event channel.
	Close() error
}

// Options configures a driver instance.
type Options struct {
	// Address selects a specific scanner when the transport knows more
	// than one. Empty means the driver's default.
	Address string

	// Params carries driver-specific settings as free-form key/values.
	Params map[string]string

	// Logger receives driver diagnostics. nil means logrus.StandardLogger.
	Logger *logrus.Logger
}

// Factory creates a Manager from options.
type Factory func(opts Options) (Manager, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Factory)
)

// Register makes a driver available under the given name. It panics if
// called twice with the same name or with a nil factory.
func Register(name string, factory Factory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if factory == nil {
		panic("scanner: Register factory is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("scanner: Register called twice for driver " + name)
	}
	drivers[name] = factory
}

// Drivers returns the names of the registered drivers, sorted.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open creates a Manager using the named driver.
func Open(name string, opts Options) (Manager, error) {
	driversMu.RLock()
	factory, ok := drivers[name]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("scanner: unknown driver %q (forgotten import? available: %v)", name, Drivers())
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return factory(opts)
}

type genKey struct{}

// WithGeneration returns a context stamped with the session generation.
// Drivers copy the generation onto data and command-result events so the
// session can discard answers that belong to a connection that no longer
// exists.
func WithGeneration(ctx context.Context, gen uint64) context.Context {
	return context.WithValue(ctx, genKey{}, gen)
}

// GenerationFrom extracts the session generation from ctx, or 0 when the
// context was never stamped.
func GenerationFrom(ctx context.Context) uint64 {
	if ctx == nil {
		return 0
	}
	if v, ok := ctx.Value(genKey{}).(uint64); ok {
		return v
	}
	return 0
}
