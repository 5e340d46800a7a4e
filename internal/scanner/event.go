package scanner

import "fmt"

// EventType identifies what a scanner Event carries.
type EventType int

const (
	// EventPairingImage delivers a freshly rendered pairing barcode.
	EventPairingImage EventType = iota + 1
	// EventConnected signals the scanner completed pairing and bonded.
	EventConnected
	// EventConnectionRestored signals an existing bond came back without
	// a new pairing exchange.
	EventConnectionRestored
	// EventDisconnected signals the link to the scanner dropped.
	EventDisconnected
	// EventUnlinked signals the bond was removed on the scanner side.
	EventUnlinked
	// EventBatteryUpdated delivers fresh battery metrics.
	EventBatteryUpdated
	// EventDetailsUpdated delivers fresh device details.
	EventDetailsUpdated
	// EventBarcodeRead delivers a barcode the scanner read.
	EventBarcodeRead
	// EventConfigValuesSet confirms configuration values were written.
	EventConfigValuesSet
	// EventConfigValuesRead delivers the current configuration values.
	EventConfigValuesRead
	// EventOperationFailed reports a command the scanner could not complete.
	EventOperationFailed
)

func (t EventType) String() string {
	switch t {
	case EventPairingImage:
		return "pairing-image"
	case EventConnected:
		return "connected"
	case EventConnectionRestored:
		return "connection-restored"
	case EventDisconnected:
		return "disconnected"
	case EventUnlinked:
		return "unlinked"
	case EventBatteryUpdated:
		return "battery-updated"
	case EventDetailsUpdated:
		return "details-updated"
	case EventBarcodeRead:
		return "barcode-read"
	case EventConfigValuesSet:
		return "config-values-set"
	case EventConfigValuesRead:
		return "config-values-read"
	case EventOperationFailed:
		return "operation-failed"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is a single notification from a scanner driver. Only the fields
// relevant to Type are set; the rest stay zero.
//
// Gen carries the session generation the event was produced for. Lifecycle
// events (pairing image, connected, restored, disconnected, unlinked) carry
// Gen 0 and are never discarded as stale; data and command-result events
// echo the generation from the context the command was dispatched with, so
// late responses from a dead connection can be dropped.
type Event struct {
	Type EventType
	Gen  uint64

	Image   []byte         // EventPairingImage
	Details *DeviceDetails // EventDetailsUpdated
	Battery *BatteryData   // EventBatteryUpdated
	Barcode *Barcode       // EventBarcodeRead
	Values  []ConfigValue  // EventConfigValuesSet, EventConfigValuesRead
	Err     error          // EventOperationFailed
}
