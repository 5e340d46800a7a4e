// Package session owns the companion-side state of a scanner link: the
// connection phase, cached device data, the human-readable event log, the
// barcode history and the pairing countdown. A single Controller serializes
// driver events into state transitions and fans changes out to observers.
package session

import (
	"encoding/json"
	"fmt"

	"github.com/srg/scanlink/internal/scanner"
)

// Phase is the connection phase of a scanner session.
type Phase int

const (
	// PhaseIdle means no link exists and none is being established.
	PhaseIdle Phase = iota
	// PhasePairing means a pairing image is (or is about to be) on screen.
	PhasePairing
	// PhaseConnected means the scanner is bonded and reachable.
	PhaseConnected
	// PhaseDisconnected means a previously bonded link dropped.
	PhaseDisconnected
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePairing:
		return "pairing"
	case PhaseConnected:
		return "connected"
	case PhaseDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MarshalJSON renders the phase as its name.
func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// Snapshot is an immutable copy of the session state at one point in time.
// All reference fields are deep copies, so holding a snapshot is always
// safe.
//
// PairingImage is only ever set while Phase is PhasePairing. Unlinked
// distinguishes a deliberate unlink from a dropped link while the phase is
// PhaseDisconnected.
type Snapshot struct {
	Phase    Phase `json:"phase"`
	Unlinked bool  `json:"unlinked,omitempty"`

	Details     *scanner.DeviceDetails `json:"details,omitempty"`
	Battery     *scanner.BatteryData   `json:"battery,omitempty"`
	LastBarcode *scanner.Barcode       `json:"last_barcode,omitempty"`

	PairingImage []byte `json:"pairing_image,omitempty"`

	// Restored is set when an existing bond came back without a new
	// pairing exchange, cleared on the next disconnect or pairing.
	Restored bool `json:"restored,omitempty"`

	// DisconnectAlert asks the UI to surface an unexpected disconnect.
	// It stays set until AcknowledgeDisconnect.
	DisconnectAlert bool `json:"disconnect_alert,omitempty"`

	// UnlinkAlert asks the UI to surface that the bond went away, either
	// because the scanner was unlinked or because it is bonded to the
	// device named in UnlinkDeviceName. It stays set until
	// AcknowledgeUnlink.
	UnlinkAlert      bool   `json:"unlink_alert,omitempty"`
	UnlinkDeviceName string `json:"unlink_device_name,omitempty"`

	// DataStale marks cached details, battery and barcode data as
	// belonging to a connection that no longer exists.
	DataStale bool `json:"data_stale,omitempty"`
}

// clone deep-copies the snapshot.
func (s Snapshot) clone() Snapshot {
	c := s
	if s.PairingImage != nil {
		c.PairingImage = append([]byte(nil), s.PairingImage...)
	}
	if s.Details != nil {
		details := *s.Details
		c.Details = &details
	}
	c.Battery = s.Battery.Clone()
	if s.LastBarcode != nil {
		barcode := *s.LastBarcode
		c.LastBarcode = &barcode
	}
	return c
}
