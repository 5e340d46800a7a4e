package bluetooth

import (
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
)

// DeviceInfo is a point-in-time snapshot of a discovered device.
type DeviceInfo struct {
	Address          string    `json:"address"`
	Name             string    `json:"name"`
	RSSI             int       `json:"rssi"`
	TxPower          *int      `json:"tx_power,omitempty"`
	Connectable      bool      `json:"connectable"`
	Services         []string  `json:"services,omitempty"`
	ManufacturerData []byte    `json:"manufacturer_data,omitempty"`
	LastSeen         time.Time `json:"last_seen"`
}

// found tracks one device across repeat advertisements.
type found struct {
	mu sync.RWMutex

	address     string
	name        string
	rssi        int
	txPower     *int
	connectable bool
	services    []string
	manufData   []byte
	lastSeen    time.Time
}

func newFound(adv Advertisement) *found {
	f := &found{
		address: adv.Addr(),
	}
	f.update(adv)
	return f
}

// update merges a fresh advertisement into the tracked device.
func (f *found) update(adv Advertisement) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rssi = adv.RSSI()
	f.connectable = adv.Connectable()
	f.lastSeen = time.Now()

	// Prefer the advertised local name; fall back to a name embedded in
	// manufacturer data (common for barcode scanners that only beacon
	// vendor frames).
	if name := adv.LocalName(); name != "" {
		f.name = name
	} else if f.name == "" {
		if extracted := extractNameFromManufacturerData(adv.ManufacturerData()); extracted != "" {
			f.name = extracted
		}
	}

	if data := adv.ManufacturerData(); len(data) > 0 {
		f.manufData = data
	}

	// Merge advertised services (dedup, normalized)
	needsSort := false
	for _, svc := range adv.Services() {
		normalized := NormalizeUUID(svc)
		if !f.hasService(normalized) {
			f.services = append(f.services, normalized)
			needsSort = true
		}
	}
	if needsSort {
		sort.Strings(f.services)
	}

	if adv.TxPowerLevel() != 127 { // 127 means TX power not available
		tx := adv.TxPowerLevel()
		f.txPower = &tx
	}
}

func (f *found) hasService(uuid string) bool {
	for _, s := range f.services {
		if s == uuid {
			return true
		}
	}
	return false
}

// snapshot returns an immutable copy for callers.
func (f *found) snapshot() DeviceInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()

	name := f.name
	if name == "" {
		name = f.address
	}

	info := DeviceInfo{
		Address:     f.address,
		Name:        name,
		RSSI:        f.rssi,
		Connectable: f.connectable,
		LastSeen:    f.lastSeen,
	}
	if f.txPower != nil {
		tx := *f.txPower
		info.TxPower = &tx
	}
	if len(f.services) > 0 {
		info.Services = append([]string(nil), f.services...)
	}
	if len(f.manufData) > 0 {
		info.ManufacturerData = append([]byte(nil), f.manufData...)
	}
	return info
}

// extractNameFromManufacturerData looks for a readable ASCII run inside
// vendor frames. Many scanners embed their model name there instead of
// advertising a local name.
func extractNameFromManufacturerData(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	for i := 0; i < len(data)-3; i++ {
		if !isReadableASCII(data[i]) {
			continue
		}
		var nameBytes []byte
		for j := i; j < len(data) && j < i+32; j++ { // Limit to 32 chars
			if !isReadableASCII(data[j]) {
				break
			}
			nameBytes = append(nameBytes, data[j])
		}
		if len(nameBytes) >= 3 {
			name := strings.TrimSpace(string(nameBytes))
			if isValidDeviceName(name) {
				return name
			}
		}
	}

	return ""
}

// isReadableASCII checks if a byte represents a readable ASCII character
func isReadableASCII(b byte) bool {
	return b >= 32 && b <= 126 && unicode.IsPrint(rune(b))
}

// isValidDeviceName checks if a string looks like a valid device name
func isValidDeviceName(name string) bool {
	if len(name) < 3 || len(name) > 32 {
		return false
	}

	for _, r := range name {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
