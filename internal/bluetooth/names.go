package bluetooth

import "strings"

// sigBaseSuffix is the tail of the Bluetooth SIG base UUID
// (0000xxxx-0000-1000-8000-00805f9b34fb) after normalization. Short
// 16-bit UUIDs embedded in the base collapse to their 4-hex form.
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID canonicalizes a UUID for comparison and display:
// lowercase, no dashes, no braces, no 0x prefix. A 128-bit UUID built
// on the SIG base collapses to its 16-bit short form, so the platform
// reporting "0000180F-0000-1000-8000-00805F9B34FB" and a scanner
// advertising "180f" compare equal.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.Trim(s, "{}")
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")

	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigBaseSuffix) {
		return s[4:8]
	}
	return s
}

// NormalizeUUIDs normalizes a slice of UUID strings.
func NormalizeUUIDs(uuids []string) []string {
	normalized := make([]string, len(uuids))
	for i, uuid := range uuids {
		normalized[i] = NormalizeUUID(uuid)
	}
	return normalized
}

// serviceNames maps normalized service UUIDs to their registered names.
// Curated to what shows up around barcode scanners: the SIG services a
// HID-mode scanner advertises plus the Nordic UART service used by
// serial-mode firmware.
var serviceNames = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"1802": "Immediate Alert",
	"1803": "Link Loss",
	"1804": "Tx Power",
	"180a": "Device Information",
	"180f": "Battery Service",
	"1812": "Human Interface Device",
	"1813": "Scan Parameters",
	"181e": "Bond Management Service",
	"6e400001b5a3f393e0a9e50e24dcca9e": "Nordic UART Service",
}

// ServiceName returns the registered name for a service UUID, or ""
// when the UUID is not a known service.
func ServiceName(uuid string) string {
	return serviceNames[NormalizeUUID(uuid)]
}

// ServiceLabel renders a service UUID for humans: the registered name
// when known, the normalized UUID otherwise.
func ServiceLabel(uuid string) string {
	if name := ServiceName(uuid); name != "" {
		return name
	}
	return NormalizeUUID(uuid)
}
