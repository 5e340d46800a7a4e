package bluetooth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestNormalizeUUID verifies that NormalizeUUID correctly handles various UUID formats
func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "16-bit short form",
			input:    "180f",
			expected: "180f",
		},
		{
			name:     "16-bit uppercase",
			input:    "180F",
			expected: "180f",
		},
		{
			name:     "16-bit with 0x prefix",
			input:    "0x180F",
			expected: "180f",
		},
		{
			name:     "Full Bluetooth SIG UUID with dashes",
			input:    "0000180f-0000-1000-8000-00805f9b34fb",
			expected: "180f",
		},
		{
			name:     "Full Bluetooth SIG UUID without dashes",
			input:    "0000180f00001000800000805f9b34fb",
			expected: "180f",
		},
		{
			name:     "Custom 128-bit UUID (not SIG base)",
			input:    "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
			expected: "6e400001b5a3f393e0a9e50e24dcca9e",
		},
		{
			name:     "UUID with braces",
			input:    "{0000180f-0000-1000-8000-00805f9b34fb}",
			expected: "180f",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizeUUID(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

// TestServiceName verifies that ServiceName resolves both short and full UUIDs
func TestServiceName(t *testing.T) {
	tests := []struct {
		name     string
		uuid     string
		expected string
	}{
		{
			name:     "Battery Service - short form",
			uuid:     "180f",
			expected: "Battery Service",
		},
		{
			name:     "Battery Service - full UUID",
			uuid:     "0000180f-0000-1000-8000-00805f9b34fb",
			expected: "Battery Service",
		},
		{
			name:     "Human Interface Device - uppercase",
			uuid:     "1812",
			expected: "Human Interface Device",
		},
		{
			name:     "Nordic UART Service - 128-bit vendor UUID",
			uuid:     "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
			expected: "Nordic UART Service",
		},
		{
			name:     "Unknown UUID",
			uuid:     "ffff",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ServiceName(tt.uuid)
			assert.Equal(t, tt.expected, result)
		})
	}
}

// TestServiceLabel verifies the display fallback for unknown services
func TestServiceLabel(t *testing.T) {
	assert.Equal(t, "Battery Service", ServiceLabel("0000180F-0000-1000-8000-00805F9B34FB"))
	assert.Equal(t, "feed", ServiceLabel("0xFEED"), "unknown services MUST fall back to the normalized UUID")
}
