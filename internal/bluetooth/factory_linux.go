//go:build linux

package bluetooth

import (
	"fmt"

	blelib "github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// newPlatformDevice opens the default HCI device.
func newPlatformDevice() (blelib.Device, error) {
	dev, err := linux.NewDevice()
	if err != nil {
		return nil, fmt.Errorf("failed to open HCI device (is bluetoothd holding it, or do you need CAP_NET_ADMIN?): %w", err)
	}
	return dev, nil
}
