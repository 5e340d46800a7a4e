package bluetooth

import (
	"context"

	blelib "github.com/go-ble/ble"
)

// Advertisement is the slice of a BLE advertisement the discovery layer
// consumes.
type Advertisement interface {
	LocalName() string
	ManufacturerData() []byte
	Services() []string
	TxPowerLevel() int
	Connectable() bool
	RSSI() int
	Addr() string
}

// Transport performs the platform scan and delivers advertisements.
type Transport interface {
	// Scan blocks until ctx is done. allowDup controls whether repeat
	// advertisements from the same device are delivered.
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
}

// TransportFactory creates the platform Transport (overridden in tests).
var TransportFactory = func() (Transport, error) {
	dev, err := newPlatformDevice()
	if err != nil {
		return nil, err
	}
	return &bleTransport{dev: dev}, nil
}

// bleTransport adapts blelib.Device to the Transport interface.
type bleTransport struct {
	dev blelib.Device
}

func (t *bleTransport) Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error {
	bleHandler := func(adv blelib.Advertisement) {
		handler(&bleAdvertisement{adv: adv})
	}
	return t.dev.Scan(ctx, allowDup, bleHandler)
}

// bleAdvertisement adapts blelib.Advertisement to the Advertisement
// interface.
type bleAdvertisement struct {
	adv blelib.Advertisement
}

func (a *bleAdvertisement) LocalName() string        { return a.adv.LocalName() }
func (a *bleAdvertisement) ManufacturerData() []byte { return a.adv.ManufacturerData() }
func (a *bleAdvertisement) TxPowerLevel() int        { return int(a.adv.TxPowerLevel()) }
func (a *bleAdvertisement) Connectable() bool        { return a.adv.Connectable() }
func (a *bleAdvertisement) RSSI() int                { return a.adv.RSSI() }
func (a *bleAdvertisement) Addr() string             { return a.adv.Addr().String() }

func (a *bleAdvertisement) Services() []string {
	bleServices := a.adv.Services()
	result := make([]string, len(bleServices))
	for i, svc := range bleServices {
		result[i] = svc.String()
	}
	return result
}
