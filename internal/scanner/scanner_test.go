package scanner

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopManager struct{ Manager }

func TestRegisterAndOpen(t *testing.T) {
	// GOAL: Verify driver registration, lookup and the unknown-driver error path
	Register("test-nop", func(opts Options) (Manager, error) {
		return &nopManager{}, nil
	})

	assert.Contains(t, Drivers(), "test-nop")

	mgr, err := Open("test-nop", Options{})
	require.NoError(t, err)
	assert.NotNil(t, mgr)

	_, err = Open("no-such-driver", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
	assert.Contains(t, err.Error(), "no-such-driver")
}

func TestRegisterPanics(t *testing.T) {
	assert.Panics(t, func() { Register("test-nil", nil) }, "MUST reject nil factory")

	Register("test-dup", func(opts Options) (Manager, error) { return &nopManager{}, nil })
	assert.Panics(t, func() {
		Register("test-dup", func(opts Options) (Manager, error) { return &nopManager{}, nil })
	}, "MUST reject duplicate registration")
}

func TestOpenDefaultsLogger(t *testing.T) {
	var seen Options
	Register("test-logger", func(opts Options) (Manager, error) {
		seen = opts
		return &nopManager{}, nil
	})

	_, err := Open("test-logger", Options{})
	require.NoError(t, err)
	assert.NotNil(t, seen.Logger, "MUST fall back to the standard logger")
}

func TestGenerationContext(t *testing.T) {
	// GOAL: Verify generation stamping round-trips through a context chain
	ctx := context.Background()
	assert.Equal(t, uint64(0), GenerationFrom(ctx), "unstamped context MUST read as generation 0")
	assert.Equal(t, uint64(0), GenerationFrom(nil))

	ctx = WithGeneration(ctx, 7)
	ctx = context.WithValue(ctx, struct{ k string }{"other"}, "x")
	assert.Equal(t, uint64(7), GenerationFrom(ctx))

	ctx = WithGeneration(ctx, 8)
	assert.Equal(t, uint64(8), GenerationFrom(ctx), "inner stamp MUST shadow the outer one")
}

func TestTransportErrorIdentity(t *testing.T) {
	// GOAL: Verify errors.Is matches transport errors by code even through wrapping
	err := fmt.Errorf("pairing: %w", &TransportError{Code: BondedElsewhere, DeviceName: "Alice's phone"})

	assert.True(t, errors.Is(err, ErrBondedElsewhere))
	assert.False(t, errors.Is(err, ErrLinkLost))
	assert.True(t, IsBondingConflict(err))

	name, ok := BondingConflictName(err)
	require.True(t, ok)
	assert.Equal(t, "Alice's phone", name)

	name, ok = BondingConflictName(errors.New("plain"))
	assert.False(t, ok)
	assert.Empty(t, name)

	_, ok = BondingConflictName(ErrLinkLost)
	assert.False(t, ok, "other transport codes MUST NOT read as bonding conflicts")
}

func TestTransportErrorMessages(t *testing.T) {
	assert.Equal(t, "link_lost", ErrLinkLost.Error())
	assert.Equal(t, "connect_failed: radio off", (&TransportError{Code: ConnectFailed, Msg: "radio off"}).Error())
	assert.Equal(t, "get battery failed", (&OperationError{Op: "get battery"}).Error())
	assert.Equal(t, "apply config: malformed blob", (&OperationError{Op: "apply config", Msg: "malformed blob"}).Error())
}

func TestBatteryDataOrder(t *testing.T) {
	// GOAL: Verify battery metrics iterate in insertion order and Clone is independent
	b := NewBatteryData()
	b.Set("charge", 87)
	b.Set("health", 95)
	b.Set("cycles", 112)

	var order []string
	b.Each(func(name string, value int) { order = append(order, name) })
	assert.Equal(t, []string{"charge", "health", "cycles"}, order, "MUST preserve report order")
	assert.Equal(t, "charge=87 health=95 cycles=112", b.String())

	c := b.Clone()
	c.Set("charge", 12)
	v, ok := b.Get("charge")
	require.True(t, ok)
	assert.Equal(t, 87, v, "clone MUST NOT share storage with the original")

	var nilData *BatteryData
	assert.Nil(t, nilData.Clone())
	assert.Equal(t, 0, nilData.Len())
}

func TestEventTypeStrings(t *testing.T) {
	assert.Equal(t, "pairing-image", EventPairingImage.String())
	assert.Equal(t, "connection-restored", EventConnectionRestored.String())
	assert.Equal(t, "operation-failed", EventOperationFailed.String())
	assert.Equal(t, "event(99)", EventType(99).String())
}
