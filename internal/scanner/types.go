package scanner

import (
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DeviceDetails identifies the connected scanner hardware.
type DeviceDetails struct {
	Model    string `json:"model"`
	Serial   string `json:"serial"`
	Firmware string `json:"firmware"`
}

func (d *DeviceDetails) String() string {
	if d == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s (serial %s, firmware %s)", d.Model, d.Serial, d.Firmware)
}

// BatteryData carries battery metrics keyed by name. Iteration preserves
// the order the scanner reported the metrics in, so UIs and logs show them
// the same way every time.
type BatteryData struct {
	values *orderedmap.OrderedMap[string, int]
}

// NewBatteryData creates an empty metric set.
func NewBatteryData() *BatteryData {
	return &BatteryData{values: orderedmap.New[string, int]()}
}

// Set stores a metric, appending it to the iteration order on first write.
func (b *BatteryData) Set(name string, value int) {
	b.values.Set(name, value)
}

// Get returns a metric by name.
func (b *BatteryData) Get(name string) (int, bool) {
	return b.values.Get(name)
}

// Len returns the number of metrics.
func (b *BatteryData) Len() int {
	if b == nil {
		return 0
	}
	return b.values.Len()
}

// Each calls fn for every metric in report order.
func (b *BatteryData) Each(fn func(name string, value int)) {
	if b == nil {
		return
	}
	for pair := b.values.Oldest(); pair != nil; pair = pair.Next() {
		fn(pair.Key, pair.Value)
	}
}

// Clone returns an independent copy preserving metric order.
func (b *BatteryData) Clone() *BatteryData {
	if b == nil {
		return nil
	}
	c := NewBatteryData()
	b.Each(func(name string, value int) {
		c.Set(name, value)
	})
	return c
}

func (b *BatteryData) String() string {
	if b == nil {
		return "<nil>"
	}
	var sb strings.Builder
	b.Each(func(name string, value int) {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%s=%d", name, value)
	})
	return sb.String()
}

// MarshalJSON renders the metrics as an object in report order.
func (b *BatteryData) MarshalJSON() ([]byte, error) {
	return b.values.MarshalJSON()
}

// Barcode is a single read reported by the scanner. ID increases
// monotonically per driver instance.
type Barcode struct {
	ID      uint64 `json:"id"`
	Payload string `json:"payload"`
}

// ConfigValue is one key/value pair of scanner configuration.
type ConfigValue struct {
	Key   string
	Value string
}

func (v ConfigValue) String() string {
	return v.Key + "=" + v.Value
}
