package sim

import (
	"fmt"
	"hash/fnv"
	"io"
	"strings"
)

// PairingImage renders a deterministic 16x16 bitmap in plain PBM (P1)
// format for the given device identity and pairing attempt. The same
// name/token pair always yields the same image, and any change to either
// yields a different one, which lets tests assert on exact bytes.
func PairingImage(deviceName string, token uint64) []byte {
	h := fnv.New64a()
	io.WriteString(h, deviceName)
	fmt.Fprintf(h, ":%d", token)
	state := h.Sum64()

	var sb strings.Builder
	sb.WriteString("P1\n16 16\n")
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			state = state*6364136223846793005 + 1442695040888963407
			if x > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteByte('0' + byte((state>>62)&1))
		}
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}
