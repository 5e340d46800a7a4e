package wedge

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readOutput reads from tty until want bytes arrived or the timeout fires.
// The reader goroutine exits when the tty errors out (EIO after the master
// closes, or the file being closed).
func readOutput(t *testing.T, tty *os.File, want int, timeout time.Duration) string {
	t.Helper()

	type chunk struct {
		data []byte
		err  error
	}
	ch := make(chan chunk, 16)
	go func() {
		buf := make([]byte, 512)
		for {
			n, err := tty.Read(buf)
			if n > 0 {
				ch <- chunk{data: append([]byte(nil), buf[:n]...)}
			}
			if err != nil {
				ch <- chunk{err: err}
				return
			}
		}
	}()

	var out []byte
	deadline := time.After(timeout)
	for len(out) < want {
		select {
		case c := <-ch:
			if c.err != nil {
				t.Fatalf("tty read failed with %v, got %q so far", c.err, out)
			}
			out = append(out, c.data...)
		case <-deadline:
			t.Fatalf("timed out waiting for %d bytes from the tty, got %q", want, out)
		}
	}
	return string(out)
}

// openTTY opens the slave side the way an external reader would.
func openTTY(t *testing.T, name string) *os.File {
	t.Helper()
	tty, err := os.OpenFile(name, os.O_RDONLY|syscall.O_NOCTTY, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tty.Close() })
	return tty
}

func TestOpenPortCreatesUsableTTY(t *testing.T) {
	// GOAL: Verify OpenPort exposes a real character device with default settings
	//
	// TEST SCENARIO: Open port with nil options → stat the tty path → verify device type and defaults
	port, err := OpenPort(nil)
	require.NoError(t, err)
	defer func() { _ = port.Close() }()

	fi, err := os.Stat(port.TTYName())
	require.NoError(t, err)
	assert.NotZero(t, fi.Mode()&os.ModeCharDevice, "tty path MUST be a character device")

	stats := port.Stats()
	assert.Equal(t, int32(DefaultQueueCap), stats.QueueCap)
	assert.Equal(t, uint64(0), stats.WrittenBytes)
	assert.Equal(t, uint64(0), stats.DroppedBytes)
}

func TestPortDeliversWrites(t *testing.T) {
	// GOAL: Verify queued bytes come out of the tty exactly as written
	//
	// TEST SCENARIO: Write a payload → read the slave side → verify bytes and counters match
	port, err := OpenPort(&PortOptions{QueueCap: 128})
	require.NoError(t, err)
	defer func() { _ = port.Close() }()

	tty := openTTY(t, port.TTYName())

	payload := []byte("4006381333931\n")
	n, err := port.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	got := readOutput(t, tty, len(payload), 2*time.Second)
	assert.Equal(t, string(payload), got)

	stats := port.Stats()
	assert.Equal(t, uint64(len(payload)), stats.WrittenBytes)
	assert.Equal(t, uint64(0), stats.DroppedBytes)
}

func TestPortQueueOverflowDropsBytes(t *testing.T) {
	// GOAL: Verify a write larger than the queue is truncated, not blocked on
	//
	// TEST SCENARIO: Write 64 bytes into a 16-byte queue → verify partial accept and drop accounting
	port, err := OpenPort(&PortOptions{QueueCap: 16})
	require.NoError(t, err)
	defer func() { _ = port.Close() }()

	data := make([]byte, 64)
	for i := range data {
		data[i] = byte('0' + i%10)
	}

	n, err := port.Write(data)
	require.NoError(t, err)
	assert.Less(t, n, len(data), "a 16-byte queue MUST NOT accept 64 bytes at once")

	stats := port.Stats()
	assert.Equal(t, uint64(len(data)-n), stats.DroppedBytes)
}

func TestPortWriteAfterClose(t *testing.T) {
	// GOAL: Verify writes are rejected after Close and Close stays idempotent
	//
	// TEST SCENARIO: Close the port → write → verify os.ErrClosed → close again → verify no error
	port, err := OpenPort(nil)
	require.NoError(t, err)
	require.NoError(t, port.Close())

	_, err = port.Write([]byte("x"))
	assert.ErrorIs(t, err, os.ErrClosed)

	assert.NoError(t, port.Close())
}

func TestPortEmptyWrite(t *testing.T) {
	// GOAL: Verify zero-length writes are a no-op
	//
	// TEST SCENARIO: Write empty slice → verify n=0, no error, no counter movement
	port, err := OpenPort(nil)
	require.NoError(t, err)
	defer func() { _ = port.Close() }()

	n, err := port.Write(nil)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, uint64(0), port.Stats().DroppedBytes)
}
