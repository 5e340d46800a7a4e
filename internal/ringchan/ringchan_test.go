package ringchan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendOverwritesOldest(t *testing.T) {
	// GOAL: Verify Send never blocks and discards the oldest element when full
	//
	// TEST SCENARIO: Send 10 values into capacity-3 ring → drain → verify only last 3 remain
	rc := New[int](3)

	for i := 0; i < 10; i++ {
		rc.Send(i)
	}

	var got []int
	for {
		v, ok := rc.TryReceive()
		if !ok {
			break
		}
		got = append(got, v)
	}

	assert.Equal(t, []int{7, 8, 9}, got, "MUST keep only the newest capacity elements")

	m := rc.GetMetrics()
	assert.Equal(t, int64(10), m.Written)
	assert.Equal(t, int64(7), m.Overwritten)
	assert.Equal(t, int64(3), m.Processed)
}

func TestTrySend(t *testing.T) {
	// GOAL: Verify TrySend reports failure instead of dropping when the ring is full
	rc := New[string](2)

	require.True(t, rc.TrySend("a"))
	require.True(t, rc.TrySend("b"))
	assert.False(t, rc.TrySend("c"), "MUST fail when buffer is full")
	assert.Equal(t, 2, rc.Len())

	m := rc.GetMetrics()
	assert.Equal(t, int64(2), m.Written)
	assert.Equal(t, int64(0), m.Overwritten)
}

func TestForceSendReportsDrop(t *testing.T) {
	rc := New[int](1)

	assert.False(t, rc.ForceSend(1), "no drop while buffer has room")
	assert.True(t, rc.ForceSend(2), "MUST report the dropped element")

	v, ok := rc.TryReceive()
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestReceiveBlocksUntilSend(t *testing.T) {
	rc := New[int](1)

	var wg sync.WaitGroup
	wg.Add(1)
	var got int
	var ok bool
	go func() {
		defer wg.Done()
		got, ok = rc.Receive()
	}()

	rc.Send(42)
	wg.Wait()

	require.True(t, ok)
	assert.Equal(t, 42, got)
	assert.Equal(t, int64(1), rc.GetMetrics().Processed)
}

func TestCloseDrainsRemaining(t *testing.T) {
	// GOAL: Verify consumers can range over C() and drain buffered values after Close
	rc := New[int](4)
	rc.Send(1)
	rc.Send(2)
	rc.Close()

	var got []int
	for v := range rc.C() {
		got = append(got, v)
	}
	assert.Equal(t, []int{1, 2}, got)

	_, ok := rc.Receive()
	assert.False(t, ok, "MUST report closed channel")
}

func TestCapacityValidation(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
	assert.Panics(t, func() { New[int](-1) })

	rc := New[int](5)
	assert.Equal(t, 5, rc.Cap())
	assert.Equal(t, 0, rc.Len())
}
