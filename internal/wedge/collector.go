package wedge

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// ScanRecord is one barcode payload as it went out the PTY.
type ScanRecord struct {
	Payload string    `json:"payload"`
	At      time.Time `json:"at"`
}

// CollectorMetrics provides lock-free counters for a Collector. All fields
// use atomic operations for thread-safe access.
type CollectorMetrics struct {
	RecordsProcessed   int64 // records moved into the history ring
	ErrorsOccurred     int64 // unexpected ring failures
	RecordsOverwritten int64 // records lost to ring overflow
}

// IncrementRecordsProcessed atomically increments the processed counter
func (m *CollectorMetrics) IncrementRecordsProcessed() {
	atomic.AddInt64(&m.RecordsProcessed, 1)
}

// IncrementErrorsOccurred atomically increments the error counter
func (m *CollectorMetrics) IncrementErrorsOccurred() {
	atomic.AddInt64(&m.ErrorsOccurred, 1)
}

// IncrementRecordsOverwritten atomically adds to the overwritten counter
func (m *CollectorMetrics) IncrementRecordsOverwritten(count uint32) {
	atomic.AddInt64(&m.RecordsOverwritten, int64(count))
}

// GetRecordsProcessed atomically reads the processed counter
func (m *CollectorMetrics) GetRecordsProcessed() int64 {
	return atomic.LoadInt64(&m.RecordsProcessed)
}

// GetErrorsOccurred atomically reads the error counter
func (m *CollectorMetrics) GetErrorsOccurred() int64 {
	return atomic.LoadInt64(&m.ErrorsOccurred)
}

// GetRecordsOverwritten atomically reads the overwritten counter
func (m *CollectorMetrics) GetRecordsOverwritten() int64 {
	return atomic.LoadInt64(&m.RecordsOverwritten)
}

// Reset resets all counters to zero
func (m *CollectorMetrics) Reset() {
	atomic.StoreInt64(&m.RecordsProcessed, 0)
	atomic.StoreInt64(&m.ErrorsOccurred, 0)
	atomic.StoreInt64(&m.RecordsOverwritten, 0)
}

const (
	// CollectorState lifecycle constants.
	CollectorStateNotRunning uint32 = iota // not running, ready to start
	CollectorStateRunning                  // consuming the feed
	CollectorStateStopping                 // in the process of stopping

	// MaxBufferSize guards against accidental misconfiguration.
	MaxBufferSize uint32 = 1024 * 1024
)

// Collector gathers wedged scan records from a channel into an overlapped
// ring buffer so the history can be drained on demand, with metrics for
// what overflowed along the way.
//
// All methods are thread-safe.
type Collector struct {
	feed    <-chan ScanRecord
	buffer  mpmc.RichOverlappedRingBuffer[ScanRecord]
	stop    chan struct{}
	done    chan struct{} // signals when the goroutine has stopped
	onError func(error)   // error handler, defaults to panic if nil
	metrics CollectorMetrics
	state   uint32 // atomic state using CollectorState constants
}

// NewCollector creates a collector over the given scan feed.
// bufferSize sets the history ring size.
// onError is called on unexpected ring failures; if nil, it panics.
func NewCollector(ch <-chan ScanRecord, bufferSize uint32, onError func(error)) (*Collector, error) {
	if ch == nil {
		return nil, fmt.Errorf("scan feed channel cannot be nil")
	}
	if bufferSize == 0 {
		return nil, fmt.Errorf("buffer size must be > 0")
	}
	if bufferSize > MaxBufferSize {
		return nil, fmt.Errorf("buffer size %d exceeds maximum %d", bufferSize, MaxBufferSize)
	}

	if onError == nil {
		onError = func(err error) {
			panic(fmt.Sprintf("wedge.Collector: %v", err))
		}
	}

	return &Collector{
		feed:    ch,
		buffer:  mpmc.NewOverlappedRingBuffer[ScanRecord](bufferSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		onError: onError,
		state:   CollectorStateNotRunning,
	}, nil
}

// Start begins collecting scan records. Blocks until the collector
// goroutine is running or times out.
func (c *Collector) Start() error {
	if !atomic.CompareAndSwapUint32(&c.state, CollectorStateNotRunning, CollectorStateRunning) {
		switch atomic.LoadUint32(&c.state) {
		case CollectorStateRunning:
			return fmt.Errorf("collector is already running")
		case CollectorStateStopping:
			return fmt.Errorf("collector is stopping, wait for it to finish")
		default:
			return fmt.Errorf("collector is in unknown state %d", atomic.LoadUint32(&c.state))
		}
	}

	// Fresh channels per start cycle prevent close-of-closed panics
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	started := make(chan struct{}, 1)

	go func() {
		started <- struct{}{}

		defer func() {
			close(c.done)
			atomic.StoreUint32(&c.state, CollectorStateNotRunning)
		}()
		for {
			select {
			case <-c.stop:
				// Records already buffered on the feed are moved into the
				// ring before exit so a drain after Stop sees every scan
				// that went out the PTY.
				c.drainFeed()
				return
			case rec, ok := <-c.feed:
				if !ok {
					return
				}
				if !c.enqueue(rec) {
					return
				}
			}
		}
	}()

	select {
	case <-started:
		return nil
	case <-time.After(1 * time.Second):
		close(c.stop)
		<-c.done
		return fmt.Errorf("collector failed to start within 1s timeout")
	}
}

// enqueue moves one record into the history ring. The ring handles
// overflow by dropping the oldest record. Returns false on an unexpected
// ring failure, which terminates the collector.
func (c *Collector) enqueue(rec ScanRecord) bool {
	overwrites, err := c.buffer.EnqueueM(rec)
	if err != nil {
		c.metrics.IncrementErrorsOccurred()
		c.onError(fmt.Errorf("unexpected buffer.Enqueue error: %w", err))
		return false
	}
	c.metrics.IncrementRecordsOverwritten(overwrites)
	c.metrics.IncrementRecordsProcessed()
	return true
}

// drainFeed non-blockingly moves whatever is already buffered on the feed
// into the ring.
func (c *Collector) drainFeed() {
	for {
		select {
		case rec, ok := <-c.feed:
			if !ok {
				return
			}
			if !c.enqueue(rec) {
				return
			}
		default:
			return
		}
	}
}

// Stop stops collection. Records already in the history ring stay
// drainable afterwards.
func (c *Collector) Stop() error {
	if !atomic.CompareAndSwapUint32(&c.state, CollectorStateRunning, CollectorStateStopping) {
		switch atomic.LoadUint32(&c.state) {
		case CollectorStateNotRunning:
			return nil // already stopped
		case CollectorStateStopping:
			// already stopping, fall through and wait
		default:
			return fmt.Errorf("collector is in unknown state %d", atomic.LoadUint32(&c.state))
		}
	} else {
		close(c.stop)
	}

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		<-c.done // block until the goroutine actually exits
		return fmt.Errorf("stop completed but exceeded 5s timeout (possible slow shutdown)")
	}
}

// GetMetrics returns a copy of the current metrics
func (c *Collector) GetMetrics() CollectorMetrics {
	return CollectorMetrics{
		RecordsProcessed:   c.metrics.GetRecordsProcessed(),
		ErrorsOccurred:     c.metrics.GetErrorsOccurred(),
		RecordsOverwritten: c.metrics.GetRecordsOverwritten(),
	}
}

// ResetMetrics atomically resets all metric counters
func (c *Collector) ResetMetrics() {
	c.metrics.Reset()
}

// GetState returns the current state of the collector
func (c *Collector) GetState() uint32 {
	return atomic.LoadUint32(&c.state)
}

// Drain empties the history ring and returns the records oldest first.
func (c *Collector) Drain() ([]ScanRecord, error) {
	var records []ScanRecord
	for !c.buffer.IsEmpty() {
		rec, err := c.buffer.Dequeue()
		if err != nil {
			return records, fmt.Errorf("buffer dequeue error: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}
