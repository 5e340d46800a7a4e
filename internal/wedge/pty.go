// Package wedge bridges scanned barcodes onto a pseudo-terminal so
// serial-reading point-of-sale software sees them as keyboard-wedge input.
// The PTY side is write-only: payloads are queued into a ring buffer and a
// background loop transmits them to the master, dropping the oldest bytes
// under sustained backpressure instead of ever blocking the session.
package wedge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/srg/scanlink/internal/groutine"
)

// ErrorCallback is invoked when the write loop dies on a critical error.
// It is called from a background goroutine, so implementations must be
// thread-safe. The port is degraded afterwards - Close() should be called.
type ErrorCallback func(err error)

// PortOptions configures PTY creation. Zero values use defaults.
type PortOptions struct {
	QueueCap      int            // ring buffer capacity for queued bytes (0 = DefaultQueueCap)
	Logger        *logrus.Logger // optional logger (nil = no-op logger)
	OnError       ErrorCallback  // optional callback for critical loop failures
	PollTimeoutMs int            // poll timeout in milliseconds (0 = DefaultPollTimeoutMs)
}

// Port is the write side of the wedge pseudo-terminal.
type Port interface {
	io.WriteCloser
	Stats() PortStats // runtime metrics
	TTYName() string  // path of the tty device external programs open
}

// PortStats provides runtime counters useful for monitoring/backpressure.
type PortStats struct {
	QueueLen int32 // approximate
	QueueCap int32

	DroppedBytes uint64 // bytes dropped due to queue overflow
	WrittenBytes uint64 // bytes actually transmitted to the PTY
}

const (
	// DefaultPollTimeoutMs is the default poll timeout for the write loop.
	// It bounds shutdown latency: the loop checks for cancellation at least
	// this often when idle.
	DefaultPollTimeoutMs = 50

	// DefaultQueueCap is the default write queue capacity in bytes. Enough
	// for hundreds of barcode payloads between POS reads.
	DefaultQueueCap = 4096
)

// noopLogger discards all output; shared so ports without a logger don't
// allocate one each.
var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// ringPort implements Port over a PTY master/slave pair with a ring-buffered
// background writer.
type ringPort struct {
	logger        *logrus.Logger
	tty           *os.File // slave, kept open for the port lifetime
	pty           *os.File // master
	onError       ErrorCallback
	errorOnce     sync.Once // the error callback fires at most once
	pollTimeoutMs int

	writeBuf *ringbuffer.RingBuffer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed uint32 // atomic boolean

	droppedBytes uint64
	writtenBytes uint64

	ttyName string
}

// OpenPort creates a PTY pair, puts the slave in raw mode and starts the
// background writer. The returned port's TTYName is what external programs
// open to read wedged scans.
func OpenPort(opts *PortOptions) (Port, error) {
	if opts == nil {
		opts = &PortOptions{}
	}

	master, slave, err := createPTY()
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger
	}

	queueCap := opts.QueueCap
	if queueCap <= 0 {
		queueCap = DefaultQueueCap
	}

	pollTimeout := opts.PollTimeoutMs
	if pollTimeout == 0 {
		pollTimeout = DefaultPollTimeoutMs
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &ringPort{
		logger:        logger,
		pty:           master,
		tty:           slave, // keep slave open so the device node stays alive
		ttyName:       slave.Name(),
		writeBuf:      ringbuffer.New(queueCap),
		ctx:           ctx,
		cancel:        cancel,
		onError:       opts.OnError,
		pollTimeoutMs: pollTimeout,
	}

	p.wg.Add(1)
	groutine.Go(ctx, "wedge-write-loop", func(ctx context.Context) {
		p.writeLoop()
	})

	return p, nil
}

func (p *ringPort) writeLoop() {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf("writeLoop panicked (recovered): %v", r)
		}
		p.wg.Done()
	}()

	// Capture the *os.File reference: Close() nils p.pty only after this
	// goroutine has exited, but the local keeps the invariant obvious.
	master := p.pty
	fd := int(master.Fd())
	pollFd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	buf := make([]byte, 4096)

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		if p.writeBuf.IsEmpty() {
			// No data, wait for the poll timeout so cancellation is seen
			nReady, err := unix.Poll(pollFd, p.pollTimeoutMs)
			if err != nil && !errors.Is(err, syscall.EINTR) {
				p.logger.Warnf("writeLoop poll error: %v", err)
			}
			if nReady == 0 {
				continue
			}
		}

		n, err := p.writeBuf.TryRead(buf)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			p.logger.Warnf("writeLoop TryRead error: %v", err)
			continue
		}
		if n == 0 {
			continue
		}

		offset := 0
		for offset < n {
			written, err := master.Write(buf[offset:n])
			if written > 0 {
				offset += written
				atomic.AddUint64(&p.writtenBytes, uint64(written))
			}

			if err != nil {
				switch {
				case errors.Is(err, syscall.EINTR):
					continue
				case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EWOULDBLOCK):
					// Wait until writable again
					if _, pollErr := unix.Poll(pollFd, p.pollTimeoutMs); pollErr != nil && !errors.Is(pollErr, syscall.EINTR) {
						p.logger.Warnf("writeLoop poll error: %v", pollErr)
					}
					continue
				case errors.Is(err, syscall.EBADF):
					// FD closed, expected during Close()
					p.logger.Debug("writeLoop exiting: master FD closed")
					return
				default:
					p.logger.Warnf("writeLoop exiting on error: %v", err)
					if p.onError != nil {
						p.errorOnce.Do(func() {
							p.onError(fmt.Errorf("writeLoop critical error: %w", err))
						})
					}
					return
				}
			}
		}
	}
}

// Write queues data for async transmission to the PTY. Non-blocking: when
// the queue is full the oldest queued bytes are dropped and only part of
// data is accepted. Callers should compare the returned count against
// len(data) to detect overflow; Stats().DroppedBytes aggregates it.
func (p *ringPort) Write(data []byte) (int, error) {
	if atomic.LoadUint32(&p.closed) == 1 {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}

	written, err := p.writeBuf.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		p.logger.Warnf("Write error: %v", err)
		return 0, err
	}

	if written < len(data) {
		dropped := len(data) - written
		atomic.AddUint64(&p.droppedBytes, uint64(dropped))
		p.logger.Warnf("Write queue overflow: dropped %d bytes (tried to queue %d, queued %d)",
			dropped, len(data), written)
	}

	return written, nil
}

// Close shuts down the writer goroutine and closes both PTY FDs.
func (p *ringPort) Close() error {
	if !atomic.CompareAndSwapUint32(&p.closed, 0, 1) {
		return nil
	}

	p.cancel()

	// Close FDs so a blocked write unblocks with EBADF. os.File.Close
	// always releases the FD even when it reports an error.
	if p.pty != nil {
		if err := p.pty.Close(); err != nil {
			p.logger.Warnf("failed to close PTY master: %v", err)
		}
	}
	if p.tty != nil {
		if err := p.tty.Close(); err != nil {
			p.logger.Warnf("failed to close PTY slave: %v", err)
		}
	}

	done := make(chan struct{})
	groutine.Go(context.Background(), "wedge-port-wait-close", func(ctx context.Context) {
		p.wg.Wait()
		close(done)
	})

	timeout := time.Duration(p.pollTimeoutMs)*time.Millisecond + 5*time.Second
	select {
	case <-done:
	case <-time.After(timeout):
		// The loop will still self-terminate within one poll timeout; log
		// and move on rather than blocking the caller forever.
		p.logger.Errorf("Close() timed out after %v waiting for the write loop, tty=%s", timeout, p.ttyName)
	}

	p.pty = nil
	p.tty = nil
	return nil
}

// Stats returns instantaneous counters for monitoring.
func (p *ringPort) Stats() PortStats {
	return PortStats{
		QueueLen:     int32(p.writeBuf.Length()),
		QueueCap:     int32(p.writeBuf.Capacity()),
		DroppedBytes: atomic.LoadUint64(&p.droppedBytes),
		WrittenBytes: atomic.LoadUint64(&p.writtenBytes),
	}
}

// TTYName returns the filesystem path of the slave device.
func (p *ringPort) TTYName() string {
	return p.ttyName
}

// createPTY opens a pseudo-terminal pair configured for wedge output: slave
// in raw mode so the kernel never echoes payload bytes back, master
// non-blocking so the write loop can poll.
func createPTY() (master *os.File, slave *os.File, err error) {
	master, slave, err = pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		closePair(master, slave)
		return nil, nil, fmt.Errorf("failed to set PTY slave %s to raw mode: %w", slave.Name(), err)
	}

	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		closePair(master, slave)
		return nil, nil, fmt.Errorf("failed to set PTY master to nonblocking mode: %w", err)
	}

	return master, slave, nil
}

func closePair(master, slave *os.File) {
	master.Close()
	slave.Close()
}
