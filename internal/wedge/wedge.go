package wedge

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/scanlink/internal/groutine"
	"github.com/srg/scanlink/internal/scanner"
)

const (
	// DefaultTerminator is appended to each payload so line-oriented readers
	// see one scan per line.
	DefaultTerminator = "\n"

	// DefaultHistoryCap is the default wedged-scan history ring size.
	DefaultHistoryCap uint32 = 1024
)

// TransformFunc rewrites a payload before it goes out the PTY. Returning
// keep=false drops the scan entirely (it never reaches the PTY or the
// history). Called from the wedge goroutine, one payload at a time.
type TransformFunc func(payload string) (out string, keep bool)

// Options configures a Wedge.
type Options struct {
	Feed <-chan scanner.Barcode // required: accepted barcode reads, in order

	Terminator  string        // appended to each payload ("" = DefaultTerminator)
	SymlinkPath string        // optional stable path to the tty (e.g. /tmp/scanlink-wedge)
	Transform   TransformFunc // optional payload rewrite/drop

	Logger        *logrus.Logger
	QueueCap      int           // PTY write queue in bytes (0 = DefaultQueueCap)
	HistoryCap    uint32        // history ring size (0 = DefaultHistoryCap)
	PollTimeoutMs int           // PTY poll timeout (0 = DefaultPollTimeoutMs)
	OnError       ErrorCallback // critical PTY failures (optional)
}

// Stats is a point-in-time snapshot of wedge counters.
type Stats struct {
	Port             PortStats
	History          CollectorMetrics
	TransformDropped uint64 // scans dropped by the transform
	HistoryDropped   uint64 // records lost because the history feed was full
}

// Wedge forwards every accepted barcode read onto a PTY and keeps a bounded
// history of what went out, drainable for export even after Close.
type Wedge struct {
	logger     *logrus.Logger
	port       Port
	collector  *Collector
	records    chan ScanRecord
	transform  TransformFunc
	terminator string
	symlink    string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed uint32 // atomic boolean

	transformDropped uint64
	historyDropped   uint64
}

// Open creates the PTY, starts the history collector and begins forwarding
// barcodes from opts.Feed. The caller owns the returned Wedge and must
// Close it.
func Open(opts *Options) (*Wedge, error) {
	if opts == nil {
		return nil, fmt.Errorf("failed to open wedge: options are required")
	}
	if opts.Feed == nil {
		return nil, fmt.Errorf("failed to open wedge: barcode feed is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger
	}

	terminator := opts.Terminator
	if terminator == "" {
		terminator = DefaultTerminator
	}

	historyCap := opts.HistoryCap
	if historyCap == 0 {
		historyCap = DefaultHistoryCap
	}

	port, err := OpenPort(&PortOptions{
		QueueCap:      opts.QueueCap,
		Logger:        opts.Logger,
		OnError:       opts.OnError,
		PollTimeoutMs: opts.PollTimeoutMs,
	})
	if err != nil {
		return nil, err
	}

	onCollectorErr := opts.OnError
	if onCollectorErr == nil {
		onCollectorErr = func(err error) {
			logger.WithError(err).Error("Wedge history collector error")
		}
	}

	records := make(chan ScanRecord, historyCap)
	collector, err := NewCollector(records, historyCap, onCollectorErr)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to create wedge history collector: %w", err)
	}
	if err := collector.Start(); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to start wedge history collector: %w", err)
	}

	symlink := ""
	if opts.SymlinkPath != "" {
		if err := ensureSymlink(opts.SymlinkPath, port.TTYName()); err != nil {
			_ = collector.Stop()
			_ = port.Close()
			return nil, err
		}
		symlink = opts.SymlinkPath
		logger.WithFields(logrus.Fields{
			"ttySymlink": symlink,
			"target":     port.TTYName(),
		}).Info("Created PTY symlink")
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &Wedge{
		logger:     logger,
		port:       port,
		collector:  collector,
		records:    records,
		transform:  opts.Transform,
		terminator: terminator,
		symlink:    symlink,
		ctx:        ctx,
		cancel:     cancel,
	}

	w.wg.Add(1)
	groutine.Go(ctx, "wedge-run-loop", func(ctx context.Context) {
		w.run(opts.Feed)
	})

	logger.WithField("tty", port.TTYName()).Info("Wedge attached to PTY")
	return w, nil
}

func (w *Wedge) run(feed <-chan scanner.Barcode) {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case bc, ok := <-feed:
			if !ok {
				return
			}
			w.emit(bc)
		}
	}
}

// emit pushes one barcode through transform, PTY queue and history.
func (w *Wedge) emit(bc scanner.Barcode) {
	payload := bc.Payload
	if w.transform != nil {
		out, keep := w.transform(payload)
		if !keep {
			atomic.AddUint64(&w.transformDropped, 1)
			w.logger.WithField("id", bc.ID).Debug("Wedge transform dropped barcode")
			return
		}
		payload = out
	}

	if _, err := w.port.Write([]byte(payload + w.terminator)); err != nil {
		w.logger.WithError(err).WithField("id", bc.ID).Warn("Failed to queue barcode for the PTY")
		return
	}

	// History records what was accepted by the port, not what a reader saw.
	select {
	case w.records <- ScanRecord{Payload: payload, At: time.Now()}:
	default:
		atomic.AddUint64(&w.historyDropped, 1)
	}
}

// TTYName returns the tty device path external programs open to read scans.
func (w *Wedge) TTYName() string {
	return w.port.TTYName()
}

// Symlink returns the symlink path, or "" if none was requested.
func (w *Wedge) Symlink() string {
	return w.symlink
}

// Drain returns the wedged-scan history oldest first and empties it. Safe
// to call while running or after Close.
func (w *Wedge) Drain() ([]ScanRecord, error) {
	return w.collector.Drain()
}

// Stats returns instantaneous counters for monitoring.
func (w *Wedge) Stats() Stats {
	return Stats{
		Port:             w.port.Stats(),
		History:          w.collector.GetMetrics(),
		TransformDropped: atomic.LoadUint64(&w.transformDropped),
		HistoryDropped:   atomic.LoadUint64(&w.historyDropped),
	}
}

// Close stops forwarding, flushes queued history records and tears down the
// PTY. Idempotent. The history stays drainable afterwards.
func (w *Wedge) Close() error {
	if !atomic.CompareAndSwapUint32(&w.closed, 0, 1) {
		return nil
	}

	w.cancel()
	w.wg.Wait()

	// Stop moves records still queued on the feed into the history ring, so
	// a Drain after Close sees every wedged scan.
	if err := w.collector.Stop(); err != nil {
		w.logger.WithError(err).Warn("Wedge history collector stop reported an error")
	}

	// Remove tty symlink before closing the PTY (cleanup order matters)
	if w.symlink != "" {
		if err := os.Remove(w.symlink); err != nil {
			w.logger.WithError(err).WithField("ttySymlink", w.symlink).Warn("Failed to remove tty symlink")
		} else {
			w.logger.WithField("ttySymlink", w.symlink).Debug("Removed tty symlink")
		}
	}

	return w.port.Close()
}

// ensureSymlink points path at target, replacing a stale symlink left by a
// previous run. Anything that is not a symlink is never clobbered.
func ensureSymlink(path, target string) error {
	if fi, err := os.Lstat(path); err == nil {
		if fi.Mode()&os.ModeSymlink == 0 {
			return fmt.Errorf("symlink path %s already exists and is not a symlink", path)
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to replace stale symlink %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat symlink path %s: %w", path, err)
	}

	if err := os.Symlink(target, path); err != nil {
		return fmt.Errorf("failed to create tty symlink %s -> %s: %w", path, target, err)
	}
	return nil
}
