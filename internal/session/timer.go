package session

import (
	"context"
	"sync"
	"time"

	"github.com/srg/scanlink/internal/groutine"
)

// DefaultPairingValidity is how long a pairing image stays scannable
// before the scanner rejects it.
const DefaultPairingValidity = 60 * time.Second

// PairingTimer counts down the validity window of the current pairing
// image. The Controller owns exactly one timer per session: Reset re-arms
// it when a fresh image arrives, Stop halts it when pairing ends. Remaining
// floors at zero and is safe for concurrent reads.
type PairingTimer struct {
	validity time.Duration
	tick     time.Duration

	mu        sync.Mutex
	remaining time.Duration
	stop      chan struct{} // non-nil while the countdown runs
	done      chan struct{}
}

// NewPairingTimer creates a stopped timer. A validity of 0 or less means
// DefaultPairingValidity.
func NewPairingTimer(validity time.Duration) *PairingTimer {
	if validity <= 0 {
		validity = DefaultPairingValidity
	}
	return &PairingTimer{validity: validity, tick: time.Second}
}

// Reset arms the countdown for a fresh pairing image, replacing any
// running one.
func (t *PairingTimer) Reset() {
	t.Stop()

	t.mu.Lock()
	t.remaining = t.validity
	stop := make(chan struct{})
	done := make(chan struct{})
	t.stop, t.done = stop, done
	t.mu.Unlock()

	groutine.Go(nil, "pairing-countdown", func(ctx context.Context) {
		t.run(stop, done)
	})
}

func (t *PairingTimer) run(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.mu.Lock()
			t.remaining -= t.tick
			if t.remaining <= 0 {
				t.remaining = 0
				if t.stop != nil {
					// expired on its own; a later Stop has nothing to close
					t.stop = nil
				}
				t.mu.Unlock()
				return
			}
			t.mu.Unlock()
		}
	}
}

// Stop halts the countdown and waits for its goroutine to exit. Stopping
// an idle or expired timer is a no-op.
func (t *PairingTimer) Stop() {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop = nil
	t.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Remaining reports how much of the validity window is left. It reads 0
// before the first Reset and after expiry.
func (t *PairingTimer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}
