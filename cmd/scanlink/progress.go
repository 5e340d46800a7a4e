package main

import (
	"fmt"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter renders a single updating terminal line while a command
// waits on the scanner: the fixed prefix, the current phase and either the
// elapsed or the remaining seconds.
//
// Usage:
//
//	p := NewProgressPrinter("Pairing", "Connecting", "Running", "Failed")
//	p.Start()
//	defer p.Stop()
//
// A printer is single-use: Start at most once, and always Stop it, or the
// update goroutine leaks. Phases listed as stop phases shut the printer
// down on their own when they arrive through Callback.
type ProgressPrinter struct {
	prefix     string
	stopPhases map[string]struct{}

	phase     atomic.Value // current phase name
	startTime time.Time
	countdown time.Duration // 0 means count up

	ticker   atomic.Pointer[time.Ticker]
	started  atomic.Bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewProgressPrinter creates a printer that counts up, showing elapsed
// seconds next to the phase.
func NewProgressPrinter(prefix, phase string, stopPhases ...string) *ProgressPrinter {
	return newPrinter(prefix, phase, 0, stopPhases)
}

// NewCountdownProgressPrinter creates a printer that counts down from
// duration, showing the seconds left next to the phase.
func NewCountdownProgressPrinter(prefix, phase string, duration time.Duration, stopPhases ...string) *ProgressPrinter {
	return newPrinter(prefix, phase, duration, stopPhases)
}

func newPrinter(prefix, phase string, countdown time.Duration, stopPhases []string) *ProgressPrinter {
	stopSet := make(map[string]struct{}, len(stopPhases))
	for _, p := range stopPhases {
		stopSet[p] = struct{}{}
	}
	p := &ProgressPrinter{
		prefix:     prefix,
		stopPhases: stopSet,
		countdown:  countdown,
	}
	p.phase.Store(phase)
	return p
}

// Start prints the first progress line and begins updating it in the
// background. It panics when called twice: a printer cannot restart.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}

	p.startTime = time.Now()
	p.stopChan = make(chan struct{})
	p.done = make(chan struct{})
	ticker := time.NewTicker(progressUpdateInterval)
	p.ticker.Store(ticker)

	fmt.Printf("\r%s (%s...)   ", p.prefix, p.phase.Load().(string))

	go p.loop(ticker)
}

func (p *ProgressPrinter) loop(ticker *time.Ticker) {
	defer close(p.done)
	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			phase := p.phase.Load().(string)
			if _, stop := p.stopPhases[phase]; stop {
				return
			}
			p.print(phase, p.seconds())
		}
	}
}

// seconds is the number to show next to the phase: elapsed when counting
// up, remaining (never below zero, rounded to the nearest second) when
// counting down.
func (p *ProgressPrinter) seconds() int {
	elapsed := time.Since(p.startTime)
	if p.countdown == 0 {
		return int(elapsed.Seconds())
	}
	remaining := p.countdown - elapsed
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Seconds() + 0.5)
}

func (p *ProgressPrinter) print(phase string, seconds int) {
	if seconds > 0 {
		fmt.Printf("\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Printf("\r%s (%s...)   ", p.prefix, phase)
	}
}

// Callback returns a phase-change function suitable for the companion
// runner. A stop phase stops the printer immediately; any other phase just
// replaces the displayed one. Safe from any goroutine.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, stop := p.stopPhases[phase]; stop {
			p.Stop()
		}
	}
}

// Stop halts the updates, waits for the update goroutine and clears the
// progress line. Extra calls are no-ops.
func (p *ProgressPrinter) Stop() {
	ticker := p.ticker.Swap(nil)
	if ticker == nil {
		return // already stopped
	}

	ticker.Stop()
	close(p.stopChan)
	<-p.done

	fmt.Print(clearLineSequence)
}
