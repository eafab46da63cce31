// Package scheduler runs a dispatch cycle on a fixed cadence. At most one
// loop is active per Poller and cycles never overlap.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type Poller struct {
	interval time.Duration
	cycle    func(context.Context)
	log      zerolog.Logger

	running atomic.Bool
	cycles  atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(interval time.Duration, cycle func(context.Context), log zerolog.Logger) (*Poller, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if cycle == nil {
		return nil, errors.New("cycle must not be nil")
	}
	return &Poller{
		interval: interval,
		cycle:    cycle,
		log:      log.With().Str("component", "poller").Logger(),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the loop and runs one cycle immediately. It returns false
// when a loop is already active.
func (p *Poller) Start() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running.Store(true)

	go p.loop(ctx, p.done)

	return true
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Info().Dur("interval", p.interval).Msg("poller started")

	p.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("poller stopping")
			return
		case <-ticker.C:
			p.runCycle(ctx)
		}
	}
}

// Stop cancels the loop and waits for an in-flight cycle to return.
func (p *Poller) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running.Load() {
		return false
	}

	p.cancel()
	<-p.done
	p.running.Store(false)

	p.log.Info().Uint64("cycles", p.cycles.Load()).Msg("poller stopped")
	return true
}

func (p *Poller) IsRunning() bool {
	return p.running.Load()
}

func (p *Poller) Cycles() uint64 {
	return p.cycles.Load()
}

func (p *Poller) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("dispatch cycle panic recovered")
		}
	}()

	start := time.Now()
	p.cycles.Add(1)
	p.cycle(ctx)
	p.log.Debug().Int64("duration_ms", time.Since(start).Milliseconds()).Msg("dispatch cycle completed")
}
