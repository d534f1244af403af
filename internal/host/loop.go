// Package host runs the cooperative loop that wakes the scheduler. Wake-ups
// are deliberately imprecise; the scheduler absorbs the jitter.
package host

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"
)

// Poller is woken by the loop.
type Poller interface {
	Poll() int
}

// Config sets the wake-up cadence.
type Config struct {
	Poll   time.Duration
	Jitter time.Duration // random extra delay added to each wake-up
}

// DefaultConfig wakes about once per display frame.
func DefaultConfig() Config {
	return Config{Poll: 16 * time.Millisecond}
}

// Loop owns the goroutine the scheduler runs on. Other goroutines reach the
// scheduler only through Do.
type Loop struct {
	poller Poller
	cfg    Config
	log    *slog.Logger
	cmds   chan func()
	wakes  atomic.Int64
	events atomic.Int64
}

// New returns a Loop for p.
func New(p Poller, cfg Config, log *slog.Logger) *Loop {
	if cfg.Poll <= 0 {
		cfg.Poll = DefaultConfig().Poll
	}
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		poller: p,
		cfg:    cfg,
		log:    log,
		cmds:   make(chan func()),
	}
}

func (l *Loop) next() time.Duration {
	d := l.cfg.Poll
	if l.cfg.Jitter > 0 {
		d += time.Duration(rand.Int64N(int64(l.cfg.Jitter)))
	}
	return d
}

// Run wakes the poller until ctx is done, running queued commands in
// between. It returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	l.log.Debug("host loop running", "poll", l.cfg.Poll, "jitter", l.cfg.Jitter)
	timer := time.NewTimer(l.next())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			l.log.Debug("host loop done", "wakes", l.wakes.Load())
			return ctx.Err()
		case fn := <-l.cmds:
			fn()
		case <-timer.C:
			l.wakes.Add(1)
			l.events.Add(int64(l.poller.Poll()))
			timer.Reset(l.next())
		}
	}
}

// Do runs fn on the loop goroutine and waits for it. It must not be called
// from the loop goroutine itself.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case l.cmds <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wakes returns how many times the poller has been woken.
func (l *Loop) Wakes() int64 { return l.wakes.Load() }

// Events returns the total number of events reported by the poller.
func (l *Loop) Events() int64 { return l.events.Load() }
