package host

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingPoller struct {
	polls atomic.Int64
	busy  atomic.Bool
	race  atomic.Bool
}

func (p *countingPoller) Poll() int {
	if !p.busy.CompareAndSwap(false, true) {
		p.race.Store(true)
	}
	p.polls.Add(1)
	p.busy.Store(false)
	return 2
}

func TestLoopPollsUntilCancelled(t *testing.T) {
	p := &countingPoller{}
	l := New(p, Config{Poll: time.Millisecond, Jitter: time.Millisecond}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want deadline exceeded", err)
	}
	if l.Wakes() == 0 || l.Wakes() != p.polls.Load() {
		t.Fatalf("Wakes() = %d, polls = %d", l.Wakes(), p.polls.Load())
	}
	if l.Events() != 2*l.Wakes() {
		t.Fatalf("Events() = %d, want %d", l.Events(), 2*l.Wakes())
	}
}

func TestDoRunsOnLoop(t *testing.T) {
	p := &countingPoller{}
	l := New(p, Config{Poll: time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	for i := 0; i < 20; i++ {
		ran := false
		err := l.Do(ctx, func() {
			// Commands never overlap a poll.
			if p.busy.Load() {
				t.Error("command ran during a poll")
			}
			ran = true
		})
		if err != nil {
			t.Fatalf("Do() error = %v", err)
		}
		if !ran {
			t.Fatal("Do() returned before the command ran")
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want canceled", err)
	}
	if p.race.Load() {
		t.Fatal("polls overlapped")
	}
}

func TestDoAfterCancel(t *testing.T) {
	l := New(&countingPoller{}, DefaultConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Do(ctx, func() {}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() error = %v, want canceled", err)
	}
}
