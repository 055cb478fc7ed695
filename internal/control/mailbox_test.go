package control

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/signalsfoundry/sky-engine/core"
)

func TestMailboxRunsJobsOnFrame(t *testing.T) {
	c, err := core.Init(320, 240, 1)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer c.Release()

	mb := NewMailbox(4)
	mb.Install(c)

	got := make(chan uint64, 1)
	go func() {
		v, err := Do(context.Background(), mb, func(c *core.Core) (uint64, error) {
			return c.Frame(), nil
		})
		if err != nil {
			t.Errorf("do: %v", err)
		}
		got <- v
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if err := c.Update(0.01); err != nil {
			t.Fatalf("update: %v", err)
		}
		select {
		case v := <-got:
			if v == 0 && c.Frame() == 0 {
				t.Fatalf("job did not run inside a frame")
			}
			return
		default:
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never ran")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestMailboxErrors(t *testing.T) {
	mb := NewMailbox(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := Do(ctx, mb, func(*core.Core) (int, error) { return 1, nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline without frames, got %v", err)
	}

	mb.Close()
	mb.Close()
	if _, err := Do(context.Background(), mb, func(*core.Core) (int, error) { return 1, nil }); !errors.Is(err, ErrMailboxClosed) {
		t.Fatalf("expected ErrMailboxClosed, got %v", err)
	}
}

func TestMailboxCloseFailsQueuedJobs(t *testing.T) {
	mb := NewMailbox(2)
	errc := make(chan error, 1)
	go func() {
		_, err := Do(context.Background(), mb, func(*core.Core) (int, error) { return 1, nil })
		errc <- err
	}()
	deadline := time.Now().Add(5 * time.Second)
	for len(mb.jobs) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("job never queued")
		}
		time.Sleep(time.Millisecond)
	}
	mb.Close()
	if err := <-errc; !errors.Is(err, ErrMailboxClosed) {
		t.Fatalf("expected ErrMailboxClosed, got %v", err)
	}
}

func TestMailboxCloseReleasesBlockedSenders(t *testing.T) {
	for i := 0; i < 100; i++ {
		mb := NewMailbox(1)
		mb.jobs <- job{fn: func(*core.Core) (any, error) { return nil, nil }, done: make(chan result, 1)}

		var ran atomic.Bool
		errc := make(chan error, 1)
		go func() {
			_, err := Do(context.Background(), mb, func(*core.Core) (int, error) {
				ran.Store(true)
				return 1, nil
			})
			errc <- err
		}()
		if i%2 == 0 {
			time.Sleep(time.Millisecond)
		}
		mb.Close()

		select {
		case err := <-errc:
			if !errors.Is(err, ErrMailboxClosed) {
				t.Fatalf("round %d: expected ErrMailboxClosed, got %v", i, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("round %d: sender still blocked after close", i)
		}
		mb.drain(nil)
		if ran.Load() {
			t.Fatalf("round %d: job ran after close", i)
		}
	}
}
