package loader

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPollBeforeAndAfterCompletion(t *testing.T) {
	release := make(chan struct{})
	f := Go(context.Background(), nil, func(context.Context) (int, error) {
		<-release
		return 42, nil
	})
	if _, done, _ := f.Poll(); done {
		t.Fatalf("future completed before release")
	}
	close(release)
	v, err := f.Wait(context.Background())
	if err != nil || v != 42 {
		t.Fatalf("wait = %d, %v", v, err)
	}
	if v, done, err := f.Poll(); !done || v != 42 || err != nil {
		t.Fatalf("poll = %d, %v, %v", v, done, err)
	}
}

func TestCancelStopsLoad(t *testing.T) {
	f := Go(context.Background(), nil, func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	f.Cancel()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := f.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPoolLimitsConcurrency(t *testing.T) {
	p := NewPool(2)
	var running, peak atomic.Int32
	release := make(chan struct{})
	var futures []*Future[int]
	for i := 0; i < 5; i++ {
		futures = append(futures, Go(context.Background(), p, func(context.Context) (int, error) {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return 1, nil
		}))
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	for _, f := range futures {
		if _, err := f.Wait(context.Background()); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	if peak.Load() > 2 {
		t.Fatalf("peak concurrency %d exceeds pool size", peak.Load())
	}
}

func TestPanicBecomesError(t *testing.T) {
	f := Go(context.Background(), nil, func(context.Context) (int, error) {
		panic("bad tile")
	})
	if _, err := f.Wait(context.Background()); err == nil {
		t.Fatalf("expected error from panicking load")
	}
	if _, done, _ := Ready(3).Poll(); !done {
		t.Fatalf("ready future not done")
	}
}
