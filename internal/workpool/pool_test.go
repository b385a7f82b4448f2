package workpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCallReturnsResult(t *testing.T) {
	p := New(2)

	got, err := Call(context.Background(), p, func() int { return 42 })
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestConcurrencyIsBounded(t *testing.T) {
	p := New(2)

	var (
		current atomic.Int64
		peak    atomic.Int64
		wg      sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Do(context.Background(), func() {
				n := current.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				current.Add(-1)
			})
		}()
	}
	wg.Wait()

	if peak.Load() > 2 {
		t.Fatalf("expected at most 2 concurrent jobs, saw %d", peak.Load())
	}
}

func TestSaturatedPoolHonorsContext(t *testing.T) {
	p := New(1)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), func() {
			close(started)
			<-release
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Do(ctx, func() { t.Error("job should not run") })
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	close(release)
}

func TestClosedPoolRejects(t *testing.T) {
	p := New(1)
	p.Close()

	if err := p.Do(context.Background(), func() {}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	var nilPool *Pool
	if err := nilPool.Do(context.Background(), func() {}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for nil pool, got %v", err)
	}
}

func TestDefaultSize(t *testing.T) {
	if New(0).Size() <= 0 {
		t.Fatal("expected positive default size")
	}
}
