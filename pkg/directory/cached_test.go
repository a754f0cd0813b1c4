package directory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	metricsmemory "ledger/pkg/metrics/memory"
)

// countingDirectory counts calls and can block to force concurrent callers to overlap
type countingDirectory struct {
	inner *Static
	calls atomic.Int64
	gate  chan struct{}
}

func (d *countingDirectory) FindByID(ctx context.Context, id int64) (*Owner, error) {
	d.calls.Add(1)
	if d.gate != nil {
		<-d.gate
	}
	return d.inner.FindByID(ctx, id)
}

func TestStatic(t *testing.T) {
	s := NewStatic(Owner{ID: 1, Name: "kim"})
	ctx := context.Background()

	o, err := s.FindByID(ctx, 1)
	if err != nil || o.Name != "kim" {
		t.Fatalf("FindByID(1) = %+v, %v", o, err)
	}
	if _, err := s.FindByID(ctx, 2); !errors.Is(err, ErrOwnerNotFound) {
		t.Errorf("FindByID(2) = %v, want ErrOwnerNotFound", err)
	}
	s.Put(Owner{ID: 2, Name: "lee"})
	if _, err := s.FindByID(ctx, 2); err != nil {
		t.Errorf("FindByID(2) after Put = %v", err)
	}
}

func TestCached_HitAfterMiss(t *testing.T) {
	inner := &countingDirectory{inner: NewStatic(Owner{ID: 1, Name: "kim"})}
	mc := metricsmemory.NewMemoryCollector()
	c := NewCached(inner, CacheConfig{TTL: time.Minute, NegativeTTL: time.Minute, Metrics: mc})
	defer c.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := c.FindByID(ctx, 1); err != nil {
			t.Fatal(err)
		}
	}

	if got := inner.calls.Load(); got != 1 {
		t.Errorf("inner calls = %d, want 1", got)
	}
	snap := mc.Snapshot()
	if snap.DirectoryHits != 2 || snap.DirectoryMisses != 1 {
		t.Errorf("hits=%d misses=%d", snap.DirectoryHits, snap.DirectoryMisses)
	}
}

func TestCached_NegativeCaching(t *testing.T) {
	inner := &countingDirectory{inner: NewStatic()}
	c := NewCached(inner, CacheConfig{TTL: time.Minute, NegativeTTL: time.Minute})
	defer c.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := c.FindByID(ctx, 9); !errors.Is(err, ErrOwnerNotFound) {
			t.Fatalf("FindByID = %v, want ErrOwnerNotFound", err)
		}
	}
	if got := inner.calls.Load(); got != 1 {
		t.Errorf("inner calls = %d, want 1", got)
	}

	inner.inner.Put(Owner{ID: 9})
	c.Invalidate(9)
	if _, err := c.FindByID(ctx, 9); err != nil {
		t.Errorf("after Invalidate: %v", err)
	}
}

func TestCached_Expiry(t *testing.T) {
	inner := &countingDirectory{inner: NewStatic(Owner{ID: 1})}
	c := NewCached(inner, CacheConfig{TTL: 20 * time.Millisecond, NegativeTTL: 20 * time.Millisecond})
	defer c.Close()

	ctx := context.Background()
	c.FindByID(ctx, 1)
	time.Sleep(40 * time.Millisecond)
	c.FindByID(ctx, 1)

	if got := inner.calls.Load(); got != 2 {
		t.Errorf("inner calls = %d, want 2 after expiry", got)
	}
}

func TestCached_CoalescesConcurrentLookups(t *testing.T) {
	inner := &countingDirectory{inner: NewStatic(Owner{ID: 1}), gate: make(chan struct{})}
	c := NewCached(inner, DefaultCacheConfig())
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.FindByID(context.Background(), 1); err != nil {
				t.Errorf("FindByID: %v", err)
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(inner.gate)
	wg.Wait()

	if got := inner.calls.Load(); got != 1 {
		t.Errorf("inner calls = %d, want 1", got)
	}
}

func TestCached_CancelledCallerDoesNotFailOthers(t *testing.T) {
	inner := &countingDirectory{inner: NewStatic(Owner{ID: 1, Name: "kim"}), gate: make(chan struct{})}
	c := NewCached(inner, DefaultCacheConfig())
	defer c.Close()

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.FindByID(leaderCtx, 1)
		leaderErr <- err
	}()
	for inner.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	type result struct {
		owner *Owner
		err   error
	}
	follower := make(chan result, 1)
	go func() {
		o, err := c.FindByID(context.Background(), 1)
		follower <- result{o, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller err = %v, want context.Canceled", err)
	}

	close(inner.gate)
	res := <-follower
	if res.err != nil {
		t.Fatalf("live caller err = %v", res.err)
	}
	if res.owner.Name != "kim" {
		t.Errorf("owner = %+v", res.owner)
	}
	if got := inner.calls.Load(); got != 1 {
		t.Errorf("inner calls = %d, want 1", got)
	}
}

func TestCached_MaxEntries(t *testing.T) {
	inner := NewStatic(Owner{ID: 1}, Owner{ID: 2}, Owner{ID: 3})
	c := NewCached(inner, CacheConfig{TTL: time.Minute, NegativeTTL: time.Minute, MaxEntries: 2})
	defer c.Close()

	ctx := context.Background()
	for id := int64(1); id <= 3; id++ {
		if _, err := c.FindByID(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	if pos, _ := c.Len(); pos != 2 {
		t.Errorf("positive entries = %d, want 2", pos)
	}
}
