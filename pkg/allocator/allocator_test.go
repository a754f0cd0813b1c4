package allocator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"ledger/pkg/account"
)

func never(context.Context, string) (bool, error) { return false, nil }

func sequence(numbers ...string) func() (string, error) {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n := numbers[i%len(numbers)]
		i++
		return n, nil
	}
}

func TestGenerate_Format(t *testing.T) {
	a := New(Config{MaxAttempts: 5})

	for i := 0; i < 500; i++ {
		n, err := a.Generate()
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if !account.ValidNumber(n) {
			t.Fatalf("Generate produced %q, which does not match %s", n, account.NumberPattern)
		}
	}
}

func TestAllocate_FirstFree(t *testing.T) {
	taken := map[string]bool{"111-1111-1111111": true, "222-2222-2222222": true}
	exists := func(_ context.Context, n string) (bool, error) { return taken[n], nil }

	a := New(Config{MaxAttempts: 5}, WithGenerator(sequence(
		"111-1111-1111111", "222-2222-2222222", "333-3333-3333333",
	)))

	got, err := a.Allocate(context.Background(), exists)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if got != "333-3333-3333333" {
		t.Errorf("Allocate = %s, want 333-3333-3333333", got)
	}
}

func TestAllocate_Exhausted(t *testing.T) {
	calls := 0
	exists := func(context.Context, string) (bool, error) {
		calls++
		return true, nil
	}

	a := New(Config{MaxAttempts: 20})
	_, err := a.Allocate(context.Background(), exists)
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("Allocate = %v, want ErrGenerationFailed", err)
	}
	if calls != 20 {
		t.Errorf("exists called %d times, want 20", calls)
	}
}

func TestAllocate_ExistsError(t *testing.T) {
	boom := errors.New("db down")
	a := New(Config{MaxAttempts: 3})

	_, err := a.Allocate(context.Background(), func(context.Context, string) (bool, error) {
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Allocate = %v, want wrapped db error", err)
	}
}

func TestAllocate_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(DefaultConfig()).Allocate(ctx, never)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Allocate = %v, want context.Canceled", err)
	}
}

func TestAllocate_FilterSkipsIssued(t *testing.T) {
	checked := []string{}
	exists := func(_ context.Context, n string) (bool, error) {
		checked = append(checked, n)
		return false, nil
	}

	a := New(Config{MaxAttempts: 5, FilterCapacity: 100, FilterFalsePositiveRate: 0.001},
		WithGenerator(sequence("111-1111-1111111", "222-2222-2222222")))
	a.Remember("111-1111-1111111")

	got, err := a.Allocate(context.Background(), exists)
	if err != nil {
		t.Fatal(err)
	}
	if got != "222-2222-2222222" {
		t.Errorf("Allocate = %s, want the unissued candidate", got)
	}
	if len(checked) != 1 {
		t.Errorf("store checked %v, want only the unissued candidate", checked)
	}

	stats := a.FilterStats()
	if stats.Hits != 1 || stats.Added != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestAllocate_ConcurrentDistinct(t *testing.T) {
	var mu sync.Mutex
	issued := map[string]bool{}

	// Reserve inside the existence check so concurrent callers never see the
	// same number as free.
	reserve := func(_ context.Context, n string) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		if issued[n] {
			return true, nil
		}
		issued[n] = true
		return false, nil
	}

	a := New(DefaultConfig())
	const workers = 50

	var wg sync.WaitGroup
	results := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := a.Allocate(context.Background(), reserve)
			if err != nil {
				t.Errorf("Allocate: %v", err)
				return
			}
			results <- n
		}()
	}
	wg.Wait()
	close(results)

	seen := map[string]bool{}
	for n := range results {
		if seen[n] {
			t.Errorf("number %s allocated twice", n)
		}
		seen[n] = true
	}
	if len(seen) != workers {
		t.Errorf("got %d distinct numbers, want %d", len(seen), workers)
	}
}

func BenchmarkGenerate(b *testing.B) {
	a := New(DefaultConfig())
	for i := 0; i < b.N; i++ {
		if _, err := a.Generate(); err != nil {
			b.Fatal(err)
		}
	}
}

func ExampleAllocator_Allocate() {
	a := New(Config{MaxAttempts: 3}, WithGenerator(sequence("123-4567-1234567")))
	n, _ := a.Allocate(context.Background(), never)
	fmt.Println(n)
	// Output: 123-4567-1234567
}
