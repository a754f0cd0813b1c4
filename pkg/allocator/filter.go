package allocator

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Filter remembers numbers this process has issued. A positive answer may be
// false, a negative one never is; since a hit only discards a candidate, a
// false positive costs one extra attempt and never admits a duplicate.
type Filter struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter

	queries uint64
	hits    uint64
	added   uint64
}

// NewFilter sizes a filter for expectedItems at the given false-positive rate
func NewFilter(expectedItems uint, falsePositiveRate float64) *Filter {
	if expectedItems == 0 {
		expectedItems = 10000
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}
	return &Filter{filter: bloom.NewWithEstimates(expectedItems, falsePositiveRate)}
}

// Issued reports whether number may already have been issued
func (f *Filter) Issued(number string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.filter.TestString(number) {
		f.hits++
		return true
	}
	return false
}

// Add records number as issued
func (f *Filter) Add(number string) {
	f.mu.Lock()
	f.filter.AddString(number)
	f.added++
	f.mu.Unlock()
}

// Stats returns counters since creation
func (f *Filter) Stats() FilterStats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	hitRate := 0.0
	if f.queries > 0 {
		hitRate = float64(f.hits) / float64(f.queries)
	}
	return FilterStats{
		Queries:  f.queries,
		Hits:     f.hits,
		Added:    f.added,
		HitRate:  hitRate,
		Capacity: f.filter.Cap(),
	}
}

// FilterStats holds filter counters
type FilterStats struct {
	Queries  uint64
	Hits     uint64
	Added    uint64
	HitRate  float64
	Capacity uint
}
