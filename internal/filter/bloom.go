package filter

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// BloomFilter wraps the bloom filter with thread-safety. It fronts the
// duplicate-subpart check; the database unique index stays authoritative.
type BloomFilter struct {
	filter *bloom.BloomFilter
	mu     sync.RWMutex
}

// NewBloomFilter creates a new Bloom filter with specified capacity and false positive rate
func NewBloomFilter(capacity uint, fpRate float64) *BloomFilter {
	return &BloomFilter{
		filter: bloom.NewWithEstimates(capacity, fpRate),
	}
}

// Add adds a subpart to the Bloom filter
func (bf *BloomFilter) Add(subpart string) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	bf.filter.AddString(subpart)
}

// Test checks if a subpart might exist in the Bloom filter
// Returns true if the subpart might exist (with possible false positives)
// Returns false if the subpart definitely does not exist
func (bf *BloomFilter) Test(subpart string) bool {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.filter.TestString(subpart)
}

// AddBatch adds multiple subparts to the Bloom filter
func (bf *BloomFilter) AddBatch(subparts []string) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	for _, subpart := range subparts {
		bf.filter.AddString(subpart)
	}
}

// Clear clears the Bloom filter
func (bf *BloomFilter) Clear() {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	bf.filter.ClearAll()
}
