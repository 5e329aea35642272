// Package replay provides the bounded training-sample store.
//
// The buffer is three flat float32 arrays written by a single ring
// cursor. Everything happens under one mutex: writers memcpy a tuple in,
// readers copy a uniformly-sampled batch out into caller buffers, so no
// slice ever escapes the lock.
package replay

import (
	"math/rand"
	"sync"
)

// Buffer is a bounded ring of (observation, distribution, value) tuples.
type Buffer struct {
	mu sync.Mutex

	obsSize int
	polSize int
	cap     int

	obs    []float32
	dist   []float32
	value  []float32
	cursor int
	total  int64

	rng *rand.Rand
}

// New allocates a buffer for capacity tuples of the given widths.
func New(obsSize, polSize, capacity int, rng *rand.Rand) *Buffer {
	return &Buffer{
		obsSize: obsSize,
		polSize: polSize,
		cap:     capacity,
		obs:     make([]float32, capacity*obsSize),
		dist:    make([]float32, capacity*polSize),
		value:   make([]float32, capacity),
		rng:     rng,
	}
}

// Size is the buffer capacity in tuples.
func (b *Buffer) Size() int { return b.cap }

// Count is the total number of tuples ever added since the last Clear.
func (b *Buffer) Count() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Add copies one tuple in, overwriting the oldest entry once full.
func (b *Buffer) Add(obs, dist []float32, value float32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	copy(b.obs[b.cursor*b.obsSize:], obs[:b.obsSize])
	copy(b.dist[b.cursor*b.polSize:], dist[:b.polSize])
	b.value[b.cursor] = value

	b.cursor = (b.cursor + 1) % b.cap
	b.total++
}

// SampleBatch fills the destination buffers with n tuples drawn
// uniformly with replacement from the current contents. Until the ring
// has wrapped, only the filled prefix is sampled.
func (b *Buffer) SampleBatch(n int, dstObs, dstDist, dstValue []float32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	filled := b.cap
	if b.total < int64(b.cap) {
		filled = int(b.total)
	}
	if filled == 0 {
		return
	}

	for i := 0; i < n; i++ {
		src := b.rng.Intn(filled)
		copy(dstObs[i*b.obsSize:(i+1)*b.obsSize], b.obs[src*b.obsSize:])
		copy(dstDist[i*b.polSize:(i+1)*b.polSize], b.dist[src*b.polSize:])
		dstValue[i] = b.value[src]
	}
}

// Clear empties the buffer and rewinds the cursor.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cursor = 0
	b.total = 0
}
