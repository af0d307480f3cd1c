package audio

import "sync/atomic"

// DefaultRingCapacity holds about 4.4 minutes of 16 kHz mono audio.
const DefaultRingCapacity = 1 << 22

// Ring is a lock-free single-producer single-consumer ring buffer of
// float32 samples.
//
// The producer is the real-time audio callback: [Ring.Write] never blocks
// and never allocates. When the buffer is full the incoming samples are
// truncated, so under overload the newest audio is lost while everything
// already buffered stays intact. The consumer is the pipeline goroutine,
// draining through [Ring.Read].
//
// Exactly one goroutine may write and exactly one may read. The write index
// is published with a release store and observed with an acquire load (and
// symmetrically for the read index), which is what sync/atomic provides.
type Ring struct {
	buf     []float32
	mask    uint64
	head    atomic.Uint64 // next write position, owned by producer
	tail    atomic.Uint64 // next read position, owned by consumer
	dropped atomic.Uint64
}

// NewRing creates a ring holding capacity samples. capacity is rounded up
// to the next power of two; values <= 0 select [DefaultRingCapacity].
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	n := 1
	for n < capacity {
		n <<= 1
	}
	return &Ring{
		buf:  make([]float32, n),
		mask: uint64(n - 1),
	}
}

// Cap returns the ring capacity in samples.
func (r *Ring) Cap() int { return len(r.buf) }

// Len returns the number of buffered samples. Approximate while the
// producer and consumer are concurrently active.
func (r *Ring) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Write appends samples, truncating to available space. It returns the
// number of samples written; the remainder is counted as dropped. Safe to
// call from a real-time callback: no locks, no allocation, no blocking.
func (r *Ring) Write(samples []float32) int {
	head := r.head.Load()
	tail := r.tail.Load()
	free := uint64(len(r.buf)) - (head - tail)

	n := uint64(len(samples))
	if n > free {
		r.dropped.Add(n - free)
		n = free
	}
	for i := uint64(0); i < n; i++ {
		r.buf[(head+i)&r.mask] = samples[i]
	}
	r.head.Store(head + n)
	return int(n)
}

// Read copies up to len(dst) buffered samples into dst and returns the
// number copied. Returns 0 immediately when the ring is empty.
func (r *Ring) Read(dst []float32) int {
	tail := r.tail.Load()
	head := r.head.Load()
	avail := head - tail

	n := uint64(len(dst))
	if n > avail {
		n = avail
	}
	for i := uint64(0); i < n; i++ {
		dst[i] = r.buf[(tail+i)&r.mask]
	}
	r.tail.Store(tail + n)
	return int(n)
}

// Dropped returns the total number of samples lost to overflow.
func (r *Ring) Dropped() uint64 {
	return r.dropped.Load()
}
